package playbackmodule

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ferrite-media/ferrite/internal/database"
)

// RegisterRoutes mounts the playback endpoints. Media-scoped routes live
// under /media/:id, session-scoped ones under /hls/:session; the two trees
// cannot share a level because of router wildcard rules.
func (m *Manager) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/playback")
	{
		media := api.Group("/media/:id")
		{
			media.GET("/plan", m.handlePlan)
			media.GET("/stream", m.handleStream)
			media.GET("/keyframe", m.handleKeyframe)
			media.GET("/hls/master.m3u8", m.handleHLSMaster)
		}

		hls := api.Group("/hls/:session")
		{
			hls.GET("/:height/playlist.m3u8", m.handleHLSVariant)
			hls.GET("/:height/init.mp4", m.handleHLSInit)
			hls.GET("/:height/:segment", m.handleHLSSegment)
			hls.POST("/seek", m.handleHLSSeek)
			hls.DELETE("", m.handleHLSDelete)
		}
	}
}

func (m *Manager) loadItem(c *gin.Context) (*database.MediaItem, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid media id"})
		return nil, false
	}
	item, err := m.item(uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "media item not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load media item"})
		return nil, false
	}
	return item, true
}

// handlePlan returns the playback decision for a (file, device) pair.
func (m *Manager) handlePlan(c *gin.Context) {
	item, ok := m.loadItem(c)
	if !ok {
		return
	}
	plan := BuildPlan(PlanRequest{
		Item:          item,
		Profile:       ProfileFor(c.Query("profile")),
		BurnSubtitles: c.Query("burn_subtitles") == "true",
	})
	c.JSON(http.StatusOK, plan)
}

// handleStream serves the file progressively: direct play gets range
// serving, everything else a piped encoder run.
func (m *Manager) handleStream(c *gin.Context) {
	item, ok := m.loadItem(c)
	if !ok {
		return
	}
	profile := ProfileFor(c.Query("profile"))
	seek, _ := strconv.ParseFloat(c.Query("start"), 64)
	audioStream, _ := strconv.Atoi(c.DefaultQuery("audio_stream", "0"))

	// A burned-in subtitle forces a full transcode: the filter draws on the
	// decoded frames.
	var burnPath string
	if raw := c.Query("subtitle_id"); raw != "" {
		var sub database.ExternalSubtitle
		if err := m.db.Where("id = ? AND media_item_id = ?", raw, item.ID).First(&sub).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "subtitle not found"})
			return
		}
		burnPath = sub.Path
	}

	plan := BuildPlan(PlanRequest{Item: item, Profile: profile, BurnSubtitles: burnPath != ""})
	if plan.Decision == DecisionDirectPlay && seek <= 0 {
		ServeDirect(c.Writer, c.Request, item.Path, item.DurationMs)
		return
	}
	if plan.Decision == DecisionDirectPlay {
		// Seeking a direct-playable file still goes through the remuxer so
		// the response starts at the requested position.
		plan.Decision = DecisionRemux
	}

	if !m.transcoder.AcquireSlot(c.Request.Context()) {
		c.Header("Retry-After", strconv.Itoa(m.cfg.Transcode.QueueWaitSecs))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "all transcode slots busy"})
		return
	}
	defer m.transcoder.ReleaseSlot()

	actual := m.snapSeek(c.Request.Context(), item.Path, seek, plan.Decision)
	req := PipeRequest{
		Item:         item,
		Video:        m.videoStream(item.ID),
		Decision:     plan.Decision,
		SeekSecs:     actual,
		Encoder:      m.detector.Pick(c.Request.Context()),
		AudioStream:  audioStream,
		BurnSubtitle: burnPath,
	}
	if err := m.transcoder.Stream(c.Writer, c.Request, req); err != nil {
		m.log.Error("pipe stream failed", "media", item.ID, "error", err)
	}
}

// handleKeyframe returns the nearest keyframe at or before a time offset.
func (m *Manager) handleKeyframe(c *gin.Context) {
	item, ok := m.loadItem(c)
	if !ok {
		return
	}
	target, err := strconv.ParseFloat(c.Query("time"), 64)
	if err != nil || target < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time"})
		return
	}
	kf, found := m.oracle.NearestBefore(c.Request.Context(), item.Path, target)
	c.JSON(http.StatusOK, gin.H{"requested": target, "keyframe": kf, "found": found})
}

// handleHLSMaster creates (or rejoins) the caller's session and returns the
// master playlist. The x-hls-start-secs header pre-positions the first
// variant so playback after a seek needs no extra round trip.
func (m *Manager) handleHLSMaster(c *gin.Context) {
	item, ok := m.loadItem(c)
	if !ok {
		return
	}
	playbackSession := c.Query("playback_session")
	if playbackSession == "" {
		playbackSession = c.ClientIP()
	}

	session, err := m.hls.GetOrCreate(c.Request.Context(), item, m.videoStream(item.ID), playbackSession)
	if errors.Is(err, ErrSessionBusy) {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	session.Touch()

	// Pre-position the top variant when the client joins mid-file. The
	// response header reports the segment-aligned offset actually used so
	// the player can line its playhead up.
	actualStart := 0.0
	if secs, err := strconv.ParseFloat(c.Query("start"), 64); err == nil && secs > 0 {
		segNum, err := session.SeekTo(c.Request.Context(), session.heights[0], secs)
		switch {
		case errors.Is(err, ErrEncoderBusy):
			m.hlsError(c, err, http.StatusServiceUnavailable)
			return
		case err != nil:
			m.log.Warn("start positioning failed", "session", session.ID, "error", err)
		default:
			actualStart = float64(segNum * m.cfg.Transcode.HLSSegmentDuration)
		}
	}

	// Variant URIs in the master are relative, so they must resolve against
	// the session-scoped path, not this media-scoped one. Redirecting would
	// cost a round trip; rewriting here keeps the id visible to the client.
	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.Header("X-Session-ID", session.ID)
	c.Header("x-hls-start-secs", strconv.FormatFloat(actualStart, 'f', 3, 64))
	base := "/api/playback/hls/" + session.ID
	c.String(http.StatusOK, RewriteVariantPlaylist(session.MasterPlaylist(), base, c.Request.URL.RawQuery))
}

// hlsError maps a session error to a response. A saturated encoder pool is
// a retryable 503, anything else uses the handler's fallback status.
func (m *Manager) hlsError(c *gin.Context, err error, fallback int) {
	if errors.Is(err, ErrEncoderBusy) {
		c.Header("Retry-After", strconv.Itoa(m.cfg.Transcode.QueueWaitSecs))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(fallback, gin.H{"error": err.Error()})
}

func (m *Manager) session(c *gin.Context) (*Session, bool) {
	s, ok := m.hls.Get(c.Param("session"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	s.Touch()
	return s, true
}

func parseHeight(c *gin.Context) (int, bool) {
	h, err := strconv.Atoi(c.Param("height"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid variant height"})
		return 0, false
	}
	return h, true
}

func (m *Manager) handleHLSVariant(c *gin.Context) {
	s, ok := m.session(c)
	if !ok {
		return
	}
	height, ok := parseHeight(c)
	if !ok {
		return
	}
	base := "/api/playback/hls/" + s.ID + "/" + c.Param("height")
	playlist, err := s.VariantPlaylist(c.Request.Context(), height, base, c.Request.URL.RawQuery)
	if err != nil {
		m.hlsError(c, err, http.StatusNotFound)
		return
	}
	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.String(http.StatusOK, playlist)
}

func (m *Manager) handleHLSInit(c *gin.Context) {
	s, ok := m.session(c)
	if !ok {
		return
	}
	height, ok := parseHeight(c)
	if !ok {
		return
	}
	path, err := s.ServeInit(c.Request.Context(), height)
	if err != nil {
		m.hlsError(c, err, http.StatusGatewayTimeout)
		return
	}
	c.Header("Content-Type", m.segmentMime())
	c.Header("Cache-Control", "max-age=3600")
	c.File(path)
}

func (m *Manager) handleHLSSegment(c *gin.Context) {
	s, ok := m.session(c)
	if !ok {
		return
	}
	height, ok := parseHeight(c)
	if !ok {
		return
	}
	path, err := s.ServeSegment(c.Request.Context(), height, c.Param("segment"))
	if err != nil {
		m.hlsError(c, err, http.StatusGatewayTimeout)
		return
	}
	c.Header("Content-Type", m.segmentMime())
	c.Header("Cache-Control", "max-age=3600")
	c.File(path)
}

// handleHLSSeek tears the session down and replaces it with a fresh one
// positioned at the requested offset, so no stale segments from the old
// timeline survive. Returns the new session id and master URL.
func (m *Manager) handleHLSSeek(c *gin.Context) {
	old, ok := m.session(c)
	if !ok {
		return
	}
	secs, err := strconv.ParseFloat(c.Query("start"), 64)
	if err != nil || secs < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start"})
		return
	}

	s, err := m.hls.Recreate(c.Request.Context(), old.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	segNum, err := s.SeekTo(c.Request.Context(), s.heights[0], secs)
	if err != nil {
		m.hlsError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": s.ID,
		"master_url": fmt.Sprintf("/api/playback/media/%d/hls/master.m3u8", s.MediaID),
		"segment":    segNum,
		"start":      float64(segNum * m.cfg.Transcode.HLSSegmentDuration),
	})
}

func (m *Manager) handleHLSDelete(c *gin.Context) {
	if !m.hls.Destroy(c.Param("session")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// segmentMime honors the configured segment MIME mode; some players demand
// the iso-segment type.
func (m *Manager) segmentMime() string {
	if m.cfg.Transcode.HLSSegmentMimeMode == "video-iso-segment" {
		return "video/iso.segment"
	}
	return "video/mp4"
}
