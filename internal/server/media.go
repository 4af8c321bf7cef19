package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ferrite-media/ferrite/internal/database"
)

// registerCoreRoutes mounts the catalog and progress endpoints that do not
// belong to any one module.
func (s *Server) registerCoreRoutes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	{
		// Search shares the collection route (?q=) because the router cannot
		// mix a static /search segment with the :id wildcard.
		api.GET("/media", s.handleListMedia)
		api.GET("/media/:id", s.handleGetMedia)

		api.GET("/shows", s.handleListShows)
		api.GET("/shows/:id", s.handleGetShow)
		api.GET("/seasons/:id/episodes", s.handleListEpisodes)

		api.GET("/progress/:userId/:mediaId", s.handleGetProgress)
		api.PUT("/progress/:userId/:mediaId", s.handlePutProgress)

		api.GET("/events/ws", s.handleEventsWS)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListMedia(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	if query := c.Query("q"); query != "" {
		items, err := database.SearchMediaItems(s.db, query, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
		return
	}

	q := s.db.Model(&database.MediaItem{})
	if lib := c.Query("library_id"); lib != "" {
		q = q.Where("library_id = ?", lib)
	}
	if kind := c.Query("kind"); kind != "" {
		q = q.Where("kind = ?", kind)
	}

	var total int64
	q.Count(&total)
	var items []database.MediaItem
	if err := q.Order("title ASC").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list media"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

func (s *Server) handleGetMedia(c *gin.Context) {
	var item database.MediaItem
	err := s.db.Preload("Streams").Preload("Subtitles").First(&item, c.Param("id")).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "media item not found"})
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) handleListShows(c *gin.Context) {
	q := s.db.Model(&database.Show{})
	if lib := c.Query("library_id"); lib != "" {
		q = q.Where("library_id = ?", lib)
	}
	var shows []database.Show
	if err := q.Order("title ASC").Find(&shows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list shows"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"shows": shows})
}

func (s *Server) handleGetShow(c *gin.Context) {
	var show database.Show
	if err := s.db.Preload("Seasons").First(&show, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "show not found"})
		return
	}
	c.JSON(http.StatusOK, show)
}

func (s *Server) handleListEpisodes(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid season id"})
		return
	}
	episodes, err := database.ListEpisodes(s.db, uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list episodes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"episodes": episodes})
}

func (s *Server) handleGetProgress(c *gin.Context) {
	var p database.PlaybackProgress
	err := s.db.Where("user_id = ? AND media_item_id = ?",
		c.Param("userId"), c.Param("mediaId")).First(&p).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no progress recorded"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handlePutProgress(c *gin.Context) {
	userID, err1 := strconv.ParseUint(c.Param("userId"), 10, 32)
	mediaID, err2 := strconv.ParseUint(c.Param("mediaId"), 10, 32)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		PositionMs int64 `json:"position_ms"`
		Completed  bool  `json:"completed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var p database.PlaybackProgress
	err := s.db.Where("user_id = ? AND media_item_id = ?", userID, mediaID).First(&p).Error
	if err != nil {
		p = database.PlaybackProgress{UserID: uint(userID), MediaItemID: uint(mediaID)}
	}
	p.PositionMs = req.PositionMs
	p.LastPlayedAt = time.Now()
	if req.Completed && !p.Completed {
		p.PlayCount++
	}
	p.Completed = req.Completed

	if err := s.db.Save(&p).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save progress"})
		return
	}
	c.JSON(http.StatusOK, p)
}
