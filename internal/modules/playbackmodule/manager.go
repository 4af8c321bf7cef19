package playbackmodule

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/ferrite-media/ferrite/internal/config"
	"github.com/ferrite-media/ferrite/internal/database"
	"github.com/ferrite-media/ferrite/internal/events"
	"github.com/ferrite-media/ferrite/internal/logger"
	"github.com/ferrite-media/ferrite/internal/mediafile"
)

// Manager bundles the playback subsystem: planning, pipe transcoding, HLS
// sessions and keyframe lookups.
type Manager struct {
	db         *gorm.DB
	cfg        *config.Config
	detector   *HardwareDetector
	transcoder *Transcoder
	hls        *HLSManager
	oracle     *mediafile.KeyframeOracle
	log        hclog.Logger
}

// NewManager wires the playback stack.
func NewManager(db *gorm.DB, cfg *config.Config, bus *events.Bus) *Manager {
	detector := NewHardwareDetector(cfg.Transcode.FFmpegPath, cfg.Transcode.HWAccel)
	transcoder := NewTranscoder(
		cfg.Transcode.FFmpegPath,
		detector,
		cfg.Transcode.MaxConcurrentTranscodes,
		time.Duration(cfg.Transcode.QueueWaitSecs)*time.Second,
	)
	return &Manager{
		db:         db,
		cfg:        cfg,
		detector:   detector,
		transcoder: transcoder,
		hls: NewHLSManager(
			cfg.Transcode.FFmpegPath,
			cfg.HLSDir(),
			cfg.Transcode.HLSSegmentDuration,
			cfg.Transcode.HLSSessionTimeoutSecs,
			cfg.Transcode.HLSFFmpegIdleSecs,
			detector,
			transcoder,
			bus,
		),
		oracle: mediafile.NewKeyframeOracle(cfg.Transcode.FFprobePath),
		log:    logger.Named("playback"),
	}
}

// Start launches the HLS idle sweeper.
func (m *Manager) Start() { m.hls.Start() }

// Shutdown tears down every live session and stops background work.
func (m *Manager) Shutdown() { m.hls.Shutdown() }

// HLS exposes the session manager.
func (m *Manager) HLS() *HLSManager { return m.hls }

// item loads a media item by id.
func (m *Manager) item(id uint) (*database.MediaItem, error) {
	var it database.MediaItem
	if err := m.db.First(&it, id).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// videoStream reconstructs the probe-level video stream record from the
// catalog, for tone-map and ladder decisions.
func (m *Manager) videoStream(itemID uint) *mediafile.Stream {
	var row database.MediaStream
	err := m.db.Where("media_item_id = ? AND type = ?", itemID, "video").
		Order("stream_index ASC").First(&row).Error
	if err != nil {
		return nil
	}
	return &mediafile.Stream{
		Index:          row.StreamIndex,
		Type:           row.Type,
		Codec:          row.Codec,
		Profile:        row.Profile,
		Width:          row.Width,
		Height:         row.Height,
		FrameRate:      row.FrameRate,
		PixelFormat:    row.PixelFormat,
		BitDepth:       row.BitDepth,
		ColorSpace:     row.ColorSpace,
		ColorTransfer:  row.ColorTransfer,
		ColorPrimaries: row.ColorPrimaries,
	}
}

// snapSeek aligns a seek target to the nearest keyframe at or before it for
// stream-copy playback. Re-encoded video seeks exactly, no snap needed.
func (m *Manager) snapSeek(ctx context.Context, path string, seek float64, decision Decision) float64 {
	if seek <= 0 || decision == DecisionFullTranscode {
		return seek
	}
	if kf, ok := m.oracle.NearestBefore(ctx, path, seek); ok {
		return kf
	}
	return seek
}
