package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertMediaItem inserts or updates a media item keyed by its file path.
// Technical columns are only overwritten when the incoming snapshot carries
// them, so a failed probe never wipes a previous good one.
func UpsertMediaItem(tx *gorm.DB, item *MediaItem) error {
	var existing MediaItem
	err := tx.Where("path = ?", item.Path).First(&existing).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		return tx.Create(item).Error
	case err != nil:
		return err
	}

	item.ID = existing.ID
	item.CreatedAt = existing.CreatedAt
	updates := map[string]interface{}{
		"size":  item.Size,
		"kind":  item.Kind,
		"title": item.Title,
		"year":  item.Year,
	}
	if item.Container != "" {
		updates["container"] = item.Container
		updates["duration_ms"] = item.DurationMs
		updates["bitrate_kbps"] = item.BitrateKbps
		updates["width"] = item.Width
		updates["height"] = item.Height
		updates["video_codec"] = item.VideoCodec
		updates["audio_codec"] = item.AudioCodec
		updates["chapters"] = item.Chapters
	}
	return tx.Model(&MediaItem{}).Where("id = ?", item.ID).Updates(updates).Error
}

// ReplaceStreams atomically swaps the stream set of a media item. Must run
// inside the caller's transaction.
func ReplaceStreams(tx *gorm.DB, mediaItemID uint, streams []MediaStream) error {
	if err := tx.Where("media_item_id = ?", mediaItemID).Delete(&MediaStream{}).Error; err != nil {
		return err
	}
	if len(streams) == 0 {
		return nil
	}
	for i := range streams {
		streams[i].ID = 0
		streams[i].MediaItemID = mediaItemID
	}
	return tx.Create(&streams).Error
}

// UpsertMovieSkeleton inserts the enrichment row for a newly discovered
// movie. INSERT OR IGNORE semantics: an existing row, enriched or not, is
// left untouched.
func UpsertMovieSkeleton(tx *gorm.DB, mediaItemID uint, title string, year int) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "media_item_id"}},
		DoNothing: true,
	}).Create(&Movie{MediaItemID: mediaItemID, Title: title, Year: year}).Error
}

// UpsertSubtitle inserts or refreshes an external subtitle row keyed by path.
func UpsertSubtitle(tx *gorm.DB, sub *ExternalSubtitle) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		UpdateAll: true,
	}).Create(sub).Error
}

// CountMediaItems returns the number of media items in a library.
func CountMediaItems(db *gorm.DB, libraryID uint) (int64, error) {
	var n int64
	err := db.Model(&MediaItem{}).Where("library_id = ?", libraryID).Count(&n).Error
	return n, err
}

// ListEpisodes returns the episodes of a season ordered by episode number.
func ListEpisodes(db *gorm.DB, seasonID uint) ([]Episode, error) {
	var eps []Episode
	err := db.Where("season_id = ?", seasonID).Order("number ASC").Find(&eps).Error
	return eps, err
}

// SearchMediaItems matches items whose title contains the query,
// case-insensitively. Backed by the indexed title column.
func SearchMediaItems(db *gorm.DB, query string, limit int) ([]MediaItem, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []MediaItem
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	err := db.Where("LOWER(title) LIKE ?", pattern).Limit(limit).Find(&items).Error
	return items, err
}

// DeleteEmptySeasonsAndShows removes seasons with no episodes and shows with
// no seasons, library-wide. Called at the end of every scan.
func DeleteEmptySeasonsAndShows(tx *gorm.DB, libraryID uint) error {
	if err := tx.Exec(`DELETE FROM seasons WHERE show_id IN (SELECT id FROM shows WHERE library_id = ?)
		AND id NOT IN (SELECT DISTINCT season_id FROM episodes)`, libraryID).Error; err != nil {
		return fmt.Errorf("failed to delete empty seasons: %w", err)
	}
	if err := tx.Exec(`DELETE FROM shows WHERE library_id = ?
		AND id NOT IN (SELECT DISTINCT show_id FROM seasons WHERE show_id IS NOT NULL)`, libraryID).Error; err != nil {
		return fmt.Errorf("failed to delete empty shows: %w", err)
	}
	return nil
}

// DeleteLibrary removes a library and everything it owns. Relies on the
// cascade constraints declared on the models.
func DeleteLibrary(db *gorm.DB, libraryID uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var itemIDs []uint
		if err := tx.Model(&MediaItem{}).Where("library_id = ?", libraryID).Pluck("id", &itemIDs).Error; err != nil {
			return err
		}
		if len(itemIDs) > 0 {
			if err := tx.Where("media_item_id IN ?", itemIDs).Delete(&Episode{}).Error; err != nil {
				return err
			}
			if err := tx.Where("media_item_id IN ?", itemIDs).Delete(&Movie{}).Error; err != nil {
				return err
			}
			if err := tx.Where("media_item_id IN ?", itemIDs).Delete(&PlaybackProgress{}).Error; err != nil {
				return err
			}
			if err := tx.Where("media_item_id IN ?", itemIDs).Delete(&MediaStream{}).Error; err != nil {
				return err
			}
			if err := tx.Where("media_item_id IN ?", itemIDs).Delete(&ExternalSubtitle{}).Error; err != nil {
				return err
			}
		}
		var showIDs []uint
		if err := tx.Model(&Show{}).Where("library_id = ?", libraryID).Pluck("id", &showIDs).Error; err != nil {
			return err
		}
		if len(showIDs) > 0 {
			if err := tx.Where("show_id IN ?", showIDs).Delete(&Episode{}).Error; err != nil {
				return err
			}
			if err := tx.Where("show_id IN ?", showIDs).Delete(&Season{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", showIDs).Delete(&Show{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("library_id = ?", libraryID).Delete(&MediaItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Library{}, libraryID).Error
	})
}
