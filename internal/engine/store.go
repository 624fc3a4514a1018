/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_tv/internal/models"
)

// Store is the engine's view of persisted channel state. The engine reads
// the whole picture every tick and writes back only small side effects.
type Store interface {
	Settings(ctx context.Context) (*models.Settings, error)
	ScheduleEntries(ctx context.Context) ([]models.ScheduleEntry, error)
	Playlist(ctx context.Context, id string) (*models.Playlist, error)
	UpdateSettings(ctx context.Context, fields map[string]any) error
	UpdateScheduleStart(ctx context.Context, entryID, startTime string) error
	MediaByFilename(ctx context.Context, filename string) (*models.MediaItem, error)
}

// GormStore implements Store on the shared gorm connection.
type GormStore struct {
	DB *gorm.DB
}

// Settings loads the singleton settings row.
func (s *GormStore) Settings(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	if err := s.DB.WithContext(ctx).First(&settings).Error; err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return &settings, nil
}

// ScheduleEntries loads all schedule entries.
func (s *GormStore) ScheduleEntries(ctx context.Context) ([]models.ScheduleEntry, error) {
	var entries []models.ScheduleEntry
	if err := s.DB.WithContext(ctx).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	return entries, nil
}

// Playlist loads one playlist by id.
func (s *GormStore) Playlist(ctx context.Context, id string) (*models.Playlist, error) {
	var pl models.Playlist
	err := s.DB.WithContext(ctx).First(&pl, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load playlist %s: %w", id, err)
	}
	return &pl, nil
}

// UpdateSettings applies a partial update to the settings row.
func (s *GormStore) UpdateSettings(ctx context.Context, fields map[string]any) error {
	return s.DB.WithContext(ctx).Model(&models.Settings{}).Where("id = ?", true).Updates(fields).Error
}

// UpdateScheduleStart persists a shifted start time for one entry.
func (s *GormStore) UpdateScheduleStart(ctx context.Context, entryID, startTime string) error {
	return s.DB.WithContext(ctx).
		Model(&models.ScheduleEntry{}).
		Where("id = ?", entryID).
		Update("start_time", startTime).Error
}

// MediaByFilename looks up a media item, best effort.
func (s *GormStore) MediaByFilename(ctx context.Context, filename string) (*models.MediaItem, error) {
	var item models.MediaItem
	err := s.DB.WithContext(ctx).First(&item, "filename = ?", filename).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
