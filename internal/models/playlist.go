/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"encoding/json"
	"time"
)

// Clip is a single program item inside a playlist.
type Clip struct {
	ID        string         `json:"id"`
	Filename  string         `json:"filename"`
	Path      string         `json:"path"`
	Duration  float64        `json:"duration"`
	In        float64        `json:"in"`
	Out       float64        `json:"out"`
	StartTime string         `json:"start_time"`
	EndTime   string         `json:"end_time"`
	MediaType string         `json:"media_type"`
	Metadata  map[string]any `json:"metadata"`
	IsFiller  bool           `json:"is_filler"`
}

// Playlist stores an ordered program as a JSON document. Historical rows hold
// a bare array of clips; newer rows wrap it as {"program":[...]}. Clips
// normalizes both shapes once at the model boundary.
type Playlist struct {
	ID            string          `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string          `gorm:"index" json:"name"`
	Date          *string         `gorm:"type:varchar(10)" json:"date"`
	Content       json.RawMessage `gorm:"type:jsonb" json:"content"`
	TotalDuration float64         `json:"total_duration"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type playlistContent struct {
	Program []rawClip `json:"program"`
}

// rawClip tolerates the loose typing of stored documents: ids may be numbers,
// durations may be strings. Anything unparseable becomes a zero value.
type rawClip struct {
	ID        json.RawMessage `json:"id"`
	Filename  string          `json:"filename"`
	Path      string          `json:"path"`
	Duration  looseNumber     `json:"duration"`
	In        looseNumber     `json:"in"`
	Out       looseNumber     `json:"out"`
	StartTime string          `json:"start_time"`
	EndTime   string          `json:"end_time"`
	MediaType string          `json:"media_type"`
	Metadata  map[string]any  `json:"metadata"`
	IsFiller  bool            `json:"is_filler"`
}

// Clips parses the stored content into the ordered clip list. Malformed
// documents yield an empty list rather than an error; individual missing
// fields default to zero values.
func (p *Playlist) Clips() []Clip {
	if len(p.Content) == 0 {
		return nil
	}

	var raw []rawClip
	if err := json.Unmarshal(p.Content, &raw); err != nil {
		var wrapped playlistContent
		if err := json.Unmarshal(p.Content, &wrapped); err != nil {
			return nil
		}
		raw = wrapped.Program
	}

	clips := make([]Clip, 0, len(raw))
	for _, rc := range raw {
		clips = append(clips, Clip{
			ID:        decodeID(rc.ID),
			Filename:  rc.Filename,
			Path:      rc.Path,
			Duration:  float64(rc.Duration),
			In:        float64(rc.In),
			Out:       float64(rc.Out),
			StartTime: rc.StartTime,
			EndTime:   rc.EndTime,
			MediaType: rc.MediaType,
			Metadata:  rc.Metadata,
			IsFiller:  rc.IsFiller,
		})
	}
	return clips
}

// EffectiveDuration is the playable length of the clip, honoring in/out trims.
func (c *Clip) EffectiveDuration() float64 {
	if c.Out > c.In && c.Out > 0 {
		return c.Out - c.In
	}
	return c.Duration
}

func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// looseNumber accepts a JSON number, a quoted number, or null; anything else
// decodes as zero instead of failing the surrounding clip.
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = looseNumber(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		var num json.Number = json.Number(s)
		if f, err := num.Float64(); err == nil {
			*n = looseNumber(f)
		}
		return nil
	}
	*n = 0
	return nil
}
