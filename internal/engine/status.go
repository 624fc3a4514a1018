/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/distribution"
	"github.com/friendsincode/grimnir_tv/internal/logbuffer"
	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/friendsincode/grimnir_tv/internal/schedule"
)

// StreamStatus is the operator-facing state of one distribution protocol.
type StreamStatus struct {
	Protocol string `json:"protocol"`
	Enabled  bool   `json:"enabled"`
	Running  bool   `json:"running"`
	URL      string `json:"url,omitempty"`
}

// ClipInfo is the wire shape of a clip in the status payload.
type ClipInfo struct {
	ID       string  `json:"id,omitempty"`
	Filename string  `json:"filename"`
	Duration float64 `json:"duration"`
}

// Status is the full channel status returned by the control API.
type Status struct {
	Enabled       bool                 `json:"enabled"`
	OnAir         bool                 `json:"on_air"`
	UptimeSeconds float64              `json:"uptime_seconds"`
	IdleReason    string               `json:"idle_reason,omitempty"`
	Current       *ClipInfo            `json:"current_clip,omitempty"`
	Offset        float64              `json:"offset_seconds,omitempty"`
	Remaining     float64              `json:"remaining_seconds,omitempty"`
	Source        string               `json:"schedule_source,omitempty"`
	Upcoming      []ClipInfo           `json:"next_clips"`
	Protocols     []StreamStatus       `json:"protocols"`
	Viewers       int                  `json:"viewers"`
	Previews      int                  `json:"previews"`
	ClipsPlayed   int                  `json:"clips_played_today"`
	LastError     string               `json:"last_error,omitempty"`
	Logs          []logbuffer.LogEntry `json:"logs"`
}

// statusProtocols is the display order of the protocol list.
var statusProtocols = []string{
	models.ProtocolRTMP, models.ProtocolSRT, models.ProtocolUDP,
	models.ProtocolHLS, models.ProtocolDASH, models.ProtocolMSS,
	models.ProtocolRIST, models.ProtocolRTSP, models.ProtocolWebRTC,
	models.ProtocolLLHLS,
}

// Status assembles the channel status. host is the public hostname display
// URLs should point at, usually taken from the request.
func (e *Engine) Status(ctx context.Context, host string) (*Status, error) {
	settings, err := e.store.Settings(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	current := e.current
	onAirSince := e.onAirSince
	idleReason := e.idleReason
	e.mu.Unlock()

	viewers, previews := e.tracker.Counts()
	display := settings.DisplayURLs(host)

	st := &Status{
		Enabled:     settings.IsRunning,
		OnAir:       !onAirSince.IsZero() && e.controller.Alive(),
		IdleReason:  idleReason,
		Upcoming:    make([]ClipInfo, 0, len(current.Upcoming)),
		Protocols:   make([]StreamStatus, 0, len(statusProtocols)),
		Viewers:     viewers,
		Previews:    previews,
		ClipsPlayed: settings.ClipsPlayedToday,
		Logs:        e.logbuf.Tail(50),
	}
	if settings.LastError != nil {
		st.LastError = *settings.LastError
	}
	if !onAirSince.IsZero() {
		st.UptimeSeconds = time.Since(onAirSince).Seconds()
	}
	if current.Clip.Filename != "" || current.Clip.Path != "" {
		st.Current = clipInfo(current.Clip)
		st.Offset = current.Offset
		st.Remaining = current.Remaining
		st.Source = current.Source
	}
	for _, clip := range current.Upcoming {
		st.Upcoming = append(st.Upcoming, *clipInfo(clip))
	}

	for _, key := range statusProtocols {
		ps := StreamStatus{
			Protocol: key,
			Enabled:  settings.ProtocolEnabled(key),
		}
		if url, ok := display[displayKey(key)]; ok {
			ps.URL = url
		}
		if isRelayProtocol(key) {
			ps.Running = e.dist.Running(key)
		} else {
			// Derived protocols ride on the encoder output; they are live
			// whenever the encoder is and the flag is on.
			ps.Running = ps.Enabled && e.controller.Alive()
		}
		st.Protocols = append(st.Protocols, ps)
	}

	return st, nil
}

func clipInfo(c models.Clip) *ClipInfo {
	name := c.Filename
	if name == "" {
		name = filepath.Base(c.Path)
	}
	return &ClipInfo{ID: c.ID, Filename: name, Duration: c.EffectiveDuration()}
}

func displayKey(protocol string) string {
	switch protocol {
	case models.ProtocolRTMP:
		return "RTMP"
	case models.ProtocolSRT:
		return "SRT"
	case models.ProtocolUDP:
		return "UDP"
	case models.ProtocolHLS:
		return "HLS"
	default:
		return ""
	}
}

func isRelayProtocol(key string) bool {
	for _, relay := range distribution.RelayProtocols {
		if relay == key {
			return true
		}
	}
	return false
}

// DebugReport is a point-in-time diagnosis of why playout may be silent.
type DebugReport struct {
	Now               time.Time `json:"now"`
	ChannelEnabled    bool      `json:"channel_enabled"`
	EncoderAlive      bool      `json:"encoder_alive"`
	ScheduleEntries   int       `json:"schedule_entries"`
	ActiveEntryID     string    `json:"active_entry_id,omitempty"`
	ActiveSource      string    `json:"active_source,omitempty"`
	PlaylistFound     bool      `json:"playlist_found"`
	ClipCount         int       `json:"clip_count"`
	CursorIndex       int       `json:"cursor_index"`
	CursorOffset      float64   `json:"cursor_offset"`
	EndOfPlaylist     bool      `json:"end_of_playlist"`
	MissingMedia      []string  `json:"missing_media,omitempty"`
	OverlayConfigured bool      `json:"overlay_configured"`
	OverlayMissing    bool      `json:"overlay_missing"`
	Problems          []string  `json:"problems"`
}

// Debug walks the resolve pipeline step by step and reports what it found.
func (e *Engine) Debug(ctx context.Context) (*DebugReport, error) {
	now := time.Now()
	report := &DebugReport{Now: now, CursorIndex: -1, EncoderAlive: e.controller.Alive()}

	settings, err := e.store.Settings(ctx)
	if err != nil {
		return nil, err
	}
	report.ChannelEnabled = settings.IsRunning
	if !settings.IsRunning {
		report.Problems = append(report.Problems, "channel is stopped")
	}

	report.OverlayConfigured = settings.OverlayEnabled && settings.LogoPath != nil && *settings.LogoPath != ""
	if report.OverlayConfigured {
		if _, err := os.Stat(*settings.LogoPath); err != nil {
			report.OverlayMissing = true
			report.Problems = append(report.Problems, "overlay image not found: "+*settings.LogoPath)
		}
	}

	entries, err := e.store.ScheduleEntries(ctx)
	if err != nil {
		return nil, err
	}
	report.ScheduleEntries = len(entries)
	if len(entries) == 0 {
		report.Problems = append(report.Problems, "schedule is empty")
		return report, nil
	}

	res := schedule.Resolve(entries, now)
	if res == nil {
		report.Problems = append(report.Problems, "no schedule entry covers the current time")
		return report, nil
	}
	report.ActiveEntryID = res.EntryID
	report.ActiveSource = res.Source

	pl, err := e.store.Playlist(ctx, res.PlaylistID)
	if err != nil {
		return nil, err
	}
	if pl == nil {
		report.Problems = append(report.Problems, "scheduled playlist does not exist: "+res.PlaylistID)
		return report, nil
	}
	report.PlaylistFound = true

	clips := pl.Clips()
	report.ClipCount = len(clips)
	if len(clips) == 0 {
		report.Problems = append(report.Problems, "playlist has no clips")
		return report, nil
	}

	for _, clip := range clips {
		path := clip.Path
		if path == "" {
			continue
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(e.cfg.MediaDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			report.MissingMedia = append(report.MissingMedia, clip.Path)
		}
	}
	if len(report.MissingMedia) > 0 {
		report.Problems = append(report.Problems, "media files missing on disk")
	}

	cur, err := schedule.Locate(clips, res.StartTime, now)
	if err != nil {
		report.EndOfPlaylist = true
		report.Problems = append(report.Problems, "playlist already finished for this airing")
		return report, nil
	}
	report.CursorIndex = cur.Index
	report.CursorOffset = cur.Offset

	if len(report.Problems) == 0 {
		report.Problems = append(report.Problems, "none")
	}
	return report, nil
}
