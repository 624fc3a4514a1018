/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"strings"
	"time"
)

// Protocol keys understood by the distribution manager.
const (
	ProtocolRTMP   = "rtmp"
	ProtocolSRT    = "srt"
	ProtocolUDP    = "udp"
	ProtocolHLS    = "hls"
	ProtocolDASH   = "dash"
	ProtocolMSS    = "mss"
	ProtocolRIST   = "rist"
	ProtocolRTSP   = "rtsp"
	ProtocolWebRTC = "webrtc"
	ProtocolLLHLS  = "llhls"
)

// Settings is the single-row channel configuration the engine reads every tick.
type Settings struct {
	ID           bool   `gorm:"primaryKey" json:"id"`
	OutputType   string `gorm:"type:varchar(16)" json:"output_type"`
	OutputURL    string `json:"output_url"`
	Resolution   string `gorm:"type:varchar(16)" json:"resolution"`
	FPS          string `gorm:"type:varchar(8)" json:"fps"`
	VideoBitrate string `gorm:"type:varchar(16)" json:"video_bitrate"`
	AudioBitrate string `gorm:"type:varchar(16)" json:"audio_bitrate"`
	VideoCodec   string `gorm:"type:varchar(16)" json:"video_codec"`
	AudioCodec   string `gorm:"type:varchar(16)" json:"audio_codec"`

	MediaPath   string  `json:"media_path"`
	ChannelName *string `json:"channel_name"`

	// Logo overlay
	OverlayEnabled bool     `json:"overlay_enabled"`
	LogoPath       *string  `json:"logo_path"`
	OverlayOpacity *float64 `json:"overlay_opacity"`
	OverlayScale   *float64 `json:"overlay_scale"`
	OverlayAnchor  *string  `gorm:"type:varchar(16)" json:"overlay_anchor"`

	// Engine state persisted across restarts
	IsRunning        bool    `json:"is_running"`
	LastError        *string `json:"last_error"`
	ClipsPlayedToday int     `json:"clips_played_today"`

	// Per-protocol distribution outputs
	RTMPEnabled   bool    `json:"rtmp_enabled"`
	HLSEnabled    bool    `json:"hls_enabled"`
	SRTEnabled    bool    `json:"srt_enabled"`
	UDPEnabled    bool    `json:"udp_enabled"`
	DASHEnabled   bool    `json:"dash_enabled"`
	MSSEnabled    bool    `json:"mss_enabled"`
	RISTEnabled   bool    `json:"rist_enabled"`
	RTSPEnabled   bool    `json:"rtsp_enabled"`
	WebRTCEnabled bool    `json:"webrtc_enabled"`
	LLHLSEnabled  bool    `json:"llhls_enabled"`
	RTMPOutputURL *string `json:"rtmp_output_url"`
	SRTOutputURL  *string `json:"srt_output_url"`
	UDPOutputURL  *string `json:"udp_output_url"`
	DASHOutputURL *string `json:"dash_output_url"`
	MSSOutputURL  *string `json:"mss_output_url"`
	RISTOutputURL *string `json:"rist_output_url"`
	SRTMode       *string `gorm:"type:varchar(16)" json:"srt_mode"`
	UDPMode       *string `gorm:"type:varchar(16)" json:"udp_mode"`

	AutoStartProtocols bool `json:"auto_start_protocols"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ProtocolEnabled reports whether the given relay protocol is switched on.
// When the per-protocol flags are all off, the legacy output_type field still
// enables its single protocol so older channel rows keep distributing.
func (s *Settings) ProtocolEnabled(key string) bool {
	switch key {
	case ProtocolRTMP:
		if s.RTMPEnabled {
			return true
		}
	case ProtocolSRT:
		if s.SRTEnabled {
			return true
		}
	case ProtocolUDP:
		if s.UDPEnabled {
			return true
		}
	case ProtocolHLS:
		return s.HLSEnabled
	case ProtocolDASH:
		return s.DASHEnabled
	case ProtocolMSS:
		return s.MSSEnabled
	case ProtocolRIST:
		return s.RISTEnabled
	case ProtocolRTSP:
		return s.RTSPEnabled
	case ProtocolWebRTC:
		return s.WebRTCEnabled
	case ProtocolLLHLS:
		return s.LLHLSEnabled
	default:
		return false
	}
	return !s.anyRelayEnabled() && strings.EqualFold(s.OutputType, key) && s.OutputURL != ""
}

func (s *Settings) anyRelayEnabled() bool {
	return s.RTMPEnabled || s.SRTEnabled || s.UDPEnabled
}

// ProtocolURL returns the configured output URL for a relay protocol,
// falling back to the legacy output_url when the dedicated column is empty.
func (s *Settings) ProtocolURL(key string) string {
	var dedicated *string
	switch key {
	case ProtocolRTMP:
		dedicated = s.RTMPOutputURL
	case ProtocolSRT:
		dedicated = s.SRTOutputURL
	case ProtocolUDP:
		dedicated = s.UDPOutputURL
	case ProtocolDASH:
		dedicated = s.DASHOutputURL
	case ProtocolMSS:
		dedicated = s.MSSOutputURL
	case ProtocolRIST:
		dedicated = s.RISTOutputURL
	default:
		return ""
	}
	if dedicated != nil && *dedicated != "" {
		return *dedicated
	}
	if strings.EqualFold(s.OutputType, key) {
		return s.OutputURL
	}
	return ""
}

// DisplayURLs derives operator-facing URLs for each protocol, substituting the
// internal media server hostname with the public host.
func (s *Settings) DisplayURLs(host string) map[string]string {
	urls := make(map[string]string)

	rtmp := "rtmp://localhost:1935/live/stream"
	if s.RTMPOutputURL != nil && *s.RTMPOutputURL != "" {
		rtmp = *s.RTMPOutputURL
	}
	urls["RTMP"] = publicize(rtmp, host)

	srt := "srt://localhost:8890?mode=caller&streamid=read:live/stream"
	if s.SRTOutputURL != nil && *s.SRTOutputURL != "" {
		srt = *s.SRTOutputURL
	}
	srt = publicize(srt, host)
	switch {
	case strings.Contains(srt, "streamid=publish"):
		srt = strings.Replace(srt, "streamid=publish", "streamid=read", 1)
	case !strings.Contains(srt, "streamid="):
		srt += "&streamid=read:live/stream"
	}
	urls["SRT"] = srt

	udp := "udp://@:1234"
	if s.UDPOutputURL != nil && *s.UDPOutputURL != "" {
		udp = *s.UDPOutputURL
	}
	if strings.Contains(udp, "@") {
		udp = strings.ReplaceAll(udp, "@:", "@"+host+":")
		udp = strings.ReplaceAll(udp, "@localhost:", "@"+host+":")
		udp = strings.ReplaceAll(udp, "@127.0.0.1:", "@"+host+":")
	} else {
		udp = publicize(udp, host)
	}
	urls["UDP"] = udp

	urls["HLS"] = fmt.Sprintf("http://%s:8181/hls/stream.m3u8", host)
	urls["MASTER"] = "Internal System Feed"

	return urls
}

func publicize(url, host string) string {
	url = strings.ReplaceAll(url, "mediamtx", host)
	url = strings.ReplaceAll(url, "127.0.0.1", host)
	return strings.ReplaceAll(url, "localhost", host)
}

// RepeatPattern enumerates schedule recurrence modes.
const (
	RepeatNone   = "none"
	RepeatDaily  = "daily"
	RepeatWeekly = "weekly"
)

// ScheduleEntry binds a playlist to an air date with an optional recurrence.
type ScheduleEntry struct {
	ID             string   `gorm:"type:uuid;primaryKey" json:"id"`
	PlaylistID     string   `gorm:"type:uuid;index" json:"playlist_id"`
	Date           string   `gorm:"type:varchar(10);index" json:"date"`        // YYYY-MM-DD
	StartTime      *string  `gorm:"type:varchar(8)" json:"start_time"`         // HH:MM:SS, nil means midnight
	RepeatPattern  *string  `gorm:"type:varchar(16)" json:"repeat_pattern"`    // none, daily, weekly
	ExceptionDates []string `gorm:"serializer:json" json:"exception_dates"`    // suppressed occurrence dates
	PlaylistName   *string  `json:"playlist_name"`

	CreatedAt time.Time `json:"created_at"`
}

// Repeat returns the normalized recurrence mode.
func (e *ScheduleEntry) Repeat() string {
	if e.RepeatPattern == nil || *e.RepeatPattern == "" {
		return RepeatNone
	}
	return strings.ToLower(*e.RepeatPattern)
}

// AnchorDate parses the entry's air date.
func (e *ScheduleEntry) AnchorDate(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", e.Date, loc)
}

// ClockTime parses the entry's start time-of-day as seconds since midnight.
// A missing or malformed start time means midnight.
func (e *ScheduleEntry) ClockTime() float64 {
	if e.StartTime == nil {
		return 0
	}
	parts := strings.Split(*e.StartTime, ":")
	if len(parts) != 3 {
		return 0
	}
	var h, m int
	var sec float64
	if _, err := fmt.Sscanf(*e.StartTime, "%d:%d:%g", &h, &m, &sec); err != nil {
		return 0
	}
	return float64(h*3600+m*60) + sec
}

// Excluded reports whether date (YYYY-MM-DD) is in the entry's exception list.
func (e *ScheduleEntry) Excluded(date string) bool {
	for _, d := range e.ExceptionDates {
		if d == date {
			return true
		}
	}
	return false
}

// MediaItem is a video asset known to the library.
type MediaItem struct {
	ID       string  `gorm:"type:uuid;primaryKey" json:"id"`
	Filename string  `gorm:"index" json:"filename"`
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Codec    string  `gorm:"type:varchar(32)" json:"codec"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
