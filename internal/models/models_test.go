/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "testing"

func strptr(s string) *string { return &s }

func TestProtocolEnabledLegacyFallback(t *testing.T) {
	s := Settings{OutputType: "rtmp", OutputURL: "rtmp://mediamtx:1935/live/stream"}

	if !s.ProtocolEnabled(ProtocolRTMP) {
		t.Error("legacy output_type=rtmp should enable rtmp")
	}
	if s.ProtocolEnabled(ProtocolSRT) {
		t.Error("srt should stay disabled")
	}

	// Any dedicated relay flag disables the legacy fallback.
	s.SRTEnabled = true
	if s.ProtocolEnabled(ProtocolRTMP) {
		t.Error("legacy fallback should be ignored once per-protocol flags are used")
	}
}

func TestProtocolURLFallback(t *testing.T) {
	s := Settings{
		OutputType:    "srt",
		OutputURL:     "srt://legacy:8890",
		RTMPOutputURL: strptr("rtmp://dest/live"),
	}

	if got := s.ProtocolURL(ProtocolRTMP); got != "rtmp://dest/live" {
		t.Errorf("rtmp url = %q", got)
	}
	if got := s.ProtocolURL(ProtocolSRT); got != "srt://legacy:8890" {
		t.Errorf("srt url should fall back to legacy output_url, got %q", got)
	}
	if got := s.ProtocolURL(ProtocolUDP); got != "" {
		t.Errorf("udp url = %q, want empty", got)
	}
}

func TestDisplayURLs(t *testing.T) {
	s := Settings{
		RTMPOutputURL: strptr("rtmp://mediamtx:1935/live/stream"),
		SRTOutputURL:  strptr("srt://mediamtx:8890?mode=caller&streamid=publish:live/stream"),
		UDPOutputURL:  strptr("udp://@:1234"),
	}

	urls := s.DisplayURLs("tv.example.org")

	if urls["RTMP"] != "rtmp://tv.example.org:1935/live/stream" {
		t.Errorf("RTMP = %q", urls["RTMP"])
	}
	if urls["SRT"] != "srt://tv.example.org:8890?mode=caller&streamid=read:live/stream" {
		t.Errorf("SRT = %q", urls["SRT"])
	}
	if urls["UDP"] != "udp://@tv.example.org:1234" {
		t.Errorf("UDP = %q", urls["UDP"])
	}
	if urls["MASTER"] != "Internal System Feed" {
		t.Errorf("MASTER = %q", urls["MASTER"])
	}
}

func TestScheduleEntryClockTime(t *testing.T) {
	tests := []struct {
		name  string
		start *string
		want  float64
	}{
		{"nil means midnight", nil, 0},
		{"evening slot", strptr("18:30:00"), 66600},
		{"fractional seconds", strptr("00:00:30.5"), 30.5},
		{"malformed", strptr("6pm"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ScheduleEntry{StartTime: tt.start}
			if got := e.ClockTime(); got != tt.want {
				t.Errorf("ClockTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduleEntryExcluded(t *testing.T) {
	e := ScheduleEntry{ExceptionDates: []string{"2024-03-18", "2024-03-25"}}
	if !e.Excluded("2024-03-18") {
		t.Error("2024-03-18 should be excluded")
	}
	if e.Excluded("2024-03-19") {
		t.Error("2024-03-19 should not be excluded")
	}
}

func TestScheduleEntryRepeat(t *testing.T) {
	weekly := "Weekly"
	tests := []struct {
		name    string
		pattern *string
		want    string
	}{
		{"nil", nil, RepeatNone},
		{"empty", strptr(""), RepeatNone},
		{"case folded", &weekly, RepeatWeekly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ScheduleEntry{RepeatPattern: tt.pattern}
			if got := e.Repeat(); got != tt.want {
				t.Errorf("Repeat() = %q, want %q", got, tt.want)
			}
		})
	}
}
