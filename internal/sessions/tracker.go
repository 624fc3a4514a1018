/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sessions counts the channel's audience from HLS request activity.
// A viewer is a session id seen within the viewer window; dashboard preview
// players are tracked separately by IP with a longer window so operators
// checking the feed do not inflate viewer numbers.
package sessions

import (
	"sync"
	"time"
)

// Tracker keeps last-seen timestamps for viewer sessions and preview IPs.
type Tracker struct {
	mu            sync.Mutex
	viewers       map[string]time.Time
	previews      map[string]time.Time
	viewerWindow  time.Duration
	previewWindow time.Duration

	now func() time.Time
}

// New creates a tracker with the given activity windows.
func New(viewerWindow, previewWindow time.Duration) *Tracker {
	if viewerWindow <= 0 {
		viewerWindow = 15 * time.Second
	}
	if previewWindow <= 0 {
		previewWindow = 60 * time.Second
	}
	return &Tracker{
		viewers:       make(map[string]time.Time),
		previews:      make(map[string]time.Time),
		viewerWindow:  viewerWindow,
		previewWindow: previewWindow,
		now:           time.Now,
	}
}

// MarkViewer records activity for a viewer session.
func (t *Tracker) MarkViewer(sessionID string) {
	if sessionID == "" {
		return
	}
	t.mu.Lock()
	t.viewers[sessionID] = t.now()
	t.mu.Unlock()
}

// MarkPreview records activity for a dashboard preview IP.
func (t *Tracker) MarkPreview(ip string) {
	if ip == "" {
		return
	}
	t.mu.Lock()
	t.previews[ip] = t.now()
	t.mu.Unlock()
}

// Counts returns the number of viewers and previews inside their windows.
func (t *Tracker) Counts() (viewers, previews int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, seen := range t.viewers {
		if now.Sub(seen) <= t.viewerWindow {
			viewers++
		}
	}
	for _, seen := range t.previews {
		if now.Sub(seen) <= t.previewWindow {
			previews++
		}
	}
	return viewers, previews
}

// Prune drops entries that have fallen out of their windows. Called from the
// engine tick so the maps cannot grow without bound.
func (t *Tracker) Prune() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for id, seen := range t.viewers {
		if now.Sub(seen) > t.viewerWindow {
			delete(t.viewers, id)
		}
	}
	for ip, seen := range t.previews {
		if now.Sub(seen) > t.previewWindow {
			delete(t.previews, ip)
		}
	}
}
