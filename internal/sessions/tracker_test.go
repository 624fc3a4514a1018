/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sessions

import (
	"testing"
	"time"
)

func trackerAt(t *Tracker, at time.Time) { t.now = func() time.Time { return at } }

func TestCountsWithinWindows(t *testing.T) {
	base := time.Date(2024, 3, 18, 12, 0, 0, 0, time.UTC)
	tr := New(15*time.Second, 60*time.Second)
	trackerAt(tr, base)

	tr.MarkViewer("sid-1")
	tr.MarkViewer("sid-2")
	tr.MarkPreview("10.0.0.5")

	viewers, previews := tr.Counts()
	if viewers != 2 || previews != 1 {
		t.Errorf("counts = %d/%d, want 2/1", viewers, previews)
	}

	// Re-marking the same session does not double count.
	tr.MarkViewer("sid-1")
	if viewers, _ := tr.Counts(); viewers != 2 {
		t.Errorf("viewers = %d after re-mark, want 2", viewers)
	}
}

func TestWindowExpiry(t *testing.T) {
	base := time.Date(2024, 3, 18, 12, 0, 0, 0, time.UTC)
	tr := New(15*time.Second, 60*time.Second)
	trackerAt(tr, base)

	tr.MarkViewer("sid-1")
	tr.MarkPreview("10.0.0.5")

	// 20s later the viewer is gone, the preview remains.
	trackerAt(tr, base.Add(20*time.Second))
	viewers, previews := tr.Counts()
	if viewers != 0 || previews != 1 {
		t.Errorf("counts at +20s = %d/%d, want 0/1", viewers, previews)
	}

	// 61s later both are gone.
	trackerAt(tr, base.Add(61*time.Second))
	viewers, previews = tr.Counts()
	if viewers != 0 || previews != 0 {
		t.Errorf("counts at +61s = %d/%d, want 0/0", viewers, previews)
	}
}

func TestPruneDropsStaleEntries(t *testing.T) {
	base := time.Date(2024, 3, 18, 12, 0, 0, 0, time.UTC)
	tr := New(15*time.Second, 60*time.Second)
	trackerAt(tr, base)

	for i := 0; i < 100; i++ {
		tr.MarkViewer(time.Duration(i).String())
	}

	trackerAt(tr, base.Add(time.Minute))
	tr.Prune()

	tr.mu.Lock()
	n := len(tr.viewers)
	tr.mu.Unlock()
	if n != 0 {
		t.Errorf("stale viewers not pruned, %d left", n)
	}
}

func TestEmptyKeysIgnored(t *testing.T) {
	tr := New(15*time.Second, 60*time.Second)
	tr.MarkViewer("")
	tr.MarkPreview("")
	if viewers, previews := tr.Counts(); viewers != 0 || previews != 0 {
		t.Errorf("empty keys should not be tracked, got %d/%d", viewers, previews)
	}
}
