/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"errors"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/models"
)

// ErrEndOfPlaylist reports that the elapsed time has run past the last clip.
var ErrEndOfPlaylist = errors.New("elapsed time exceeds playlist duration")

// Cursor is a position inside a playlist program: the clip that should be
// playing and the offset into it.
type Cursor struct {
	Index  int
	Clip   models.Clip
	Offset float64 // seconds into the clip
	clips  []models.Clip
}

// Locate maps the time elapsed since startTime onto the clip list. A clip
// occupies the half-open interval [acc, acc+duration), so an elapsed time
// landing exactly on a boundary selects the next clip at offset zero.
// Zero-duration clips are skipped.
func Locate(clips []models.Clip, startTime, now time.Time) (*Cursor, error) {
	elapsed := now.Sub(startTime).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	acc := 0.0
	for i, clip := range clips {
		dur := clip.EffectiveDuration()
		if dur <= 0 {
			continue
		}
		if elapsed < acc+dur {
			return &Cursor{
				Index:  i,
				Clip:   clip,
				Offset: elapsed - acc,
				clips:  clips,
			}, nil
		}
		acc += dur
	}

	return nil, ErrEndOfPlaylist
}

// Remaining is the time left in the current clip.
func (c *Cursor) Remaining() float64 {
	rem := c.Clip.EffectiveDuration() - c.Offset
	if rem < 0 {
		return 0
	}
	return rem
}

// Upcoming returns up to n clips after the cursor position.
func (c *Cursor) Upcoming(n int) []models.Clip {
	if n <= 0 || c.Index+1 >= len(c.clips) {
		return nil
	}
	rest := c.clips[c.Index+1:]
	if len(rest) > n {
		rest = rest[:n]
	}
	out := make([]models.Clip, len(rest))
	copy(out, rest)
	return out
}

// Sequence returns the current clip followed by up to n-1 next clips. The
// encoder is started with this window so clip transitions inside it never
// require a restart.
func (c *Cursor) Sequence(n int) []models.Clip {
	if n < 1 {
		n = 1
	}
	out := []models.Clip{c.Clip}
	out = append(out, c.Upcoming(n-1)...)
	return out
}
