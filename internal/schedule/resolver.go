/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule decides what should be on air at any instant. Resolution
// and cursor location are pure functions of the stored schedule, the playlist
// program and the wall clock, so the engine can re-derive its position on
// every tick without carrying playback state.
package schedule

import (
	"fmt"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/models"
)

// Resolution identifies the schedule entry and playlist that should currently
// be on air.
type Resolution struct {
	EntryID    string
	PlaylistID string
	StartTime  time.Time // absolute start of the winning occurrence
	Source     string    // human readable, e.g. "weekly repeat of 2024-03-11"
}

// patternRank orders candidates with identical start times: a directly
// scheduled entry beats a daily repeat, which beats a weekly repeat.
func patternRank(repeat string) int {
	switch repeat {
	case models.RepeatNone:
		return 2
	case models.RepeatDaily:
		return 1
	case models.RepeatWeekly:
		return 0
	default:
		return -1
	}
}

type candidate struct {
	entry *models.ScheduleEntry
	start time.Time
	rank  int
	desc  string
}

// Resolve returns the entry that should be on air at now, or nil when nothing
// qualifies. An entry produces a candidate occurrence for now's date when its
// air date matches directly, repeats daily, or repeats weekly on the same
// weekday; occurrences listed in exception_dates are suppressed, and entries
// without a start time never air. Among the candidates whose start time is
// not in the future, the latest start wins.
func Resolve(entries []models.ScheduleEntry, now time.Time) *Resolution {
	today := now.Format("2006-01-02")

	var candidates []candidate
	for i := range entries {
		entry := &entries[i]
		repeat := entry.Repeat()

		anchor, err := entry.AnchorDate(now.Location())
		if err != nil {
			continue
		}

		var desc string
		switch repeat {
		case models.RepeatNone:
			if entry.Date != today {
				continue
			}
			desc = "scheduled for " + entry.Date
		case models.RepeatDaily:
			if anchor.Format("2006-01-02") > today {
				continue
			}
			desc = "daily repeat of " + entry.Date
		case models.RepeatWeekly:
			if anchor.Format("2006-01-02") > today || anchor.Weekday() != now.Weekday() {
				continue
			}
			desc = "weekly repeat of " + entry.Date
		default:
			continue
		}

		if entry.Excluded(today) {
			continue
		}

		// An entry without a start time never airs.
		if entry.StartTime == nil || *entry.StartTime == "" {
			continue
		}

		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		start := midnight.Add(time.Duration(entry.ClockTime() * float64(time.Second)))

		candidates = append(candidates, candidate{
			entry: entry,
			start: start,
			rank:  patternRank(repeat),
			desc:  desc,
		})
	}

	var best *candidate
	for i := range candidates {
		c := &candidates[i]
		if c.start.After(now) {
			continue
		}
		if best == nil || c.start.After(best.start) ||
			(c.start.Equal(best.start) && c.rank > best.rank) {
			best = c
		}
	}

	if best == nil {
		return nil
	}

	return &Resolution{
		EntryID:    best.entry.ID,
		PlaylistID: best.entry.PlaylistID,
		StartTime:  best.start,
		Source:     fmt.Sprintf("%s at %s", best.desc, best.start.Format("15:04:05")),
	}
}
