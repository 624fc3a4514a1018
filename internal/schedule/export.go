/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/friendsincode/grimnir_tv/internal/models"
)

// Occurrence is one concrete airing of a schedule entry inside an export
// window.
type Occurrence struct {
	EntryID  string
	Playlist string
	Start    time.Time
	End      time.Time
}

// Expand projects the recurring schedule onto concrete airings between start
// and end. Daily and weekly patterns repeat from their anchor date; exception
// dates suppress single occurrences. Each airing runs until the next airing
// that day, or midnight.
func Expand(entries []models.ScheduleEntry, start, end time.Time) []Occurrence {
	loc := start.Location()
	var all []Occurrence

	for day := startOfDay(start); day.Before(end); day = day.AddDate(0, 0, 1) {
		var daily []Occurrence
		for i := range entries {
			entry := &entries[i]
			if entry.StartTime == nil || *entry.StartTime == "" {
				continue
			}
			if !airsOn(entry, day, loc) {
				continue
			}
			at := day.Add(time.Duration(entry.ClockTime() * float64(time.Second)))
			if at.Before(start) || !at.Before(end) {
				continue
			}
			name := "Playlist"
			if entry.PlaylistName != nil && *entry.PlaylistName != "" {
				name = *entry.PlaylistName
			}
			daily = append(daily, Occurrence{
				EntryID:  entry.ID,
				Playlist: name,
				Start:    at,
			})
		}

		sort.Slice(daily, func(i, j int) bool { return daily[i].Start.Before(daily[j].Start) })
		for i := range daily {
			if i+1 < len(daily) {
				daily[i].End = daily[i+1].Start
			} else {
				daily[i].End = day.AddDate(0, 0, 1)
			}
		}
		all = append(all, daily...)
	}

	return all
}

func airsOn(entry *models.ScheduleEntry, day time.Time, loc *time.Location) bool {
	anchor, err := entry.AnchorDate(loc)
	if err != nil {
		return false
	}
	if entry.Excluded(day.Format("2006-01-02")) {
		return false
	}

	switch entry.Repeat() {
	case models.RepeatDaily:
		return !day.Before(anchor)
	case models.RepeatWeekly:
		return !day.Before(anchor) && day.Weekday() == anchor.Weekday()
	default:
		return day.Equal(anchor)
	}
}

// ExportICal renders the channel's broadcast calendar for the window as an
// iCalendar document.
func ExportICal(entries []models.ScheduleEntry, channelName string, start, end time.Time) []byte {
	occurrences := Expand(entries, start, end)

	var buf bytes.Buffer
	buf.WriteString("BEGIN:VCALENDAR\r\n")
	buf.WriteString("VERSION:2.0\r\n")
	buf.WriteString("PRODID:-//Grimnir TV//Broadcast Calendar//EN\r\n")
	buf.WriteString(fmt.Sprintf("X-WR-CALNAME:%s Schedule\r\n", escapeICalText(channelName)))
	buf.WriteString("CALSCALE:GREGORIAN\r\n")
	buf.WriteString("METHOD:PUBLISH\r\n")

	stamp := formatICalTime(time.Now())
	for _, occ := range occurrences {
		buf.WriteString("BEGIN:VEVENT\r\n")
		buf.WriteString(fmt.Sprintf("UID:%s-%s@grimnir\r\n", occ.EntryID, occ.Start.Format("20060102T1504")))
		buf.WriteString(fmt.Sprintf("DTSTAMP:%s\r\n", stamp))
		buf.WriteString(fmt.Sprintf("DTSTART:%s\r\n", formatICalTime(occ.Start)))
		buf.WriteString(fmt.Sprintf("DTEND:%s\r\n", formatICalTime(occ.End)))
		buf.WriteString(fmt.Sprintf("SUMMARY:%s\r\n", escapeICalText(occ.Playlist)))
		buf.WriteString("END:VEVENT\r\n")
	}

	buf.WriteString("END:VCALENDAR\r\n")
	return buf.Bytes()
}

// ExportFilename derives a download name for the window.
func ExportFilename(channelName string, start, end time.Time) string {
	return fmt.Sprintf("%s-schedule-%s-to-%s.ics",
		slugify(channelName),
		start.Format("2006-01-02"),
		end.Format("2006-01-02"))
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func formatICalTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func escapeICalText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "channel"
	}
	return result.String()
}
