/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"fmt"
	"math"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_tv/internal/ffmpeg"
	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/friendsincode/grimnir_tv/internal/schedule"
	"github.com/friendsincode/grimnir_tv/internal/telemetry"
)

// Profile is the settings snapshot the live encoder was started with. Any
// drift between it and the current settings forces a restart; everything else
// survives clip transitions untouched.
type Profile struct {
	OutputURL    string
	Resolution   string
	FPS          string
	VideoBitrate string
	AudioBitrate string
	VideoCodec   string
	AudioCodec   string

	OverlayEnabled bool
	OverlayPath    string
	OverlayOpacity float64
	OverlayScale   float64
	OverlayAnchor  string
}

// ProfileFromSettings projects the restart-relevant settings fields.
func ProfileFromSettings(s *models.Settings, outputURL string) Profile {
	p := Profile{
		OutputURL:      outputURL,
		Resolution:     s.Resolution,
		FPS:            s.FPS,
		VideoBitrate:   s.VideoBitrate,
		AudioBitrate:   s.AudioBitrate,
		VideoCodec:     s.VideoCodec,
		AudioCodec:     s.AudioCodec,
		OverlayEnabled: s.OverlayEnabled && s.LogoPath != nil && *s.LogoPath != "",
		OverlayOpacity: 1.0,
		OverlayScale:   1.0,
	}
	if p.OverlayEnabled {
		p.OverlayPath = *s.LogoPath
		if s.OverlayOpacity != nil {
			p.OverlayOpacity = *s.OverlayOpacity
		}
		if s.OverlayScale != nil {
			p.OverlayScale = *s.OverlayScale
		}
		if s.OverlayAnchor != nil {
			p.OverlayAnchor = *s.OverlayAnchor
		}
	}
	return p
}

// Differs reports whether the profiles diverge enough to warrant a restart.
// Opacity and scale use an epsilon so dashboard slider noise does not bounce
// the encoder.
func (p Profile) Differs(other Profile, epsilon float64) bool {
	if p.OutputURL != other.OutputURL ||
		p.Resolution != other.Resolution ||
		p.FPS != other.FPS ||
		p.VideoBitrate != other.VideoBitrate ||
		p.AudioBitrate != other.AudioBitrate ||
		p.VideoCodec != other.VideoCodec ||
		p.AudioCodec != other.AudioCodec ||
		p.OverlayEnabled != other.OverlayEnabled ||
		p.OverlayPath != other.OverlayPath ||
		p.OverlayAnchor != other.OverlayAnchor {
		return true
	}
	return math.Abs(p.OverlayOpacity-other.OverlayOpacity) > epsilon ||
		math.Abs(p.OverlayScale-other.OverlayScale) > epsilon
}

// Controller owns the gapless encoder process. It remembers the clip
// sequence the live process was started with; as long as the cursor stays
// inside that sequence and the profile is unchanged, ticks are no-ops and
// ffmpeg's concat demuxer handles clip transitions without a frame drop.
//
// The mutex covers proc, sequence and profile: the tick loop and the control
// surface (stop, skip, status) touch them from different goroutines.
type Controller struct {
	spawner Spawner
	logger  zerolog.Logger

	dataDir   string
	hlsDir    string
	mediaHost string
	seqLen    int
	epsilon   float64

	mu       sync.Mutex
	proc     Process
	sequence map[string]bool
	profile  Profile
}

// NewController creates a controller.
func NewController(spawner Spawner, logger zerolog.Logger, dataDir, hlsDir, mediaHost string, seqLen int, epsilon float64) *Controller {
	return &Controller{
		spawner:   spawner,
		logger:    logger.With().Str("component", "controller").Logger(),
		dataDir:   dataDir,
		hlsDir:    hlsDir,
		mediaHost: mediaHost,
		seqLen:    seqLen,
		epsilon:   epsilon,
	}
}

// clipKey identifies a clip within a sequence.
func clipKey(c models.Clip) string {
	if c.ID != "" {
		return c.ID
	}
	return c.Path
}

// Alive reports whether the encoder process is running.
func (c *Controller) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aliveLocked()
}

func (c *Controller) aliveLocked() bool {
	return c.proc != nil && c.proc.Alive()
}

// InSequence reports whether the clip is covered by the running sequence.
func (c *Controller) InSequence(clip models.Clip) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence != nil && c.sequence[clipKey(clip)]
}

// NeedsRestart decides whether the encoder must be (re)started for the
// cursor position under the given profile, and why.
func (c *Controller) NeedsRestart(cur *schedule.Cursor, profile Profile) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.aliveLocked() {
		return true, "no live encoder"
	}
	if c.profile.Differs(profile, c.epsilon) {
		return true, "settings changed"
	}
	if c.sequence == nil || !c.sequence[clipKey(cur.Clip)] {
		return true, "cursor left running sequence"
	}
	return false, ""
}

// Restart builds the concat sequence from the cursor position and replaces
// the running encoder process.
func (c *Controller) Restart(cur *schedule.Cursor, settings *models.Settings, outputURL, reason string) error {
	clips := cur.Sequence(c.seqLen)

	listPath := filepath.Join(c.dataDir, "sequence.txt")
	if err := ffmpeg.WriteConcatFile(listPath, clips); err != nil {
		return fmt.Errorf("write concat sequence: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	job := ffmpeg.NewEncodeJob(settings, listPath, cur.Offset, outputURL, c.hlsDir, c.mediaHost)
	args := ffmpeg.BuildEncodeArgs(job)

	proc, err := c.spawner.Spawn("encoder", args)
	if err != nil {
		c.forgetLocked()
		return fmt.Errorf("spawn encoder: %w", err)
	}

	c.proc = proc
	c.profile = ProfileFromSettings(settings, outputURL)
	c.sequence = make(map[string]bool, len(clips))
	for _, clip := range clips {
		c.sequence[clipKey(clip)] = true
	}

	telemetry.EncoderRestartsTotal.WithLabelValues(reason).Inc()
	c.logger.Info().
		Str("reason", reason).
		Int("sequence_len", len(clips)).
		Float64("offset", cur.Offset).
		Str("clip", clipKey(cur.Clip)).
		Msg("encoder restarted")

	return nil
}

// Invalidate forgets the running sequence so the next tick takes the restart
// path even though the process is still alive. Used by skip.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequence = nil
}

// StopProcess kills the encoder if it is running. The sequence marker is
// cleared with it.
func (c *Controller) StopProcess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.proc != nil {
		_ = c.proc.Stop()
	}
	c.forgetLocked()
}

func (c *Controller) forgetLocked() {
	c.proc = nil
	c.sequence = nil
}
