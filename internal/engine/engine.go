/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine runs the 24/7 playout loop: it derives what should be on
// air from the schedule and wall clock every second, keeps one gapless
// encoder process alive, and drives the distribution relays toward the
// configured protocol set.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_tv/internal/config"
	"github.com/friendsincode/grimnir_tv/internal/distribution"
	"github.com/friendsincode/grimnir_tv/internal/events"
	"github.com/friendsincode/grimnir_tv/internal/ffmpeg"
	"github.com/friendsincode/grimnir_tv/internal/logbuffer"
	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/friendsincode/grimnir_tv/internal/schedule"
	"github.com/friendsincode/grimnir_tv/internal/sessions"
	"github.com/friendsincode/grimnir_tv/internal/telemetry"
)

// ErrUnknownProtocol is returned for a toggle on a protocol key the engine
// does not manage.
var ErrUnknownProtocol = errors.New("unknown protocol")

// FeedChecker reports master feed health.
type FeedChecker interface {
	PathReady(ctx context.Context, name string) bool
}

// Engine owns the playout tick loop and the control actions.
type Engine struct {
	cfg        *config.Config
	store      Store
	controller *Controller
	dist       *distribution.Manager
	tracker    *sessions.Tracker
	feed       FeedChecker
	bus        *events.Bus
	logger     zerolog.Logger
	logbuf     *logbuffer.Buffer
	prober     *ffmpeg.Prober

	mu          sync.Mutex
	onAirSince  time.Time
	lastClipKey string
	current     nowPlaying
	idleReason  string
	lastViewers int
}

type nowPlaying struct {
	Clip      models.Clip
	Offset    float64
	Remaining float64
	Upcoming  []models.Clip
	Source    string
}

// New wires an engine from its collaborators.
func New(cfg *config.Config, store Store, controller *Controller, dist *distribution.Manager,
	tracker *sessions.Tracker, feed FeedChecker, bus *events.Bus, logbuf *logbuffer.Buffer,
	logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      store,
		controller: controller,
		dist:       dist,
		tracker:    tracker,
		feed:       feed,
		bus:        bus,
		logbuf:     logbuf,
		prober:     &ffmpeg.Prober{Bin: cfg.FFprobeBin},
		logger:     logger.With().Str("component", "engine").Logger(),
	}
}

// Run drives the tick loop until the context is cancelled. The channel
// resumes automatically when settings say it was running before a restart.
func (e *Engine) Run(ctx context.Context) {
	if settings, err := e.store.Settings(ctx); err == nil && settings.IsRunning {
		e.logger.Info().Msg("channel was on air, resuming playout")
	}

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("playout loop stopping")
			e.controller.StopProcess()
			e.dist.StopAll()
			return
		case now := <-ticker.C:
			start := time.Now()
			e.tick(ctx, now)
			telemetry.TickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// tick is one pass of the control loop. Order matters: relays are reconciled
// first so distribution recovers even when nothing is scheduled, then
// audience stats, then the encoder itself. Errors are logged and the loop
// moves on; a tick must never panic or wedge.
func (e *Engine) tick(ctx context.Context, now time.Time) {
	settings, err := e.store.Settings(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("tick: settings unavailable")
		return
	}

	feedReady := e.feed.PathReady(ctx, e.cfg.MasterFeedPath)
	e.dist.Reconcile(settings, feedReady, now)

	e.tickStats()

	if settings.IsRunning {
		telemetry.EngineRunning.Set(1)
	} else {
		telemetry.EngineRunning.Set(0)
		e.goIdle("channel stopped")
		return
	}

	entries, err := e.store.ScheduleEntries(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("tick: schedule unavailable")
		return
	}

	res := schedule.Resolve(entries, now)
	if res == nil {
		e.goIdle("nothing scheduled")
		return
	}

	pl, err := e.store.Playlist(ctx, res.PlaylistID)
	if err != nil {
		e.logger.Error().Err(err).Str("playlist_id", res.PlaylistID).Msg("tick: playlist unavailable")
		return
	}
	if pl == nil {
		e.goIdle("scheduled playlist missing")
		return
	}

	clips := pl.Clips()
	cur, err := schedule.Locate(clips, res.StartTime, now)
	if errors.Is(err, schedule.ErrEndOfPlaylist) {
		e.goIdle("end of playlist")
		return
	}
	if err != nil {
		e.logger.Error().Err(err).Msg("tick: cursor location failed")
		return
	}

	profile := ProfileFromSettings(settings, e.cfg.MasterFeedPublishURL)

	restarted := false
	if need, reason := e.controller.NeedsRestart(cur, profile); need {
		if err := e.controller.Restart(cur, settings, e.cfg.MasterFeedPublishURL, reason); err != nil {
			telemetry.EncoderSpawnFailuresTotal.Inc()
			e.logger.Error().Err(err).Msg("encoder restart failed")
			e.persistAsync(map[string]any{"last_error": err.Error()})
			e.bus.Publish(events.EventEngineError, events.Payload{"error": err.Error()})
			return
		}
		restarted = true
		e.persistAsync(map[string]any{"last_error": nil})
	}

	e.observeCursor(cur, res, restarted)
}

// observeCursor updates now-playing state and accounts clip advances.
func (e *Engine) observeCursor(cur *schedule.Cursor, res *schedule.Resolution, restarted bool) {
	key := clipKey(cur.Clip)

	e.mu.Lock()
	if e.onAirSince.IsZero() {
		e.onAirSince = time.Now()
	}
	advanced := e.lastClipKey != "" && e.lastClipKey != key && !restarted
	changed := e.lastClipKey != key
	e.lastClipKey = key
	e.idleReason = ""
	e.current = nowPlaying{
		Clip:      cur.Clip,
		Offset:    cur.Offset,
		Remaining: cur.Remaining(),
		Upcoming:  cur.Upcoming(e.cfg.NextClipsWindow),
		Source:    res.Source,
	}
	e.mu.Unlock()

	if advanced {
		telemetry.ClipsPlayedTotal.Inc()
		e.persistAsync(map[string]any{"clips_played_today": gormExprIncrement{}})
	}

	if changed || restarted {
		e.bus.Publish(events.EventNowPlaying, events.Payload{
			"clip_id":  cur.Clip.ID,
			"filename": cur.Clip.Filename,
			"path":     cur.Clip.Path,
			"offset":   cur.Offset,
			"source":   res.Source,
		})
	}
}

// gormExprIncrement marks a field for a +1 update; the store translates it.
type gormExprIncrement struct{}

// tickStats prunes session windows and publishes audience numbers.
func (e *Engine) tickStats() {
	e.tracker.Prune()
	viewers, previews := e.tracker.Counts()
	telemetry.ViewersCurrent.Set(float64(viewers))

	e.mu.Lock()
	changed := viewers != e.lastViewers
	e.lastViewers = viewers
	e.mu.Unlock()

	if changed {
		e.bus.Publish(events.EventViewerStats, events.Payload{
			"viewers":  viewers,
			"previews": previews,
		})
	}
}

// goIdle stops the encoder when there is nothing to play and records why.
func (e *Engine) goIdle(reason string) {
	wasLive := e.controller.Alive()
	if wasLive {
		e.controller.StopProcess()
	}

	e.mu.Lock()
	firstIdleTick := e.idleReason != reason
	e.idleReason = reason
	e.onAirSince = time.Time{}
	e.lastClipKey = ""
	e.current = nowPlaying{}
	e.mu.Unlock()

	if wasLive || firstIdleTick {
		e.logger.Info().Str("reason", reason).Msg("playout idle")
	}
	if wasLive {
		e.purgeHLS()
	}
}

// purgeHLS removes stale preview segments so players do not loop old
// content while the channel is idle.
func (e *Engine) purgeHLS() {
	entries, err := os.ReadDir(e.cfg.HLSDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		_ = os.Remove(filepath.Join(e.cfg.HLSDir, entry.Name()))
	}
}

// persistAsync writes settings side effects without blocking the tick.
func (e *Engine) persistAsync(fields map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.updateSettings(ctx, fields); err != nil {
			e.logger.Warn().Err(err).Msg("settings write failed")
		}
	}()
}

func (e *Engine) updateSettings(ctx context.Context, fields map[string]any) error {
	resolved := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := v.(gormExprIncrement); ok {
			settings, err := e.store.Settings(ctx)
			if err != nil {
				return err
			}
			resolved[k] = settings.ClipsPlayedToday + 1
			continue
		}
		resolved[k] = v
	}
	return e.store.UpdateSettings(ctx, resolved)
}

// Start switches the channel on. Playout begins on the next tick.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.UpdateSettings(ctx, map[string]any{"is_running": true, "last_error": nil}); err != nil {
		return fmt.Errorf("enable channel: %w", err)
	}
	e.logger.Info().Msg("channel started")
	e.bus.Publish(events.EventEngineStarted, events.Payload{})
	return nil
}

// Stop switches the channel off and kills the encoder and relays now.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.store.UpdateSettings(ctx, map[string]any{"is_running": false}); err != nil {
		return fmt.Errorf("disable channel: %w", err)
	}

	e.controller.StopProcess()
	e.dist.StopAll()
	e.purgeHLS()

	e.mu.Lock()
	e.onAirSince = time.Time{}
	e.lastClipKey = ""
	e.current = nowPlaying{}
	e.idleReason = "channel stopped"
	e.mu.Unlock()

	e.logger.Info().Msg("channel stopped")
	e.bus.Publish(events.EventEngineStopped, events.Payload{})
	return nil
}

// Skip jumps to the next clip by shifting the active schedule entry's start
// time back by the remaining duration of the current clip. The running
// sequence is invalidated so the next tick restarts the encoder at the new
// cursor position.
func (e *Engine) Skip(ctx context.Context) error {
	now := time.Now()

	entries, err := e.store.ScheduleEntries(ctx)
	if err != nil {
		return fmt.Errorf("skip: load schedule: %w", err)
	}
	res := schedule.Resolve(entries, now)
	if res == nil {
		return errors.New("nothing is on air")
	}

	pl, err := e.store.Playlist(ctx, res.PlaylistID)
	if err != nil {
		return fmt.Errorf("skip: load playlist: %w", err)
	}
	if pl == nil {
		return errors.New("skip: scheduled playlist missing")
	}

	cur, err := schedule.Locate(pl.Clips(), res.StartTime, now)
	if err != nil {
		return fmt.Errorf("skip: %w", err)
	}

	var entry *models.ScheduleEntry
	for i := range entries {
		if entries[i].ID == res.EntryID {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return errors.New("skip: active entry vanished")
	}

	shifted := entry.ClockTime() - cur.Remaining()
	if shifted < 0 {
		shifted = 0
	}
	startTime := formatClock(shifted)

	if err := e.store.UpdateScheduleStart(ctx, entry.ID, startTime); err != nil {
		return fmt.Errorf("skip: persist shifted start: %w", err)
	}

	e.controller.Invalidate()

	e.logger.Info().
		Str("clip", clipKey(cur.Clip)).
		Float64("remaining", cur.Remaining()).
		Str("new_start", startTime).
		Msg("clip skipped")
	e.bus.Publish(events.EventClipSkipped, events.Payload{
		"clip_id":   cur.Clip.ID,
		"remaining": cur.Remaining(),
	})
	return nil
}

// ToggleProtocol enables or disables a distribution protocol. Disabling a
// relay protocol kills its process synchronously; enabling takes effect on
// the next reconcile pass.
func (e *Engine) ToggleProtocol(ctx context.Context, key string, enable bool) error {
	column, ok := protocolColumns[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProtocol, key)
	}

	if err := e.store.UpdateSettings(ctx, map[string]any{column: enable}); err != nil {
		return fmt.Errorf("toggle %s: %w", key, err)
	}

	if !enable {
		for _, relayKey := range distribution.RelayProtocols {
			if relayKey == key {
				e.dist.Disable(key)
				break
			}
		}
	}

	e.logger.Info().Str("protocol", key).Bool("enabled", enable).Msg("protocol toggled")
	e.bus.Publish(events.EventProtocolToggled, events.Payload{"protocol": key, "enabled": enable})
	return nil
}

var protocolColumns = map[string]string{
	models.ProtocolRTMP:   "rtmp_enabled",
	models.ProtocolSRT:    "srt_enabled",
	models.ProtocolUDP:    "udp_enabled",
	models.ProtocolHLS:    "hls_enabled",
	models.ProtocolDASH:   "dash_enabled",
	models.ProtocolMSS:    "mss_enabled",
	models.ProtocolRIST:   "rist_enabled",
	models.ProtocolRTSP:   "rtsp_enabled",
	models.ProtocolWebRTC: "webrtc_enabled",
	models.ProtocolLLHLS:  "llhls_enabled",
}

// ExportSchedule renders the broadcast calendar for the window as iCal.
func (e *Engine) ExportSchedule(ctx context.Context, start, end time.Time) (data []byte, filename string, err error) {
	settings, err := e.store.Settings(ctx)
	if err != nil {
		return nil, "", err
	}
	entries, err := e.store.ScheduleEntries(ctx)
	if err != nil {
		return nil, "", err
	}

	name := "Grimnir TV"
	if settings.ChannelName != nil && *settings.ChannelName != "" {
		name = *settings.ChannelName
	}
	return schedule.ExportICal(entries, name, start, end), schedule.ExportFilename(name, start, end), nil
}

// MediaInfo merges the catalog row with a fresh ffprobe pass for one file.
func (e *Engine) MediaInfo(ctx context.Context, filename string) (*models.MediaItem, *ffmpeg.MediaInfo, error) {
	item, err := e.store.MediaByFilename(ctx, filename)
	if err != nil {
		return nil, nil, err
	}

	path := filename
	if item != nil && item.Path != "" {
		path = item.Path
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.cfg.MediaDir, path)
	}

	info, err := e.prober.Probe(ctx, path)
	if err != nil {
		// The catalog row is still useful when the file is unreadable.
		return item, nil, err
	}
	return item, info, nil
}

// MarkViewer and MarkPreview forward HLS activity to the session tracker.
func (e *Engine) MarkViewer(sessionID string) { e.tracker.MarkViewer(sessionID) }
func (e *Engine) MarkPreview(ip string)       { e.tracker.MarkPreview(ip) }

func formatClock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
