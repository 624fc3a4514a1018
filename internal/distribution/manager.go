/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package distribution supervises the relay subprocesses that copy the
// master feed to the configured RTMP, SRT and UDP destinations.
package distribution

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_tv/internal/events"
	"github.com/friendsincode/grimnir_tv/internal/ffmpeg"
	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/friendsincode/grimnir_tv/internal/telemetry"
)

// Process is a supervised relay subprocess.
type Process interface {
	Alive() bool
	Stop() error
	PID() int
}

// SpawnFunc launches a relay with the given ffmpeg arguments.
type SpawnFunc func(args []string) (Process, error)

// RelayProtocols are the protocols served by dedicated relay processes.
// Everything else (HLS, DASH, WebRTC, ...) is derived by the media server or
// the encoder's tee outputs.
var RelayProtocols = []string{models.ProtocolRTMP, models.ProtocolSRT, models.ProtocolUDP}

// Config holds the manager's tunables.
type Config struct {
	MasterReadURL   string        // relay input, the master feed read URL
	MediaServerHost string        // internal hostname substituted into URLs
	Cooldown        time.Duration // wait after a relay failure before respawning
	GraceWindow     time.Duration // feed outage tolerated before teardown
}

type relayState struct {
	proc Process
	url  string // configured destination the process was started with
}

// Manager reconciles the desired relay set against running processes once
// per engine tick.
type Manager struct {
	cfg    Config
	spawn  SpawnFunc
	logger zerolog.Logger
	bus    *events.Bus

	mu            sync.Mutex
	relays        map[string]*relayState
	lastFailure   map[string]time.Time
	feedDownSince time.Time
}

// NewManager creates a relay manager.
func NewManager(cfg Config, spawn SpawnFunc, bus *events.Bus, logger zerolog.Logger) *Manager {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 10 * time.Second
	}
	return &Manager{
		cfg:         cfg,
		spawn:       spawn,
		logger:      logger.With().Str("component", "distribution").Logger(),
		bus:         bus,
		relays:      make(map[string]*relayState),
		lastFailure: make(map[string]time.Time),
	}
}

// Reconcile drives every relay toward its desired state. Called once per
// tick with the current settings and master feed health.
func (m *Manager) Reconcile(s *models.Settings, feedReady bool, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !feedReady {
		if m.feedDownSince.IsZero() {
			m.feedDownSince = now
			m.logger.Warn().Msg("master feed not ready")
			m.bus.Publish(events.EventFeedLost, events.Payload{"at": now})
		} else if now.Sub(m.feedDownSince) > m.cfg.GraceWindow {
			// Outage outlasted the grace window: relays are copying
			// nothing, tear them down until the feed returns.
			m.stopAllLocked("feed down")
		}
		return
	}

	if !m.feedDownSince.IsZero() {
		m.logger.Info().Msg("master feed recovered")
		m.bus.Publish(events.EventFeedRecovered, events.Payload{"at": now})
		m.feedDownSince = time.Time{}
	}

	for _, key := range RelayProtocols {
		m.reconcileRelay(key, s, now)
	}
}

func (m *Manager) reconcileRelay(key string, s *models.Settings, now time.Time) {
	enabled := s.ProtocolEnabled(key)
	url := s.ProtocolURL(key)

	state := m.relays[key]
	if state != nil {
		switch {
		case !state.proc.Alive():
			// Exited on its own: remember the failure, respawn after cooldown.
			delete(m.relays, key)
			m.lastFailure[key] = now
			telemetry.RelaysActive.WithLabelValues(key).Set(0)
			telemetry.RelayFailuresTotal.WithLabelValues(key).Inc()
			m.logger.Warn().Str("protocol", key).Msg("relay exited")
			m.bus.Publish(events.EventRelayExited, events.Payload{"protocol": key})
			state = nil

		case !enabled:
			m.killLocked(key, state, "disabled")
			m.bus.Publish(events.EventRelayDisabled, events.Payload{"protocol": key})
			return

		case url != state.url:
			// Destination changed: kill and forget; the new URL is picked
			// up on the next pass.
			m.killLocked(key, state, "url changed")
			return

		default:
			return
		}
	}

	if !enabled || url == "" {
		return
	}

	if last, ok := m.lastFailure[key]; ok && now.Sub(last) < m.cfg.Cooldown {
		return
	}

	args := ffmpeg.BuildRelayArgs(ffmpeg.RelayJob{
		InputURL:        m.cfg.MasterReadURL,
		OutputURL:       url,
		MediaServerHost: m.cfg.MediaServerHost,
	})

	proc, err := m.spawn(args)
	if err != nil {
		m.lastFailure[key] = now
		telemetry.RelayFailuresTotal.WithLabelValues(key).Inc()
		m.logger.Error().Err(err).Str("protocol", key).Msg("relay spawn failed")
		return
	}

	m.relays[key] = &relayState{proc: proc, url: url}
	telemetry.RelaysActive.WithLabelValues(key).Set(1)
	m.logger.Info().Str("protocol", key).Str("url", url).Int("pid", proc.PID()).Msg("relay started")
	m.bus.Publish(events.EventRelayStarted, events.Payload{"protocol": key, "url": url})
}

// Disable kills the relay for a protocol immediately. Used when an operator
// toggles a protocol off; no cooldown applies.
func (m *Manager) Disable(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state := m.relays[key]; state != nil {
		m.killLocked(key, state, "disabled")
		m.bus.Publish(events.EventRelayDisabled, events.Payload{"protocol": key})
	}
}

// StopAll tears down every relay.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopAllLocked("shutdown")
}

func (m *Manager) stopAllLocked(reason string) {
	for key, state := range m.relays {
		m.killLocked(key, state, reason)
	}
}

func (m *Manager) killLocked(key string, state *relayState, reason string) {
	_ = state.proc.Stop()
	delete(m.relays, key)
	telemetry.RelaysActive.WithLabelValues(key).Set(0)
	m.logger.Info().Str("protocol", key).Str("reason", reason).Msg("relay stopped")
}

// Running reports whether the protocol's relay process is alive.
func (m *Manager) Running(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.relays[key]
	return state != nil && state.proc.Alive()
}

// LastFailure returns the time of the protocol's last failure, if any.
func (m *Manager) LastFailure(key string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastFailure[key]
	return t, ok
}
