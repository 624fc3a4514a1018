/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_tv/internal/config"
	"github.com/friendsincode/grimnir_tv/internal/distribution"
	"github.com/friendsincode/grimnir_tv/internal/events"
	"github.com/friendsincode/grimnir_tv/internal/logbuffer"
	"github.com/friendsincode/grimnir_tv/internal/models"
	"github.com/friendsincode/grimnir_tv/internal/sessions"
)

type fakeProcess struct {
	mu      sync.Mutex
	alive   bool
	stopped int
}

func (p *fakeProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *fakeProcess) PID() int { return 1000 }

func (p *fakeProcess) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = false
	p.stopped++
	return nil
}

type fakeSpawner struct {
	mu      sync.Mutex
	spawns  []spawnCall
	procs   []*fakeProcess
	failErr error
}

type spawnCall struct {
	component string
	args      []string
}

func (s *fakeSpawner) Spawn(component string, args []string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spawns = append(s.spawns, spawnCall{component: component, args: args})
	if s.failErr != nil {
		return nil, s.failErr
	}
	p := &fakeProcess{alive: true}
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spawns)
}

type fakeStore struct {
	mu           sync.Mutex
	settings     models.Settings
	entries      []models.ScheduleEntry
	playlists    map[string]*models.Playlist
	updates      []map[string]any
	startUpdates map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings: models.Settings{
			ID:           true,
			IsRunning:    true,
			OutputType:   "hls",
			Resolution:   "1280x720",
			FPS:          "30",
			VideoBitrate: "3000k",
			AudioBitrate: "128k",
			VideoCodec:   "h264",
			AudioCodec:   "aac",
		},
		playlists:    make(map[string]*models.Playlist),
		startUpdates: make(map[string]string),
	}
}

func (s *fakeStore) Settings(ctx context.Context) (*models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := s.settings
	return &copy, nil
}

func (s *fakeStore) ScheduleEntries(ctx context.Context) ([]models.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ScheduleEntry(nil), s.entries...), nil
}

func (s *fakeStore) Playlist(ctx context.Context, id string) (*models.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playlists[id], nil
}

func (s *fakeStore) UpdateSettings(ctx context.Context, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, fields)
	if v, ok := fields["is_running"].(bool); ok {
		s.settings.IsRunning = v
	}
	if v, ok := fields["last_error"]; ok {
		if v == nil {
			s.settings.LastError = nil
		} else if msg, ok := v.(string); ok {
			s.settings.LastError = &msg
		}
	}
	return nil
}

func (s *fakeStore) UpdateScheduleStart(ctx context.Context, entryID, startTime string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startUpdates[entryID] = startTime
	for i := range s.entries {
		if s.entries[i].ID == entryID {
			st := startTime
			s.entries[i].StartTime = &st
		}
	}
	return nil
}

func (s *fakeStore) MediaByFilename(ctx context.Context, filename string) (*models.MediaItem, error) {
	return nil, nil
}

func (s *fakeStore) lastErrorSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.LastError != nil
}

type fakeFeed struct{ ready bool }

func (f *fakeFeed) PathReady(ctx context.Context, name string) bool { return f.ready }

// playlistJSON builds playlist content with n hour-long clips.
func playlistJSON(t *testing.T, n int) json.RawMessage {
	t.Helper()
	clips := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		clips = append(clips, map[string]any{
			"id":       fmt.Sprintf("clip-%d", i),
			"filename": fmt.Sprintf("show-%d.mp4", i),
			"path":     fmt.Sprintf("/media/show-%d.mp4", i),
			"duration": 3600.0,
		})
	}
	raw, err := json.Marshal(clips)
	if err != nil {
		t.Fatalf("marshal playlist: %v", err)
	}
	return raw
}

func newTestEngine(t *testing.T, store *fakeStore, spawner *fakeSpawner) *Engine {
	t.Helper()
	cfg := &config.Config{
		HLSDir:               t.TempDir(),
		DataDir:              t.TempDir(),
		MediaDir:             t.TempDir(),
		MediaServerHost:      "mediamtx",
		MasterFeedPath:       "live/stream",
		MasterFeedPublishURL: "rtmp://mediamtx:1935/live/stream",
		MasterFeedReadURL:    "rtmp://mediamtx:1935/live/stream",
		TickInterval:         time.Second,
		SequenceLength:       50,
		OverlayEpsilon:       0.01,
		NextClipsWindow:      5,
		ViewerWindow:         15 * time.Second,
		PreviewWindow:        60 * time.Second,
	}

	bus := events.NewBus()
	controller := NewController(spawner, zerolog.Nop(), cfg.DataDir, cfg.HLSDir, cfg.MediaServerHost, cfg.SequenceLength, cfg.OverlayEpsilon)
	dist := distribution.NewManager(distribution.Config{
		MasterReadURL:   cfg.MasterFeedReadURL,
		MediaServerHost: cfg.MediaServerHost,
	}, func(args []string) (distribution.Process, error) {
		return spawner.Spawn("relay", args)
	}, bus, zerolog.Nop())
	tracker := sessions.New(cfg.ViewerWindow, cfg.PreviewWindow)

	return New(cfg, store, controller, dist, tracker, &fakeFeed{ready: true}, bus, logbuffer.New(200), zerolog.Nop())
}

// scheduleAt installs one playlist airing today from the given clock time.
func scheduleAt(store *fakeStore, t *testing.T, now time.Time, start string, clipCount int) {
	t.Helper()
	st := start
	store.mu.Lock()
	defer store.mu.Unlock()
	store.entries = []models.ScheduleEntry{{
		ID:         "entry-1",
		PlaylistID: "pl-1",
		Date:       now.Format("2006-01-02"),
		StartTime:  &st,
	}}
	store.playlists["pl-1"] = &models.Playlist{
		ID:      "pl-1",
		Name:    "daytime",
		Content: playlistJSON(t, clipCount),
	}
}

func TestTickStartsEncoderForScheduledPlaylist(t *testing.T) {
	store := newFakeStore()
	spawner := &fakeSpawner{}
	e := newTestEngine(t, store, spawner)

	now := time.Date(2024, 3, 18, 12, 30, 0, 0, time.Local)
	scheduleAt(store, t, now, "12:00:00", 3)

	e.tick(context.Background(), now)

	if !e.controller.Alive() {
		t.Fatal("encoder not started for a scheduled playlist")
	}
	found := false
	for _, call := range spawner.spawns {
		if call.component == "encoder" {
			found = true
		}
	}
	if !found {
		t.Error("no encoder spawn recorded")
	}
}

func TestTickIsIdempotentWhileCursorStaysInSequence(t *testing.T) {
	store := newFakeStore()
	spawner := &fakeSpawner{}
	e := newTestEngine(t, store, spawner)

	now := time.Date(2024, 3, 18, 12, 30, 0, 0, time.Local)
	scheduleAt(store, t, now, "12:00:00", 3)

	e.tick(context.Background(), now)
	first := spawner.spawnCount()

	// Subsequent ticks inside the same clip sequence must not touch ffmpeg.
	for i := 1; i <= 10; i++ {
		e.tick(context.Background(), now.Add(time.Duration(i)*time.Second))
	}
	if spawner.spawnCount() != first {
		t.Errorf("encoder respawned mid-sequence: %d -> %d spawns", first, spawner.spawnCount())
	}
}

func TestTickRestartsOnSettingsDrift(t *testing.T) {
	store := newFakeStore()
	spawner := &fakeSpawner{}
	e := newTestEngine(t, store, spawner)

	now := time.Date(2024, 3, 18, 12, 30, 0, 0, time.Local)
	scheduleAt(store, t, now, "12:00:00", 3)

	e.tick(context.Background(), now)
	first := spawner.spawnCount()

	store.mu.Lock()
	store.settings.Resolution = "1920x1080"
	store.mu.Unlock()

	e.tick(context.Background(), now.Add(time.Second))
	if spawner.spawnCount() != first+1 {
		t.Errorf("resolution change did not restart the encoder: %d spawns", spawner.spawnCount())
	}
}

func TestTickStopsEncoderWhenNothingScheduled(t *testing.T) {
	store := newFakeStore()
	spawner := &fakeSpawner{}
	e := newTestEngine(t, store, spawner)

	now := time.Date(2024, 3, 18, 12, 30, 0, 0, time.Local)
	scheduleAt(store, t, now, "12:00:00", 3)
	e.tick(context.Background(), now)

	store.mu.Lock()
	store.entries = nil
	store.mu.Unlock()

	e.tick(context.Background(), now.Add(time.Second))
	if e.controller.Alive() {
		t.Error("encoder still running with nothing scheduled")
	}
}

func TestTickStopsEncoderWhenChannelDisabled(t *testing.T) {
	store := newFakeStore()
	spawner := &fakeSpawner{}
	e := newTestEngine(t, store, spawner)

	now := time.Date(2024, 3, 18, 12, 30, 0, 0, time.Local)
	scheduleAt(store, t, now, "12:00:00", 3)
	e.tick(context.Background(), now)

	store.mu.Lock()
	store.settings.IsRunning = false
	store.mu.Unlock()

	e.tick(context.Background(), now.Add(time.Second))
	if e.controller.Alive() {
		t.Error("encoder still running after channel stop")
	}
}

func TestTickRecordsSpawnFailure(t *testing.T) {
	store := newFakeStore()
	spawner := &fakeSpawner{failErr: errors.New("ffmpeg not found")}
	e := newTestEngine(t, store, spawner)

	errCh := e.bus.Subscribe(events.EventEngineError)

	now := time.Date(2024, 3, 18, 12, 30, 0, 0, time.Local)
	scheduleAt(store, t, now, "12:00:00", 3)
	e.tick(context.Background(), now)

	select {
	case payload := <-errCh:
		if payload["error"] == "" {
			t.Error("engine.error event carries no message")
		}
	case <-time.After(time.Second):
		t.Fatal("no engine.error event after spawn failure")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !store.lastErrorSet() {
		if time.Now().After(deadline) {
			t.Fatal("last_error never persisted after spawn failure")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSkipShiftsStartTimeAndInvalidates(t *testing.T) {
	store := newFakeStore()
	spawner := &fakeSpawner{}
	e := newTestEngine(t, store, spawner)

	// Schedule relative to the real clock because Skip resolves against it.
	now := time.Now()
	if now.Hour() == 0 && now.Minute() < 30 {
		t.Skip("too close to midnight for a same-day schedule")
	}
	start := now.Add(-20 * time.Minute).Format("15:04:05")
	scheduleAt(store, t, now, start, 3)

	e.tick(context.Background(), now)
	before := spawner.spawnCount()

	if err := e.Skip(context.Background()); err != nil {
		t.Fatalf("skip: %v", err)
	}

	store.mu.Lock()
	shifted, ok := store.startUpdates["entry-1"]
	store.mu.Unlock()
	if !ok {
		t.Fatal("skip did not persist a shifted start time")
	}
	if shifted == start {
		t.Errorf("start time unchanged after skip: %s", shifted)
	}

	// The running process survives the skip itself; the next tick restarts it
	// at the new cursor position.
	e.tick(context.Background(), time.Now())
	if spawner.spawnCount() != before+1 {
		t.Errorf("skip did not force a restart on the next tick: %d spawns", spawner.spawnCount())
	}
}

func TestStartStopPersistState(t *testing.T) {
	store := newFakeStore()
	store.settings.IsRunning = false
	spawner := &fakeSpawner{}
	e := newTestEngine(t, store, spawner)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s, _ := store.Settings(context.Background()); !s.IsRunning {
		t.Error("start did not persist is_running")
	}

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s, _ := store.Settings(context.Background()); s.IsRunning {
		t.Error("stop did not persist is_running")
	}
}

func TestToggleProtocolValidatesKey(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store, &fakeSpawner{})

	if err := e.ToggleProtocol(context.Background(), "gopher", true); !errors.Is(err, ErrUnknownProtocol) {
		t.Errorf("bogus protocol accepted: %v", err)
	}
	if err := e.ToggleProtocol(context.Background(), models.ProtocolRTMP, true); err != nil {
		t.Errorf("rtmp toggle rejected: %v", err)
	}
}

func TestStatusReportsNowPlaying(t *testing.T) {
	store := newFakeStore()
	spawner := &fakeSpawner{}
	e := newTestEngine(t, store, spawner)

	now := time.Date(2024, 3, 18, 12, 30, 0, 0, time.Local)
	scheduleAt(store, t, now, "12:00:00", 3)
	e.tick(context.Background(), now)

	st, err := e.Status(context.Background(), "tv.example.org")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Enabled || !st.OnAir {
		t.Errorf("status enabled=%v on_air=%v, want both true", st.Enabled, st.OnAir)
	}
	if st.Current == nil || st.Current.ID != "clip-0" {
		t.Fatalf("status current clip = %+v, want clip-0", st.Current)
	}
	if got := st.Offset; got != 1800 {
		t.Errorf("status offset = %v, want 1800", got)
	}
	if len(st.Upcoming) != 2 {
		t.Errorf("status next clips = %d, want 2", len(st.Upcoming))
	}
	if len(st.Protocols) == 0 {
		t.Error("status has no protocol list")
	}
}

func TestDebugDiagnosesEmptySchedule(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store, &fakeSpawner{})

	report, err := e.Debug(context.Background())
	if err != nil {
		t.Fatalf("debug: %v", err)
	}
	if report.ScheduleEntries != 0 {
		t.Errorf("schedule entries = %d, want 0", report.ScheduleEntries)
	}
	found := false
	for _, p := range report.Problems {
		if p == "schedule is empty" {
			found = true
		}
	}
	if !found {
		t.Errorf("empty schedule not flagged: %v", report.Problems)
	}
}

// Drives the tick loop from one goroutine while the control surface hammers
// the same controller from another. The assertions are thin; the value of
// this test is under the race detector.
func TestControlActionsConcurrentWithTicks(t *testing.T) {
	store := newFakeStore()
	spawner := &fakeSpawner{}
	e := newTestEngine(t, store, spawner)

	now := time.Date(2024, 3, 18, 12, 30, 0, 0, time.Local)
	scheduleAt(store, t, now, "12:00:00", 3)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			e.tick(ctx, now.Add(time.Duration(i)*time.Second))
		}
	}()

	for i := 0; i < 100; i++ {
		if err := e.Start(ctx); err != nil {
			t.Errorf("start: %v", err)
		}
		if _, err := e.Status(ctx, "localhost"); err != nil {
			t.Errorf("status: %v", err)
		}
		e.controller.Invalidate()
		if err := e.Stop(ctx); err != nil {
			t.Errorf("stop: %v", err)
		}
	}
	<-done

	e.controller.StopProcess()
}
