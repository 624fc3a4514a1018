/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPathReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/paths/get/live%2Fstream" && r.URL.Path != "/v3/paths/get/live/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"live/stream","ready":true,"readers":[{"type":"hlsMuxer","id":"x"},{"type":"rtmpConn","id":"y"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)

	if !c.PathReady(context.Background(), "live/stream") {
		t.Error("PathReady = false, want true")
	}

	readers, err := c.PathReaders(context.Background(), "live/stream")
	if err != nil {
		t.Fatalf("PathReaders error = %v", err)
	}
	if readers != 2 {
		t.Errorf("readers = %d, want 2", readers)
	}
}

func TestPathReadyDegradesOnErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	if c.PathReady(context.Background(), "live/stream") {
		t.Error("PathReady should be false on http error")
	}

	// Unreachable server degrades the same way.
	srv.Close()
	if c.PathReady(context.Background(), "live/stream") {
		t.Error("PathReady should be false when the API is unreachable")
	}
}

func TestPathTimeoutBounded(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(srv.URL, 50*time.Millisecond)

	start := time.Now()
	if c.PathReady(context.Background(), "live/stream") {
		t.Error("PathReady should be false on timeout")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not bounded, took %v", elapsed)
	}
}
