/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ffmpeg

import (
	"strings"
	"testing"
)

func TestPrepareOutputURLSRTDefaults(t *testing.T) {
	got, format := PrepareOutputURL("srt://dest.example.com:8890", "mediamtx")

	if format != "mpegts" {
		t.Errorf("format = %q, want mpegts", format)
	}
	for _, param := range []string{"transtype=live", "latency=200ms", "overhead_bandwidth=25", "pkt_size=1316"} {
		if !strings.Contains(got, param) {
			t.Errorf("url %q missing %s", got, param)
		}
	}
}

func TestPrepareOutputURLIdempotent(t *testing.T) {
	urls := []string{
		"srt://dest.example.com:8890?latency=50ms",
		"udp://224.1.1.1:1234",
		"rtmp://cdn.example.com/live/key",
		"udp://@:1234",
	}
	for _, raw := range urls {
		first, _ := PrepareOutputURL(raw, "mediamtx")
		second, _ := PrepareOutputURL(first, "mediamtx")
		if first != second {
			t.Errorf("not idempotent for %q:\n first  %q\n second %q", raw, first, second)
		}
	}
}

func TestPrepareOutputURLKeepsExistingParams(t *testing.T) {
	got, _ := PrepareOutputURL("srt://dest.example.com:8890?latency=50ms", "mediamtx")
	if !strings.Contains(got, "latency=50ms") {
		t.Errorf("configured latency overridden: %q", got)
	}
	if strings.Contains(got, "latency=200ms") {
		t.Errorf("default latency injected next to configured one: %q", got)
	}
}

func TestPrepareOutputURLMulticast(t *testing.T) {
	got, format := PrepareOutputURL("udp://239.0.0.1:1234", "mediamtx")
	if format != "mpegts" {
		t.Errorf("format = %q, want mpegts", format)
	}
	for _, param := range []string{"ttl=2", "buffer_size=10000000", "localaddr=0.0.0.0", "pkt_size=1316"} {
		if !strings.Contains(got, param) {
			t.Errorf("multicast url %q missing %s", got, param)
		}
	}

	// Unicast push gets no multicast tuning.
	got, _ = PrepareOutputURL("udp://10.0.0.9:1234", "mediamtx")
	if strings.Contains(got, "ttl=") || strings.Contains(got, "localaddr=") {
		t.Errorf("unicast url got multicast params: %q", got)
	}
}

func TestPrepareOutputURLUDPListener(t *testing.T) {
	got, _ := PrepareOutputURL("udp://@:1234", "mediamtx")
	if !strings.HasPrefix(got, "udp://0.0.0.0:1234") {
		t.Errorf("listener not rewritten to explicit bind: %q", got)
	}
	if !strings.Contains(got, "listen=1") {
		t.Errorf("listener url missing listen=1: %q", got)
	}
}

func TestPrepareOutputURLSRTListener(t *testing.T) {
	got, _ := PrepareOutputURL("srt://localhost:8890?mode=listener", "mediamtx")
	if !strings.Contains(got, "listen=1") {
		t.Errorf("srt listener missing listen=1: %q", got)
	}
	if strings.Contains(got, "localhost") || strings.Contains(got, "mediamtx") {
		t.Errorf("srt listener should bind all interfaces, got %q", got)
	}
}

func TestMapInternalURLRTMP(t *testing.T) {
	got := MapInternalURL("rtmp://localhost:1935/live/stream", "mediamtx")
	if !strings.HasPrefix(got, "rtmp://mediamtx:1935/live/stream") {
		t.Errorf("host not mapped: %q", got)
	}
	if !strings.Contains(got, "user=backend") || !strings.Contains(got, "pass=backend") {
		t.Errorf("credentials not injected: %q", got)
	}

	// External hosts are untouched.
	ext := "rtmp://cdn.example.com/live/key"
	if got := MapInternalURL(ext, "mediamtx"); got != ext {
		t.Errorf("external url modified: %q", got)
	}
}

func TestMapInternalURLSRTStreamIDAuth(t *testing.T) {
	got := MapInternalURL("srt://127.0.0.1:8890?streamid=publish:live/stream", "mediamtx")
	if !strings.Contains(got, "streamid=publish:live/stream:backend:backend") {
		t.Errorf("streamid auth not injected: %q", got)
	}

	// Re-applying must not double the credentials.
	again := MapInternalURL(got, "mediamtx")
	if strings.Count(again, ":backend:backend") != 1 {
		t.Errorf("credentials doubled: %q", again)
	}
}

func TestMapInternalURLUDPPush(t *testing.T) {
	got := MapInternalURL("udp://localhost:1234", "mediamtx")
	if !strings.Contains(got, "host.docker.internal") {
		t.Errorf("udp push host not mapped: %q", got)
	}
}
