/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ffmpeg

import (
	"strings"
	"testing"
)

func baseJob() EncodeJob {
	return EncodeJob{
		InputPath:       "/run/sequence.txt",
		Resolution:      "1920x1080",
		FPS:             "30",
		VideoBitrate:    "4000k",
		AudioBitrate:    "128k",
		VideoCodec:      "h264",
		AudioCodec:      "aac",
		OutputURL:       "rtmp://mediamtx:1935/live/stream",
		HLSDir:          "/var/hls",
		MediaServerHost: "mediamtx",
		OverlayOpacity:  1.0,
		OverlayScale:    1.0,
	}
}

func argString(args []string) string {
	return strings.Join(args, " ")
}

func indexOf(args []string, val string) int {
	for i, a := range args {
		if a == val {
			return i
		}
	}
	return -1
}

func TestBuildEncodeArgsConcatInput(t *testing.T) {
	args := BuildEncodeArgs(baseJob())
	s := argString(args)

	if args[0] != "-re" {
		t.Errorf("first arg = %q, want -re", args[0])
	}
	if !strings.Contains(s, "-f concat -safe 0") {
		t.Errorf("concat demuxer flags missing: %s", s)
	}
	if strings.Contains(s, "-ss") {
		t.Errorf("zero offset should not emit -ss: %s", s)
	}
}

func TestBuildEncodeArgsOffsetBeforeInput(t *testing.T) {
	job := baseJob()
	job.Offset = 123.5
	args := BuildEncodeArgs(job)

	ssIdx := indexOf(args, "-ss")
	iIdx := indexOf(args, "-i")
	if ssIdx < 0 || iIdx < 0 || ssIdx > iIdx {
		t.Fatalf("-ss must precede -i: %v", args)
	}
	if args[ssIdx+1] != "123.5" {
		t.Errorf("offset = %q, want 123.5", args[ssIdx+1])
	}
}

func TestBuildEncodeArgsH264Parameters(t *testing.T) {
	args := BuildEncodeArgs(baseJob())
	s := argString(args)

	for _, want := range []string{
		"-c:v libx264",
		"-tune zerolatency",
		"-profile:v high",
		"-preset veryfast",
		"-bf 0",
		"-b:v 4000k",
		"-maxrate 4000k",
		"-bufsize 8000k",
		"-pix_fmt yuv420p",
		"-g 60",
		"-c:a aac",
		"-ar 44100",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("args missing %q: %s", want, s)
		}
	}
}

func TestBuildEncodeArgsOverlay(t *testing.T) {
	job := baseJob()
	job.OverlayPath = "/media/logo.png"
	job.OverlayOpacity = 0.8
	job.OverlayScale = 0.5
	job.OverlayAnchor = "bottom-left"

	args := BuildEncodeArgs(job)
	s := argString(args)

	if !strings.Contains(s, "-loop 1") {
		t.Errorf("image overlay should loop: %s", s)
	}

	fcIdx := indexOf(args, "-filter_complex")
	if fcIdx < 0 {
		t.Fatal("no -filter_complex")
	}
	fc := args[fcIdx+1]
	for _, want := range []string{
		"[1:v]scale=iw*0.5:ih*0.5",
		"format=rgba",
		"colorchannelmixer=aa=0.8",
		"overlay=50:H-h-50",
		"[0:a]volume=0.8[a_out]",
	} {
		if !strings.Contains(fc, want) {
			t.Errorf("filter_complex missing %q: %s", want, fc)
		}
	}
}

func TestBuildEncodeArgsVideoOverlayLoops(t *testing.T) {
	job := baseJob()
	job.OverlayPath = "/media/bug.webm"
	s := argString(BuildEncodeArgs(job))
	if !strings.Contains(s, "-stream_loop -1") {
		t.Errorf("video overlay should stream_loop: %s", s)
	}
}

func TestBuildEncodeArgsCopyForcedToTranscodeUnderOverlay(t *testing.T) {
	job := baseJob()
	job.VideoCodec = "copy"
	job.AudioCodec = "copy"
	job.OverlayPath = "/media/logo.png"

	s := argString(BuildEncodeArgs(job))
	if strings.Contains(s, "-c:v copy") || strings.Contains(s, "-c:a copy") {
		t.Errorf("copy codecs must be forced to transcode under overlay: %s", s)
	}
	if !strings.Contains(s, "-c:v libx264") || !strings.Contains(s, "-c:a aac") {
		t.Errorf("forced codecs missing: %s", s)
	}

	// Without overlay, copy passes through.
	job.OverlayPath = ""
	s = argString(BuildEncodeArgs(job))
	if !strings.Contains(s, "-c:v copy") || !strings.Contains(s, "-c:a copy") {
		t.Errorf("copy codecs should pass through without overlay: %s", s)
	}
}

func TestBuildEncodeArgsTeeComposition(t *testing.T) {
	job := baseJob()
	job.DASHOutputURL = "/var/dash/stream.mpd"
	job.MSSOutputURL = "http://origin/ingest.isml"
	job.RISTOutputURL = "rist://dest:2030"

	args := BuildEncodeArgs(job)
	tee := args[len(args)-1]

	outputs := strings.Split(tee, "|")
	if len(outputs) != 5 {
		t.Fatalf("tee outputs = %d, want 5: %s", len(outputs), tee)
	}
	if !strings.Contains(outputs[0], "f=fifo:fifo_format=flv") || !strings.Contains(outputs[0], "onfail=ignore") {
		t.Errorf("primary rtmp output not fifo wrapped: %s", outputs[0])
	}
	if !strings.Contains(outputs[1], "f=hls:hls_time=2:hls_list_size=10") ||
		!strings.Contains(outputs[1], "/var/hls/stream.m3u8") {
		t.Errorf("hls preview output wrong: %s", outputs[1])
	}
	if !strings.Contains(outputs[2], "f=dash") {
		t.Errorf("dash output wrong: %s", outputs[2])
	}
	if !strings.Contains(outputs[3], "f=ismv") {
		t.Errorf("mss output wrong: %s", outputs[3])
	}
	if !strings.Contains(outputs[4], "f=rist:pkt_size=1316") {
		t.Errorf("rist output wrong: %s", outputs[4])
	}

	if idx := indexOf(args, "[v_out]"); idx < 0 || args[idx-1] != "-map" {
		t.Errorf("video map missing: %v", args)
	}
}

func TestBuildEncodeArgsSRTPrimaryUsesMpegtsFifo(t *testing.T) {
	job := baseJob()
	job.OutputURL = "srt://dest.example.com:8890"
	args := BuildEncodeArgs(job)
	tee := args[len(args)-1]

	if !strings.Contains(tee, "f=fifo:fifo_format=mpegts") {
		t.Errorf("srt primary not mpegts fifo: %s", tee)
	}
}

func TestBuildRelayArgs(t *testing.T) {
	job := RelayJob{
		InputURL:        "rtmp://mediamtx:1935/live/stream",
		OutputURL:       "rtmp://cdn.example.com/live/key",
		MediaServerHost: "mediamtx",
	}
	args := BuildRelayArgs(job)
	s := argString(args)

	for _, want := range []string{
		"-thread_queue_size 1024",
		"-fflags +genpts",
		"-rw_timeout 10000000",
		"-map 0",
		"-c copy",
		"-f fifo",
		"-fifo_format flv",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("relay args missing %q: %s", want, s)
		}
	}
}

func TestBuildRelayArgsUDPDirect(t *testing.T) {
	job := RelayJob{
		InputURL:        "rtmp://mediamtx:1935/live/stream",
		OutputURL:       "udp://239.0.0.1:1234",
		MediaServerHost: "mediamtx",
	}
	s := argString(BuildRelayArgs(job))

	if strings.Contains(s, "fifo") {
		t.Errorf("udp relay should not use fifo: %s", s)
	}
	if !strings.Contains(s, "-f mpegts") {
		t.Errorf("udp relay should mux mpegts: %s", s)
	}
	for _, want := range []string{"ttl=2", "buffer_size=10000000", "pkt_size=1316"} {
		if !strings.Contains(s, want) {
			t.Errorf("udp relay missing %q: %s", want, s)
		}
	}
}

func TestBuildRelayArgsSRTHardened(t *testing.T) {
	job := RelayJob{
		InputURL:        "rtmp://mediamtx:1935/live/stream",
		OutputURL:       "srt://dest.example.com:8890",
		MediaServerHost: "mediamtx",
	}
	s := argString(BuildRelayArgs(job))

	for _, want := range []string{"transtype=live", "latency=200ms", "pkt_size=1316", "-fifo_format mpegts"} {
		if !strings.Contains(s, want) {
			t.Errorf("srt relay missing %q: %s", want, s)
		}
	}
}
