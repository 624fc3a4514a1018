/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/friendsincode/grimnir_tv/internal/models"
)

// EncodeJob describes one encoder invocation: a concat sequence (or single
// file) pushed to the master feed with an HLS preview and optional extra
// outputs fanned out through the tee muxer.
type EncodeJob struct {
	InputPath string  // concat list (.txt) or a single media file
	Offset    float64 // seconds to seek into the input

	Resolution   string
	FPS          string
	VideoBitrate string
	AudioBitrate string
	VideoCodec   string
	AudioCodec   string

	OverlayPath    string // empty disables the overlay
	OverlayOpacity float64
	OverlayScale   float64
	OverlayAnchor  string

	OutputURL string // master feed publish URL
	HLSDir    string // mandatory local HLS preview directory

	DASHOutputURL string
	MSSOutputURL  string
	RISTOutputURL string

	MediaServerHost string
}

// NewEncodeJob projects channel settings onto an encoder invocation.
func NewEncodeJob(s *models.Settings, inputPath string, offset float64, outputURL, hlsDir, mediaHost string) EncodeJob {
	job := EncodeJob{
		InputPath:       inputPath,
		Offset:          offset,
		Resolution:      s.Resolution,
		FPS:             s.FPS,
		VideoBitrate:    s.VideoBitrate,
		AudioBitrate:    s.AudioBitrate,
		VideoCodec:      s.VideoCodec,
		AudioCodec:      s.AudioCodec,
		OutputURL:       outputURL,
		HLSDir:          hlsDir,
		MediaServerHost: mediaHost,
		OverlayOpacity:  1.0,
		OverlayScale:    1.0,
		OverlayAnchor:   "top-right",
	}

	if s.OverlayEnabled && s.LogoPath != nil && *s.LogoPath != "" {
		job.OverlayPath = *s.LogoPath
		if s.OverlayOpacity != nil {
			job.OverlayOpacity = *s.OverlayOpacity
		}
		if s.OverlayScale != nil {
			job.OverlayScale = *s.OverlayScale
		}
		if s.OverlayAnchor != nil && *s.OverlayAnchor != "" {
			job.OverlayAnchor = *s.OverlayAnchor
		}
	}

	if s.DASHEnabled && s.DASHOutputURL != nil {
		job.DASHOutputURL = *s.DASHOutputURL
	}
	if s.MSSEnabled && s.MSSOutputURL != nil {
		job.MSSOutputURL = *s.MSSOutputURL
	}
	if s.RISTEnabled && s.RISTOutputURL != nil {
		job.RISTOutputURL = *s.RISTOutputURL
	}

	return job
}

func (j *EncodeJob) hasOverlay() bool {
	return j.OverlayPath != ""
}

// anchorCoords maps an overlay anchor to ffmpeg overlay coordinates with a
// 50px margin. Unknown anchors fall back to top-right.
func anchorCoords(anchor string) string {
	switch anchor {
	case "top-left":
		return "50:50"
	case "bottom-left":
		return "50:H-h-50"
	case "bottom-right":
		return "W-w-50:H-h-50"
	default:
		return "W-w-50:50"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func hasSuffixAny(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// BuildEncodeArgs constructs the full ffmpeg argument list for the job.
func BuildEncodeArgs(job EncodeJob) []string {
	args := []string{"-re"}

	// Input 0: program material
	if strings.HasSuffix(job.InputPath, ".txt") {
		args = append(args, "-f", "concat", "-safe", "0")
	}
	if job.Offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(job.Offset, 'f', -1, 64))
	}
	args = append(args, "-i", job.InputPath)

	// Input 1: overlay, looped so it outlasts the program
	if job.hasOverlay() {
		if hasSuffixAny(job.OverlayPath, ".mp4", ".webm") {
			args = append(args, "-stream_loop", "-1")
		}
		if hasSuffixAny(job.OverlayPath, ".jpg", ".jpeg", ".png", ".webp") {
			args = append(args, "-loop", "1")
		}
		args = append(args, "-i", job.OverlayPath)
	}

	args = append(args, "-filter_complex", buildFilterComplex(job))

	// Filters force a real encode even when copy was configured.
	vcodec := job.VideoCodec
	acodec := job.AudioCodec
	if job.hasOverlay() && vcodec == "copy" {
		vcodec = "h264"
	}
	if job.hasOverlay() && acodec == "copy" {
		acodec = "aac"
	}

	args = append(args, videoCodecArgs(vcodec, job.VideoBitrate, job.FPS)...)
	args = append(args, audioCodecArgs(acodec, job.AudioBitrate)...)

	finalURL, format := PrepareOutputURL(job.OutputURL, job.MediaServerHost)

	args = append(args, "-f", "tee", "-map", "[v_out]", "-map", "[a_out]")
	args = append(args, buildTeeSpec(job, finalURL, format))

	return args
}

func buildFilterComplex(job EncodeJob) string {
	var sb strings.Builder

	if job.hasOverlay() {
		opacity := clamp(job.OverlayOpacity, 0.0, 1.0)
		scale := clamp(job.OverlayScale, 0.1, 2.0)
		fmt.Fprintf(&sb,
			"[0:v]scale=%s[bg];[1:v]scale=iw*%g:ih*%g,format=rgba,colorchannelmixer=aa=%g[logo];[bg][logo]overlay=%s[v_out];",
			job.Resolution, scale, scale, opacity, anchorCoords(job.OverlayAnchor))
	} else {
		fmt.Fprintf(&sb, "[0:v]scale=%s[v_out];", job.Resolution)
	}

	sb.WriteString("[0:a]volume=0.8[a_out]")
	return sb.String()
}

func videoCodecArgs(codec, bitrate, fps string) []string {
	fpsVal, err := strconv.Atoi(fps)
	if err != nil || fpsVal <= 0 {
		fpsVal = 30
	}
	gop := strconv.Itoa(fpsVal * 2)

	switch codec {
	case "h264":
		return []string{
			"-c:v", "libx264",
			"-tune", "zerolatency",
			"-flags", "+global_header",
			"-profile:v", "high",
			"-level", "4.1",
			"-preset", "veryfast",
			"-bf", "0",
			"-b:v", bitrate,
			"-maxrate", bitrate,
			"-bufsize", doubledBufsize(bitrate),
			"-pix_fmt", "yuv420p",
			"-g", gop,
		}
	case "hevc":
		return []string{
			"-c:v", "libx265",
			"-tune", "zerolatency",
			"-flags", "+global_header",
			"-preset", "ultrafast",
			"-b:v", bitrate,
			"-maxrate", bitrate,
			"-bufsize", doubledBufsize(bitrate),
			"-pix_fmt", "yuv420p",
			"-g", gop,
		}
	case "vp8":
		return []string{"-c:v", "libvpx", "-b:v", bitrate, "-g", gop}
	case "vp9":
		return []string{"-c:v", "libvpx-vp9", "-b:v", bitrate, "-g", gop}
	case "av1":
		return []string{"-c:v", "libaom-av1", "-b:v", bitrate, "-g", gop}
	case "copy":
		return []string{"-c:v", "copy"}
	default:
		return []string{"-c:v", "libx264", "-preset", "veryfast", "-b:v", bitrate}
	}
}

func audioCodecArgs(codec, bitrate string) []string {
	switch codec {
	case "aac":
		return []string{"-c:a", "aac", "-b:a", bitrate, "-ar", "44100"}
	case "opus":
		return []string{"-c:a", "libopus", "-b:a", bitrate}
	case "copy":
		return []string{"-c:a", "copy"}
	default:
		return []string{"-c:a", "aac", "-b:a", bitrate}
	}
}

// doubledBufsize derives a VBV buffer of twice the target bitrate.
func doubledBufsize(bitrate string) string {
	val, err := strconv.Atoi(strings.TrimSuffix(bitrate, "k"))
	if err != nil {
		val = 5000
	}
	return strconv.Itoa(val*2) + "k"
}

// buildTeeSpec assembles the tee muxer output list: the master feed wrapped
// in a fifo so network blips cannot stall the whole pipeline, the mandatory
// local HLS preview, and any optional extra outputs.
func buildTeeSpec(job EncodeJob, finalURL, format string) string {
	escaped := strings.ReplaceAll(finalURL, "'", `'\''`)

	var primary string
	switch {
	case strings.HasPrefix(finalURL, "srt://"):
		primary = fmt.Sprintf(
			"[f=fifo:fifo_format=mpegts:onfail=ignore:drop_pkts_on_overflow=1:restart_with_keyframe=1:queue_size=60000]'%s'",
			escaped)
	case strings.HasPrefix(finalURL, "rtmp://"):
		primary = fmt.Sprintf(
			"[f=fifo:fifo_format=flv:onfail=ignore:drop_pkts_on_overflow=1:attempt_recovery=1:recovery_wait_time=3:restart_with_keyframe=1:queue_size=60000]'%s'",
			escaped)
	default:
		primary = fmt.Sprintf("[f=%s]'%s'", format, escaped)
	}

	outputs := []string{
		primary,
		fmt.Sprintf(
			"[f=hls:hls_time=2:hls_list_size=10:hls_flags=delete_segments+independent_segments]%s/stream.m3u8",
			job.HLSDir),
	}

	if job.DASHOutputURL != "" {
		outputs = append(outputs, fmt.Sprintf(
			"[f=dash:window_size=5:extra_window_size=5:remove_at_exit=1:dash_segment_type=webm]'%s'",
			job.DASHOutputURL))
	}
	if job.MSSOutputURL != "" {
		outputs = append(outputs, fmt.Sprintf("[f=ismv]'%s'", job.MSSOutputURL))
	}
	if job.RISTOutputURL != "" {
		outputs = append(outputs, fmt.Sprintf("[f=rist:pkt_size=1316]'%s'", job.RISTOutputURL))
	}

	return strings.Join(outputs, "|")
}
