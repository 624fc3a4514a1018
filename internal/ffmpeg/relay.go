/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package ffmpeg

import (
	"net/url"
	"strings"
)

// RelayJob copies the master feed to one distribution destination without
// re-encoding.
type RelayJob struct {
	InputURL        string
	OutputURL       string
	MediaServerHost string
}

// BuildRelayArgs constructs the ffmpeg argument list for a relay. RTMP and
// SRT destinations go through the fifo muxer so a flapping destination only
// drops packets instead of killing the relay; UDP stays direct for latency.
func BuildRelayArgs(job RelayJob) []string {
	input := MapInternalURL(job.InputURL, job.MediaServerHost)
	output := MapInternalURL(job.OutputURL, job.MediaServerHost)

	args := []string{
		"-thread_queue_size", "1024",
		"-fflags", "+genpts",
		// Survives the brief input gap during encoder clip transitions.
		"-rw_timeout", "10000000",
		"-i", input,
		"-map", "0",
		"-c", "copy",
	}

	switch {
	case strings.HasPrefix(output, "rtmp://"):
		args = append(args,
			"-f", "fifo",
			"-fifo_format", "flv",
			"-queue_size", "60000",
			"-attempt_recovery", "1",
			"-recovery_wait_time", "1",
			"-drop_pkts_on_overflow", "1",
			output,
		)

	case strings.HasPrefix(output, "srt://"):
		output = hardenSRTRelay(output)
		args = append(args,
			"-f", "fifo",
			"-fifo_format", "mpegts",
			"-queue_size", "60000",
			"-attempt_recovery", "1",
			"-drop_pkts_on_overflow", "1",
			"-recovery_wait_time", "1",
			output,
		)

	case strings.HasPrefix(output, "udp://"):
		output = hardenUDPRelay(output)
		args = append(args, "-f", "mpegts", output)

	default:
		args = append(args, output)
	}

	return args
}

func hardenSRTRelay(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	ensureParam(u, "transtype", "live")
	ensureParam(u, "latency", "200ms")
	ensureParam(u, "pkt_size", "1316")
	return u.String()
}

func hardenUDPRelay(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	if isMulticast(u) {
		ensureParam(u, "ttl", "2")
		ensureParam(u, "buffer_size", "10000000")
	} else if isListener(u) || hasParam(u, "listen") {
		ensureParam(u, "listen", "1")
		if isListener(u) {
			port := u.Port()
			u.User = nil
			if port != "" {
				u.Host = "0.0.0.0:" + port
			} else {
				u.Host = "0.0.0.0"
			}
		}
	}

	ensureParam(u, "pkt_size", "1316")
	return u.String()
}
