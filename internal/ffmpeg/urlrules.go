/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ffmpeg builds encoder and relay command lines. Everything here is
// pure argv and URL construction; process supervision lives in the engine and
// distribution packages.
package ffmpeg

import (
	"net"
	"net/url"
	"strings"
)

// Credentials the media server accepts for internal publishers.
const (
	internalUser = "backend"
	internalPass = "backend"
)

// internalHosts are hostnames that refer to the media server from inside the
// deployment. They get rewritten so subprocesses resolve the right container.
func isInternalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "mediamtx"
}

// ensureParam appends key=value to the URL query unless the key is already
// present. The existing query is left byte-for-byte untouched because SRT
// streamid values contain characters that must not be re-encoded.
func ensureParam(u *url.URL, key, value string) {
	if strings.Contains(u.RawQuery, key+"=") {
		return
	}
	if u.RawQuery == "" {
		u.RawQuery = key + "=" + value
	} else {
		u.RawQuery += "&" + key + "=" + value
	}
}

func hasParam(u *url.URL, key string) bool {
	return strings.Contains(u.RawQuery, key+"=")
}

func setHostKeepPort(u *url.URL, host string) {
	if port := u.Port(); port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}
}

// isMulticast reports whether the URL targets a multicast group (224.0.0.0/4).
func isMulticast(u *url.URL) bool {
	ip := net.ParseIP(u.Hostname())
	return ip != nil && ip.IsMulticast()
}

// isListener reports UDP listener notation: udp://@:port.
func isListener(u *url.URL) bool {
	return u.User != nil
}

// MapInternalURL rewrites loopback and media-server hostnames so the encoder
// and relays reach the right endpoint from inside the deployment, injecting
// internal credentials where the media server requires them.
func MapInternalURL(raw, mediaHost string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if !isInternalHost(u.Hostname()) {
		return raw
	}

	switch u.Scheme {
	case "rtmp":
		setHostKeepPort(u, mediaHost)
		if u.User == nil && !hasParam(u, "user") {
			ensureParam(u, "user", internalUser)
			ensureParam(u, "pass", internalPass)
		}
		return u.String()

	case "srt":
		if strings.Contains(u.RawQuery, "mode=listener") || hasParam(u, "listen") {
			// Listener binds all interfaces, so the host is dropped.
			setHostKeepPort(u, "")
			return u.String()
		}
		setHostKeepPort(u, mediaHost)
		injectSRTAuth(u)
		return u.String()

	case "udp":
		if isListener(u) {
			// Listener notation keeps the @ and binds locally.
			return u.String()
		}
		setHostKeepPort(u, "host.docker.internal")
		return u.String()
	}

	return raw
}

// injectSRTAuth adds internal credentials to a caller-mode SRT URL. The media
// server reads them from the streamid (action:path:user:pass).
func injectSRTAuth(u *url.URL) {
	if hasParam(u, "user") {
		return
	}
	if !strings.Contains(u.RawQuery, "streamid=") {
		ensureParam(u, "user", internalUser)
		ensureParam(u, "pass", internalPass)
		return
	}

	idx := strings.Index(u.RawQuery, "publish:")
	if idx < 0 {
		return
	}
	rest := u.RawQuery[idx+len("publish:"):]
	end := strings.IndexAny(rest, "?&")
	if end < 0 {
		end = len(rest)
	}
	pathname := rest[:end]
	if strings.Contains(pathname, ":"+internalUser+":"+internalPass) {
		return
	}
	u.RawQuery = u.RawQuery[:idx+len("publish:")] +
		pathname + ":" + internalUser + ":" + internalPass +
		rest[end:]
}

// PrepareOutputURL applies protocol hardening rules to an output URL and
// returns the final URL plus the container format ffmpeg should mux into it.
// The rules are idempotent: parameters are only added when absent.
func PrepareOutputURL(raw, mediaHost string) (string, string) {
	mapped := MapInternalURL(raw, mediaHost)

	u, err := url.Parse(mapped)
	if err != nil {
		return mapped, "flv"
	}

	switch u.Scheme {
	case "rtmp":
		return u.String(), "flv"

	case "srt":
		ensureParam(u, "transtype", "live")
		ensureParam(u, "latency", "200ms")
		ensureParam(u, "overhead_bandwidth", "25")
		if strings.Contains(u.RawQuery, "mode=listener") && !strings.Contains(u.RawQuery, "listen=1") {
			ensureParam(u, "listen", "1")
		}
		ensureParam(u, "pkt_size", "1316")
		return u.String(), "mpegts"

	case "udp":
		if isMulticast(u) {
			ensureParam(u, "ttl", "2")
			ensureParam(u, "buffer_size", "10000000")
			ensureParam(u, "localaddr", "0.0.0.0")
		}
		if isListener(u) {
			// ffmpeg 6 no longer accepts the @ notation, bind explicitly.
			ensureParam(u, "listen", "1")
			port := u.Port()
			u.User = nil
			if port != "" {
				u.Host = "0.0.0.0:" + port
			} else {
				u.Host = "0.0.0.0"
			}
		}
		ensureParam(u, "pkt_size", "1316")
		return u.String(), "mpegts"
	}

	return u.String(), "flv"
}
