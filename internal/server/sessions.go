/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const sessionCookie = "hls_sid"

// sessionMiddleware classifies HLS requests into real viewers and dashboard
// previews and stamps a session cookie on playlist fetches so one player
// counts as one viewer across segment requests.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := sessionID(r)

		if strings.HasSuffix(r.URL.Path, ".m3u8") {
			if _, err := r.Cookie(sessionCookie); err != nil {
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookie,
					Value:    sid,
					Path:     "/hls/",
					MaxAge:   3600,
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}
		}

		if isPreviewRequest(r) {
			s.engine.MarkPreview(clientIP(r))
		} else {
			s.engine.MarkViewer(sid)
		}

		next.ServeHTTP(w, r)
	})
}

// isPreviewRequest distinguishes the dashboard's embedded player from real
// audience players. The dashboard tags its player with preview=true; browser
// players loading the stream from a dashboard page also send a same-host
// referer.
func isPreviewRequest(r *http.Request) bool {
	if r.URL.Query().Get("preview") == "true" {
		return true
	}
	referer := r.Header.Get("Referer")
	if referer == "" {
		return false
	}
	host := requestHost(r)
	return strings.Contains(referer, host+"/") || strings.Contains(referer, host+":")
}

// sessionID prefers the cookie; without one, IP plus user agent is stable
// enough for players that never send cookies (VLC, smart TVs).
func sessionID(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if ua := r.UserAgent(); ua != "" {
		return clientIP(r) + "|" + ua
	}
	return uuid.NewString()
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
