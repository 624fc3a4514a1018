/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version exposes the running build's version and a background
// check against the latest published release.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Version is the current version of Grimnir TV. Overridden at build time:
//
//	-X github.com/friendsincode/grimnir_tv/internal/version.Version=X.Y.Z
var Version = "0.0.1-alpha"

// githubRepo is polled for the latest release tag.
const githubRepo = "friendsincode/grimnir_tv"

// UpdateInfo is the version state reported on the control surface.
type UpdateInfo struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateAvailable bool
	ReleaseURL      string
	CheckedAt       time.Time
}

// Checker polls GitHub for newer releases while its context is alive.
type Checker struct {
	logger zerolog.Logger
	client *http.Client
	period time.Duration

	mu   sync.RWMutex
	info UpdateInfo
}

// NewChecker creates a release checker that polls every six hours.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		logger: logger.With().Str("component", "update-checker").Logger(),
		period: 6 * time.Hour,
		client: &http.Client{Timeout: 10 * time.Second},
		info:   UpdateInfo{CurrentVersion: Version},
	}
}

// Start checks once immediately, then on the poll period until ctx ends.
func (c *Checker) Start(ctx context.Context) {
	c.check(ctx)

	go func() {
		ticker := time.NewTicker(c.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.check(ctx)
			}
		}
	}()
}

// Info returns the last observed version state.
func (c *Checker) Info() UpdateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

func (c *Checker) check(ctx context.Context) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", githubRepo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "Grimnir-TV/"+Version)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("release check failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug().Int("status", resp.StatusCode).Msg("release check refused")
		return
	}

	var release struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		c.logger.Debug().Err(err).Msg("release check undecodable")
		return
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	available := newer(latest, Version)

	c.mu.Lock()
	c.info = UpdateInfo{
		CurrentVersion:  Version,
		LatestVersion:   latest,
		UpdateAvailable: available,
		ReleaseURL:      release.HTMLURL,
		CheckedAt:       time.Now(),
	}
	c.mu.Unlock()

	if available {
		c.logger.Info().
			Str("current", Version).
			Str("latest", latest).
			Str("url", release.HTMLURL).
			Msg("new version available")
	}
}

// newer reports whether semver a is strictly newer than b. Pre-release
// suffixes are ignored; only major.minor.patch compare.
func newer(a, b string) bool {
	av, bv := parts(a), parts(b)
	for i := 0; i < 3; i++ {
		if av[i] != bv[i] {
			return av[i] > bv[i]
		}
	}
	return false
}

func parts(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	var out [3]int
	for i, p := range strings.SplitN(v, ".", 3) {
		if dash := strings.IndexByte(p, '-'); dash >= 0 {
			p = p[:dash]
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		out[i] = n
	}
	return out
}
