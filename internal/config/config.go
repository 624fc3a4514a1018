/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseBackend selects the SQL dialect the engine reads its models from.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	// Encoder binaries
	FFmpegBin  string
	FFprobeBin string

	// Paths
	HLSDir   string // rolling local HLS preview segments
	DataDir  string // concat sequence files and other transient state
	MediaDir string // root for relative clip paths

	// Media server (MediaMTX or compatible) the master feed publishes to
	MediaServerHost      string // internal hostname relays and the encoder reach it at
	MediaServerAPIURL    string // status API, e.g. http://mediamtx:9997
	MasterFeedPath       string // path name of the master feed, e.g. live/stream
	MasterFeedPublishURL string // encoder output, e.g. rtmp://mediamtx:1935/live/stream
	MasterFeedReadURL    string // relay input, usually the same endpoint
	HealthCheckTimeout   time.Duration
	FeedGraceWindow      time.Duration

	// Engine tunables
	TickInterval    time.Duration
	RelayCooldown   time.Duration
	SequenceLength  int     // clips per gapless encoder sequence
	OverlayEpsilon  float64 // opacity/scale delta that forces a restart
	NextClipsWindow int     // look-ahead items reported in status
	ViewerWindow    time.Duration
	PreviewWindow   time.Duration

	// Event mirroring
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InstanceID    string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	MetricsBind string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"GRIMNIR_TV_ENV", "GRIMNIR_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"GRIMNIR_TV_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"GRIMNIR_TV_HTTP_PORT"}, 8181),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"GRIMNIR_TV_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:       getEnvAny([]string{"GRIMNIR_TV_DB_DSN", "DATABASE_URL"}, ""),

		FFmpegBin:  getEnvAny([]string{"GRIMNIR_TV_FFMPEG_BIN", "FFMPEG_PATH"}, "ffmpeg"),
		FFprobeBin: getEnvAny([]string{"GRIMNIR_TV_FFPROBE_BIN", "FFPROBE_PATH"}, "ffprobe"),

		HLSDir:   getEnvAny([]string{"GRIMNIR_TV_HLS_DIR", "HLS_PATH"}, "/var/lib/grimnir_tv/hls"),
		DataDir:  getEnvAny([]string{"GRIMNIR_TV_DATA_DIR"}, "/var/lib/grimnir_tv/run"),
		MediaDir: getEnvAny([]string{"GRIMNIR_TV_MEDIA_DIR"}, "/var/lib/grimnir_tv/media"),

		MediaServerHost:      getEnvAny([]string{"GRIMNIR_TV_MEDIA_SERVER_HOST"}, "mediamtx"),
		MediaServerAPIURL:    getEnvAny([]string{"GRIMNIR_TV_MEDIA_SERVER_API_URL"}, "http://mediamtx:9997"),
		MasterFeedPath:       getEnvAny([]string{"GRIMNIR_TV_MASTER_FEED_PATH"}, "live/stream"),
		MasterFeedPublishURL: getEnvAny([]string{"GRIMNIR_TV_MASTER_FEED_PUBLISH_URL"}, "rtmp://mediamtx:1935/live/stream"),
		MasterFeedReadURL:    getEnvAny([]string{"GRIMNIR_TV_MASTER_FEED_READ_URL"}, "rtmp://mediamtx:1935/live/stream"),
		HealthCheckTimeout:   time.Duration(getEnvIntAny([]string{"GRIMNIR_TV_HEALTH_TIMEOUT_MS"}, 1000)) * time.Millisecond,
		FeedGraceWindow:      time.Duration(getEnvIntAny([]string{"GRIMNIR_TV_FEED_GRACE_SECONDS"}, 10)) * time.Second,

		TickInterval:    time.Duration(getEnvIntAny([]string{"GRIMNIR_TV_TICK_MS"}, 1000)) * time.Millisecond,
		RelayCooldown:   time.Duration(getEnvIntAny([]string{"GRIMNIR_TV_RELAY_COOLDOWN_SECONDS"}, 5)) * time.Second,
		SequenceLength:  getEnvIntAny([]string{"GRIMNIR_TV_SEQUENCE_LENGTH"}, 50),
		OverlayEpsilon:  getEnvFloatAny([]string{"GRIMNIR_TV_OVERLAY_EPSILON"}, 0.01),
		NextClipsWindow: getEnvIntAny([]string{"GRIMNIR_TV_NEXT_CLIPS"}, 5),
		ViewerWindow:    time.Duration(getEnvIntAny([]string{"GRIMNIR_TV_VIEWER_WINDOW_SECONDS"}, 15)) * time.Second,
		PreviewWindow:   time.Duration(getEnvIntAny([]string{"GRIMNIR_TV_PREVIEW_WINDOW_SECONDS"}, 60)) * time.Second,

		RedisAddr:     getEnvAny([]string{"GRIMNIR_TV_REDIS_ADDR"}, ""),
		RedisPassword: getEnvAny([]string{"GRIMNIR_TV_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"GRIMNIR_TV_REDIS_DB"}, 0),
		InstanceID:    getEnvAny([]string{"GRIMNIR_TV_INSTANCE_ID"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"GRIMNIR_TV_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"GRIMNIR_TV_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"GRIMNIR_TV_TRACING_SAMPLE_RATE"}, 1.0),

		MetricsBind: getEnvAny([]string{"GRIMNIR_TV_METRICS_BIND"}, "127.0.0.1:9000"),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("GRIMNIR_TV_DB_DSN or DATABASE_URL must be provided")
	}

	if cfg.SequenceLength < 1 {
		return nil, fmt.Errorf("GRIMNIR_TV_SEQUENCE_LENGTH must be at least 1")
	}

	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("GRIMNIR_TV_TICK_MS must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the listen address for the control surface.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "1", "yes":
				return true
			case "false", "0", "no":
				return false
			}
		}
	}
	return def
}

func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
