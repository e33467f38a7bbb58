// Package config reads the environment-variable configuration surface
// documented in spec.md §6.2.
package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	defaultMaxUploadMB = 200
	bytesPerMB          = 1024 * 1024
)

// Config holds every recognized environment option.
type Config struct {
	Port                 string
	DBPath               string
	UploadDir            string
	UploadMaxSizeBytes   int64
	UploadMaxSizeLabel   string
	WebDist              string
	CookieSecure         bool
	CORSAllowedOrigins   []string
	SpatialExtensionPath string
	SpatialExtensionDir  string
	TestMode             bool
}

// Load reads Config from the process environment, applying the same
// defaults as original_source/backend/src/config.rs and main.rs.
func Load() Config {
	return Config{
		Port:                 getEnv("PORT", "3000"),
		DBPath:               getEnv("DB_PATH", "./data/mapflow.duckdb"),
		UploadDir:            getEnv("UPLOAD_DIR", "./uploads"),
		UploadMaxSizeBytes:   readMaxUploadBytes(),
		UploadMaxSizeLabel:   formatBytes(readMaxUploadBytes()),
		WebDist:              getEnv("WEB_DIST", "frontend/dist"),
		CookieSecure:         readBool("COOKIE_SECURE", false),
		CORSAllowedOrigins:   readCORSOrigins(),
		SpatialExtensionPath: os.Getenv("SPATIAL_EXTENSION_PATH"),
		SpatialExtensionDir:  os.Getenv("SPATIAL_EXTENSION_DIR"),
		TestMode:             os.Getenv("MAPFLOW_TEST_MODE") == "1",
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func readBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// readCORSOrigins parses a comma-separated CORS_ALLOWED_ORIGINS list,
// defaulting to the common frontend dev/preview origins.
func readCORSOrigins() []string {
	raw, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS")
	if !ok {
		return []string{"http://localhost:5173", "http://localhost:3000"}
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:5173", "http://localhost:3000"}
	}
	return out
}

// ReadMaxUploadBytes parses UPLOAD_MAX_SIZE_MB and returns the byte cap
// and a human label. Exported for tests that check default/custom/zero/
// invalid handling independent of the rest of Config.
func ReadMaxUploadBytes() (int64, string) {
	b := readMaxUploadBytes()
	return b, formatBytes(b)
}

func readMaxUploadBytes() int64 {
	mb := int64(defaultMaxUploadMB)
	if v, ok := os.LookupEnv("UPLOAD_MAX_SIZE_MB"); ok {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			mb = parsed
		}
	}
	return mb * bytesPerMB
}

func formatBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * 1024
		gb = 1024 * 1024 * 1024
	)
	switch {
	case b >= gb && b%gb == 0:
		return strconv.FormatInt(b/gb, 10) + "GB"
	case b >= mb && b%mb == 0:
		return strconv.FormatInt(b/mb, 10) + "MB"
	case b >= kb && b%kb == 0:
		return strconv.FormatInt(b/kb, 10) + "KB"
	default:
		return strconv.FormatInt(b, 10) + "B"
	}
}
