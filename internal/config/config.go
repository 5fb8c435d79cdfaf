package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Window modes.
const (
	ModeCumulative = "cumulative"
	ModePeriodic   = "periodic"
)

// Crossing policies.
const (
	PolicyPosition  = "position"
	PolicyDirection = "direction"
)

// Source is one monitored frame source.
type Source struct {
	Name    string
	Locator string
	Live    bool // live streams stall on end-of-stream, files rewind
}

type Config struct {
	Port      int
	DBPath    string
	LogDir    string
	StaticDir string

	BoundaryY      float64
	CrossingPolicy string
	WindowMode     string
	FlushInterval  time.Duration // cumulative mode cadence
	WindowInterval time.Duration // periodic mode window length
	TickInterval   time.Duration
	FlushOnStop    bool

	FrameTimeout time.Duration
	RetryMin     time.Duration
	RetryMax     time.Duration
	Sources      []Source

	ModelPath          string
	ModelConfigPath    string
	DetectionThreshold float64
	FrameWidth         int
	FrameHeight        int
	TrackIOU           float64
	TrackMaxMisses     int
	ShowOverlay        bool
}

// Load reads the configuration from the environment. Values from a .env file
// in the working directory are applied first without overriding variables
// that are already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:      getEnvAsInt("PORT", 5000),
		DBPath:    getEnv("DB_PATH", filepath.Join("data", "crowd.db")),
		LogDir:    getEnv("LOG_DIR", filepath.Join(".", "logs")),
		StaticDir: getEnv("STATIC_DIR", "static"),

		BoundaryY:      getEnvAsFloat("BOUNDARY_Y", 400),
		CrossingPolicy: strings.ToLower(getEnv("CROSSING_POLICY", PolicyPosition)),
		WindowMode:     strings.ToLower(getEnv("WINDOW_MODE", ModeCumulative)),
		FlushInterval:  getEnvAsDuration("FLUSH_INTERVAL", 5*time.Second),
		WindowInterval: getEnvAsDuration("WINDOW_INTERVAL", 60*time.Second),
		TickInterval:   getEnvAsDuration("TICK_INTERVAL", time.Second),
		FlushOnStop:    getEnvAsBool("FLUSH_ON_STOP", true),

		FrameTimeout: getEnvAsDuration("FRAME_TIMEOUT", 10*time.Second),
		RetryMin:     getEnvAsDuration("RETRY_MIN", time.Second),
		RetryMax:     getEnvAsDuration("RETRY_MAX", 30*time.Second),
		Sources:      ParseSources(getEnv("SOURCES", "Halsema Hwy (Km. 5)=la_trinidad_feed.mp4")),

		ModelPath:          getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ModelConfigPath:    getEnv("MODEL_CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		DetectionThreshold: getEnvAsFloat("DETECTION_THRESHOLD", 0.5),
		FrameWidth:         getEnvAsInt("FRAME_WIDTH", 1024),
		FrameHeight:        getEnvAsInt("FRAME_HEIGHT", 576),
		TrackIOU:           getEnvAsFloat("TRACK_IOU", 0.3),
		TrackMaxMisses:     getEnvAsInt("TRACK_MAX_MISSES", 15),
		ShowOverlay:        getEnvAsBool("SHOW_OVERLAY", false),
	}
}

// Interval returns the flush cadence of the configured window mode.
func (c *Config) Interval() time.Duration {
	if c.WindowMode == ModePeriodic {
		return c.WindowInterval
	}
	return c.FlushInterval
}

// Validate reports every configuration problem that must stop startup.
func (c *Config) Validate() error {
	var errs []error

	if math.IsNaN(c.BoundaryY) || math.IsInf(c.BoundaryY, 0) || c.BoundaryY < 0 {
		errs = append(errs, fmt.Errorf("BOUNDARY_Y must be a finite non-negative number, got %v", c.BoundaryY))
	}
	switch c.WindowMode {
	case ModeCumulative, ModePeriodic:
	default:
		errs = append(errs, fmt.Errorf("WINDOW_MODE must be %q or %q, got %q", ModeCumulative, ModePeriodic, c.WindowMode))
	}
	switch c.CrossingPolicy {
	case PolicyPosition, PolicyDirection:
	default:
		errs = append(errs, fmt.Errorf("CROSSING_POLICY must be %q or %q, got %q", PolicyPosition, PolicyDirection, c.CrossingPolicy))
	}
	for name, d := range map[string]time.Duration{
		"FLUSH_INTERVAL":  c.FlushInterval,
		"WINDOW_INTERVAL": c.WindowInterval,
		"TICK_INTERVAL":   c.TickInterval,
		"FRAME_TIMEOUT":   c.FrameTimeout,
		"RETRY_MIN":       c.RetryMin,
		"RETRY_MAX":       c.RetryMax,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.RetryMax < c.RetryMin {
		errs = append(errs, fmt.Errorf("RETRY_MAX (%s) must not be below RETRY_MIN (%s)", c.RetryMax, c.RetryMin))
	}
	if !(c.DetectionThreshold >= 0 && c.DetectionThreshold <= 1) {
		errs = append(errs, fmt.Errorf("DETECTION_THRESHOLD must be within [0,1], got %v", c.DetectionThreshold))
	}
	if !(c.TrackIOU > 0 && c.TrackIOU <= 1) {
		errs = append(errs, fmt.Errorf("TRACK_IOU must be within (0,1], got %v", c.TrackIOU))
	}
	if c.TrackMaxMisses < 0 {
		errs = append(errs, fmt.Errorf("TRACK_MAX_MISSES must not be negative, got %d", c.TrackMaxMisses))
	}
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %dx%d", c.FrameWidth, c.FrameHeight))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}

	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("SOURCES must name at least one source"))
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" || s.Locator == "" {
			errs = append(errs, fmt.Errorf("source %q: name and locator are required", s.Name))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate source name %q", s.Name))
		}
		seen[s.Name] = true
	}

	return errors.Join(errs...)
}

// ParseSources parses "name=locator[|file|live]" entries separated by ";".
// Without an explicit suffix a locator containing "://" is treated as live.
func ParseSources(raw string) []Source {
	var sources []Source
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, locator, found := strings.Cut(entry, "=")
		if !found {
			// Keep it so Validate can report it.
			sources = append(sources, Source{Name: strings.TrimSpace(entry)})
			continue
		}
		locator = strings.TrimSpace(locator)

		live := strings.Contains(locator, "://")
		if i := strings.LastIndex(locator, "|"); i >= 0 {
			switch strings.ToLower(strings.TrimSpace(locator[i+1:])) {
			case "live":
				live, locator = true, strings.TrimSpace(locator[:i])
			case "file":
				live, locator = false, strings.TrimSpace(locator[:i])
			}
		}

		sources = append(sources, Source{
			Name:    strings.TrimSpace(name),
			Locator: locator,
			Live:    live,
		})
	}
	return sources
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat keeps unparsable values visible as NaN so Validate rejects them.
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		return math.NaN()
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("1m30s") or plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
