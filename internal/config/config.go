package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pauljones0/holemonitor/internal/validator"
)

const (
	ModeMonitor  = "monitor"
	ModeBackfill = "backfill"

	DriverSQLite    = "sqlite"
	DriverFirestore = "firestore"

	NotifierServerChan = "serverchan"
	NotifierDiscord    = "discord"
)

// ErrInvalidMode is returned for an unknown MODE.
var ErrInvalidMode = errors.New("invalid mode")

type Config struct {
	Mode string `validate:"oneof=monitor backfill"`

	// Fetch client
	APIBaseURL        string `validate:"required,url"`
	Token             string `validate:"required"`
	Cookie            string
	FetchTimeout      time.Duration
	RequestsPerSecond float64 `validate:"gte=0"`
	MaxAttempts       int     `validate:"gte=1"`
	RetryBackoff      time.Duration

	// Pacing
	SearchPages   int `validate:"gte=1"`
	PageInterval  time.Duration
	PageJitter    time.Duration
	CycleInterval time.Duration
	MorningSleep  bool
	QuietHour     int `validate:"gte=0,lte=23"`
	QuietDuration time.Duration

	// Tracking and matching
	WithComments      bool
	KeyWords          string
	LiveKeyWords      string
	NegativeKeyWords  string
	MaxStagnantCycles int `validate:"gte=1"`
	HotCapacity       int `validate:"gte=1"`

	// Backfill
	NumDays         int `validate:"gte=0"`
	FlushEveryPages int `validate:"gte=1"`
	ExportDir       string

	// Storage
	StoreDriver    string `validate:"oneof=sqlite firestore"`
	DBPath         string
	RemoveExisting bool
	ProjectID      string `validate:"required_if=StoreDriver firestore"`

	// Notification
	Notifier          string `validate:"oneof=serverchan discord"`
	ServerKey         string
	DiscordWebhookURL string
	GeminiAPIKey      string
	GeminiModel       string

	Port      string
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Mode:              strings.ToLower(envOr("MODE", ModeMonitor)),
		APIBaseURL:        envOr("TREEHOLE_API_BASE", "https://treehole.pku.edu.cn/api"),
		Token:             os.Getenv("TREEHOLE_TOKEN"),
		Cookie:            os.Getenv("TREEHOLE_COOKIE"),
		KeyWords:          os.Getenv("KEY_WORDS"),
		LiveKeyWords:      os.Getenv("LIVE_KEY_WORDS"),
		NegativeKeyWords:  os.Getenv("NEGATIVE_KEY_WORDS"),
		ExportDir:         os.Getenv("EXPORT_DIR"),
		StoreDriver:       strings.ToLower(envOr("STORE_DRIVER", DriverSQLite)),
		DBPath:            os.Getenv("DB_PATH"),
		ProjectID:         os.Getenv("GOOGLE_CLOUD_PROJECT"),
		Notifier:          strings.ToLower(envOr("NOTIFIER", NotifierServerChan)),
		ServerKey:         os.Getenv("SERVER_KEY"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		Port:              envOr("PORT", "8080"),
		LogLevel:          strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(envOr("LOG_FORMAT", "text")),
	}

	if cfg.Mode != ModeMonitor && cfg.Mode != ModeBackfill {
		return nil, fmt.Errorf("%w %q: expected %s or %s", ErrInvalidMode, cfg.Mode, ModeMonitor, ModeBackfill)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("TREEHOLE_TOKEN environment variable is required but not set")
	}

	var err error
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"FETCH_TIMEOUT", "30s", &cfg.FetchTimeout},
		{"RETRY_BACKOFF", "2s", &cfg.RetryBackoff},
		{"PAGE_INTERVAL", "5s", &cfg.PageInterval},
		{"PAGE_JITTER", "1s", &cfg.PageJitter},
		{"CYCLE_INTERVAL", "5m", &cfg.CycleInterval},
		{"QUIET_DURATION", "5h", &cfg.QuietDuration},
	}
	for _, d := range durations {
		if *d.dest, err = envDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"MAX_ATTEMPTS", 4, &cfg.MaxAttempts},
		{"SEARCH_PAGES", 3, &cfg.SearchPages},
		{"QUIET_HOUR", 3, &cfg.QuietHour},
		{"MAX_STAGNANT_CYCLES", 3, &cfg.MaxStagnantCycles},
		{"HOT_CAPACITY", 5, &cfg.HotCapacity},
		{"NUM_DAYS", 1, &cfg.NumDays},
		{"FLUSH_EVERY_PAGES", 10, &cfg.FlushEveryPages},
	}
	for _, i := range ints {
		if *i.dest, err = envInt(i.key, i.def); err != nil {
			return nil, err
		}
	}

	bools := []struct {
		key  string
		def  bool
		dest *bool
	}{
		{"WITH_COMMENTS", true, &cfg.WithComments},
		{"MORNING_SLEEP", false, &cfg.MorningSleep},
		{"REMOVE_EXISTING", false, &cfg.RemoveExisting},
	}
	for _, b := range bools {
		if *b.dest, err = envBool(b.key, b.def); err != nil {
			return nil, err
		}
	}

	rps := 2.0
	if v := os.Getenv("REQUESTS_PER_SECOND"); v != "" {
		rps, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid REQUESTS_PER_SECOND %q: %w", v, err)
		}
	}
	cfg.RequestsPerSecond = rps

	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath(time.Now(), cfg.Mode)
		slog.Info("Defaulting database path", "path", cfg.DBPath)
	}
	if cfg.StoreDriver == DriverFirestore && cfg.ProjectID == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT environment variable is required for the firestore store")
	}
	if cfg.ServerKey == "" && cfg.Notifier == NotifierServerChan {
		slog.Warn("SERVER_KEY not set, notifications will be skipped")
	}
	if cfg.DiscordWebhookURL == "" && cfg.Notifier == NotifierDiscord {
		slog.Warn("DISCORD_WEBHOOK_URL not set, notifications will be skipped")
	}

	if err := validator.New().ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultDBPath names the database after the start date and mode.
func DefaultDBPath(now time.Time, mode string) string {
	return filepath.Join("data", fmt.Sprintf("%s_holes_%s.db", now.Format("2006-01-02"), mode))
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envDuration(key, def string) (time.Duration, error) {
	s := envOr(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}
