// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Auth      AuthConfig              `mapstructure:"auth"`
	Canvas    CanvasConfig            `mapstructure:"canvas"`
	Sync      SyncConfig              `mapstructure:"sync"`
	Chunking  ChunkingConfig          `mapstructure:"chunking"`
	Scheduler SchedulerConfig         `mapstructure:"scheduler"`
	DB        DBConfig                `mapstructure:"db"`
	Cache     CacheConfig             `mapstructure:"cache"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Courses   map[string]CourseConfig `mapstructure:"courses"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CanvasConfig holds the Canvas API connection settings.
type CanvasConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	Token          string  `mapstructure:"token"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
	PerPage        int     `mapstructure:"per_page"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// SyncConfig governs the sync engine and worker pool.
type SyncConfig struct {
	Concurrency          int      `mapstructure:"concurrency"`
	MaxConcurrentCourses int      `mapstructure:"max_concurrent_courses"`
	QueueDepth           int      `mapstructure:"queue_depth"`
	MaxFileSizeMB        int      `mapstructure:"max_file_size_mb"`
	FileTypes            []string `mapstructure:"file_types"`
	SkipFilePatterns     []string `mapstructure:"skip_file_patterns"`
	MaxRetries           int      `mapstructure:"max_retries"`
	RetentionDays        int      `mapstructure:"retention_days"`
}

// ChunkingConfig controls the text chunker.
type ChunkingConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	Overlap      int `mapstructure:"overlap"`
	MinChunkSize int `mapstructure:"min_chunk_size"`
}

// SchedulerConfig controls the timezone-aware sync schedule.
type SchedulerConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Timezone  string   `mapstructure:"timezone"`
	RunTimes  []string `mapstructure:"run_times"`
	SkipDays  []string `mapstructure:"skip_days"`
	SkipDates []string `mapstructure:"skip_dates"`
}

// DBConfig controls access to the Postgres database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime string `mapstructure:"max_conn_lifetime"`
}

// CacheConfig sets the local download cache location.
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CourseConfig holds per-course sync settings keyed by the Canvas course ID.
type CourseConfig struct {
	Name          string   `mapstructure:"name"`
	Enabled       bool     `mapstructure:"enabled"`
	ModuleIDs     []int64  `mapstructure:"module_ids"` // empty means all modules
	FileTypes     []string `mapstructure:"file_types"` // empty falls back to sync.file_types
	Priority      string   `mapstructure:"priority"`
	MaxFileSizeMB int      `mapstructure:"max_file_size_mb"` // 0 falls back to sync.max_file_size_mb
	Reason        string   `mapstructure:"reason"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CANVASSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("canvas.timeout_seconds", 30)
	v.SetDefault("canvas.max_retries", 3)
	v.SetDefault("canvas.per_page", 100)
	v.SetDefault("canvas.rate_limit_rps", 4)
	v.SetDefault("canvas.rate_limit_burst", 8)
	v.SetDefault("sync.concurrency", 4)
	v.SetDefault("sync.max_concurrent_courses", 3)
	v.SetDefault("sync.queue_depth", 64)
	v.SetDefault("sync.max_file_size_mb", 50)
	v.SetDefault("sync.file_types", []string{"pdf", "pptx", "docx"})
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.retention_days", 90)
	v.SetDefault("chunking.chunk_size", 1000)
	v.SetDefault("chunking.overlap", 200)
	v.SetDefault("chunking.min_chunk_size", 100)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.timezone", "Australia/Melbourne")
	v.SetDefault("scheduler.run_times", []string{"12:00", "20:00"})
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("cache.dir", "data/downloads")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Canvas.BaseURL == "" {
		return fmt.Errorf("canvas.base_url is required")
	}
	if c.Canvas.Token == "" {
		return fmt.Errorf("canvas.token is required")
	}
	if c.Canvas.TimeoutSeconds <= 0 {
		return fmt.Errorf("canvas.timeout_seconds must be > 0")
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be > 0")
	}
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be > 0")
	}
	if c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.overlap must be smaller than chunking.chunk_size")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scheduler.Enabled {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
		for _, rt := range c.Scheduler.RunTimes {
			if _, err := time.Parse("15:04", rt); err != nil {
				return fmt.Errorf("scheduler.run_times entry %q: %w", rt, err)
			}
		}
	}
	return nil
}

// CanvasTimeout converts the configured Canvas timeout into a duration.
func (c Config) CanvasTimeout() time.Duration {
	return time.Duration(c.Canvas.TimeoutSeconds) * time.Second
}

// EnabledCourses returns the course IDs enabled for syncing.
func (c Config) EnabledCourses() []string {
	ids := make([]string, 0, len(c.Courses))
	for id, course := range c.Courses {
		if course.Enabled {
			ids = append(ids, id)
		}
	}
	return ids
}

// CourseFileTypes resolves the file type filter for a course.
func (c Config) CourseFileTypes(courseID string) []string {
	if course, ok := c.Courses[courseID]; ok && len(course.FileTypes) > 0 {
		return course.FileTypes
	}
	return c.Sync.FileTypes
}

// CourseMaxFileBytes resolves the file size cap for a course in bytes.
func (c Config) CourseMaxFileBytes(courseID string) int64 {
	limitMB := c.Sync.MaxFileSizeMB
	if course, ok := c.Courses[courseID]; ok && course.MaxFileSizeMB > 0 {
		limitMB = course.MaxFileSizeMB
	}
	return int64(limitMB) * 1024 * 1024
}

// ModuleEnabled reports whether a module is in scope for a course.
// An empty module allowlist means all modules are in scope.
func (c Config) ModuleEnabled(courseID string, moduleID int64) bool {
	course, ok := c.Courses[courseID]
	if !ok || !course.Enabled {
		return false
	}
	if len(course.ModuleIDs) == 0 {
		return true
	}
	for _, id := range course.ModuleIDs {
		if id == moduleID {
			return true
		}
	}
	return false
}
