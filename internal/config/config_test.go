package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Canvas: CanvasConfig{
			BaseURL:        "https://canvas.example.edu",
			Token:          "token",
			TimeoutSeconds: 30,
		},
		Sync:     SyncConfig{Concurrency: 4, MaxFileSizeMB: 50},
		Chunking: ChunkingConfig{ChunkSize: 1000, Overlap: 200, MinChunkSize: 100},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base url", func(c *Config) { c.Canvas.BaseURL = "" }},
		{"missing token", func(c *Config) { c.Canvas.Token = "" }},
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero concurrency", func(c *Config) { c.Sync.Concurrency = 0 }},
		{"overlap too large", func(c *Config) { c.Chunking.Overlap = 2000 }},
		{"auth without key", func(c *Config) { c.Auth = AuthConfig{Enabled: true} }},
		{"bad timezone", func(c *Config) {
			c.Scheduler = SchedulerConfig{Enabled: true, Timezone: "Mars/Olympus"}
		}},
		{"bad run time", func(c *Config) {
			c.Scheduler = SchedulerConfig{Enabled: true, Timezone: "UTC", RunTimes: []string{"25:99"}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
canvas:
  base_url: https://canvas.example.edu
  token: secret
sync:
  file_types: [pdf, docx]
courses:
  "12345":
    name: Algorithms
    enabled: true
    module_ids: [11, 22]
  "67890":
    name: Databases
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://canvas.example.edu", cfg.Canvas.BaseURL)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 1000, cfg.Chunking.ChunkSize)
	require.Equal(t, []string{"pdf", "docx"}, cfg.Sync.FileTypes)

	require.Equal(t, []string{"12345"}, cfg.EnabledCourses())
	require.True(t, cfg.ModuleEnabled("12345", 11))
	require.False(t, cfg.ModuleEnabled("12345", 33))
	require.False(t, cfg.ModuleEnabled("67890", 11))
}

func TestCourseOverrides(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Sync.FileTypes = []string{"pdf"}
	cfg.Courses = map[string]CourseConfig{
		"1": {Enabled: true, FileTypes: []string{"pptx"}, MaxFileSizeMB: 10},
		"2": {Enabled: true},
	}

	require.Equal(t, []string{"pptx"}, cfg.CourseFileTypes("1"))
	require.Equal(t, []string{"pdf"}, cfg.CourseFileTypes("2"))
	require.Equal(t, int64(10*1024*1024), cfg.CourseMaxFileBytes("1"))
	require.Equal(t, int64(50*1024*1024), cfg.CourseMaxFileBytes("2"))

	// empty allowlist means every module is in scope
	require.True(t, cfg.ModuleEnabled("2", 999))
}
