package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/facility-engine/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_RequiresGraceAndCap(t *testing.T) {
	// GIVEN: A config file without the required policy values
	path := writeConfig(t, "store:\n  driver: memory\n")

	// WHEN / THEN: Loading fails
	_, err := config.Load(path)
	assert.ErrorContains(t, err, "auto_complete_grace_hours")

	path = writeConfig(t, "store:\n  driver: memory\npolicy:\n  auto_complete_grace_hours: 2\n")
	_, err = config.Load(path)
	assert.ErrorContains(t, err, "max_active_per_user")
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
store:
  driver: memory
scheduler:
  interval: 1m
policy:
  auto_complete_grace_hours: 0
  max_active_per_user: 3
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "local", cfg.Lock.Backend)

	p := cfg.Policy.Defaults()
	assert.Equal(t, 30, p.MaxDaysInAdvance)
	assert.Equal(t, 30, p.MinDurationMinutes)
	assert.Equal(t, 480, p.MaxDurationMinutes)
	assert.Equal(t, 0, p.AutoCompleteGraceHours)
	assert.Equal(t, 3, p.MaxActivePerUser)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: memory\n")
	t.Setenv("FACILITY_POLICY_AUTO_COMPLETE_GRACE_HOURS", "4")
	t.Setenv("FACILITY_POLICY_MAX_ACTIVE_PER_USER", "2")
	t.Setenv("FACILITY_SERVER_PORT", "7070")
	t.Setenv("FACILITY_MAIL_DOMAIN", "campus.test")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Policy.Defaults().AutoCompleteGraceHours)
	assert.Equal(t, 2, cfg.Policy.Defaults().MaxActivePerUser)
	assert.Equal(t, "campus.test", cfg.Mail.Domain)
}

func TestValidate(t *testing.T) {
	grace, limit := 1, 3
	valid := func() config.Config {
		return config.Config{
			Server:    config.ServerConfig{Port: 8080},
			Store:     config.StoreConfig{Driver: "memory"},
			Lock:      config.LockConfig{Backend: "local", Wait: time.Second},
			Scheduler: config.SchedulerConfig{Enabled: true, Interval: time.Minute},
			Policy: config.PolicyConfig{
				MaxDaysInAdvance: 30, MinDurationMinutes: 30, MaxDurationMinutes: 480,
				AutoCompleteGraceHours: &grace, MaxActivePerUser: &limit,
			},
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"bad port", func(c *config.Config) { c.Server.Port = 0 }},
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "mysql" }},
		{"sqlite without dsn", func(c *config.Config) { c.Store.Driver = "sqlite" }},
		{"redis lock without addr", func(c *config.Config) { c.Lock.Backend = "redis" }},
		{"zero lock wait", func(c *config.Config) { c.Lock.Wait = 0 }},
		{"zero interval", func(c *config.Config) { c.Scheduler.Interval = 0 }},
		{"zero cap", func(c *config.Config) { zero := 0; c.Policy.MaxActivePerUser = &zero }},
		{"negative grace", func(c *config.Config) { neg := -1; c.Policy.AutoCompleteGraceHours = &neg }},
		{"min above max", func(c *config.Config) { c.Policy.MinDurationMinutes = 600 }},
		{"mail without host", func(c *config.Config) { c.Mail.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
