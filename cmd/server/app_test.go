package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/facility-engine/config"
)

func testConfig(driver, dsn string) *config.Config {
	grace, limit := 1, 3
	return &config.Config{
		Server: config.ServerConfig{Port: 8080},
		Store:  config.StoreConfig{Driver: driver, DSN: dsn},
		Lock:   config.LockConfig{Backend: "local", Wait: time.Second},
		Scheduler: config.SchedulerConfig{
			Enabled:  false,
			Interval: time.Minute,
		},
		Policy: config.PolicyConfig{
			MaxDaysInAdvance:       30,
			MinDurationMinutes:     30,
			MaxDurationMinutes:     240,
			AutoCompleteGraceHours: &grace,
			MaxActivePerUser:       &limit,
		},
	}
}

func TestNewApp_Drivers(t *testing.T) {
	tests := []struct {
		driver string
		dsn    string
	}{
		{"memory", ""},
		{"sqlite", ":memory:"},
		{"sqlite", filepath.Join(t.TempDir(), "facility.db")},
	}
	for _, tt := range tests {
		t.Run(tt.driver+" "+tt.dsn, func(t *testing.T) {
			cfg := testConfig(tt.driver, tt.dsn)
			require.NoError(t, cfg.Validate())

			a, err := newApp(context.Background(), cfg, zap.NewNop())
			require.NoError(t, err)
			defer a.Close()

			rec := httptest.NewRecorder()
			a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/facilities", nil))
			assert.Equal(t, http.StatusOK, rec.Code)

			res, err := a.scheduler.RunNow(context.Background())
			require.NoError(t, err)
			assert.Zero(t, res.Scanned)
		})
	}
}

func TestOpenBackend_UnknownDriver(t *testing.T) {
	_, _, err := openBackend(context.Background(), testConfig("mongo", "x"), zap.NewNop(), nil)

	assert.ErrorContains(t, err, "unknown store driver")
}
