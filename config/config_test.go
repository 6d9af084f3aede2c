package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 3, cfg.Database.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.RetryDelay())
	assert.Equal(t, "pawapay", cfg.Push.Name)
	assert.Equal(t, "cinetpay", cfg.Redirect.Name)
	assert.Equal(t, 30*time.Second, cfg.GatewayTimeout())
	assert.Equal(t, time.Hour, cfg.PendingTTL())
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval())
	assert.Equal(t, 256, cfg.EventQueueSize)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("CORS_ORIGINS", "https://app.example, https://admin.example")
	t.Setenv("PENDING_TTL_MINUTES", "15")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://app.example", "https://admin.example"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 15*time.Minute, cfg.PendingTTL())
}

func TestLoadConfig_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("REDIRECT_SITE_ID=445566\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("REDIRECT_SITE_ID") })

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "445566", cfg.Redirect.SiteID)
}

func TestLoadConfig_BadValue(t *testing.T) {
	t.Setenv("DB_MAX_RETRIES", "many")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestParsePlanCatalog(t *testing.T) {
	catalog, err := ParsePlanCatalog([]byte(`
plans:
  - id: starter
    name: Starter
    price_monthly: 10000
  - id: legacy
    name: Legacy
    currency: xaf
    version: 2
    active: false
`))
	require.NoError(t, err)
	require.Len(t, catalog.Plans, 2)

	starter := catalog.Plans[0]
	assert.Equal(t, 1, starter.Version)
	assert.Equal(t, "XOF", starter.Currency)
	assert.True(t, starter.Active)
	assert.Equal(t, int64(10000), starter.PriceMonthly)

	legacy := catalog.Plans[1]
	assert.Equal(t, 2, legacy.Version)
	assert.Equal(t, "XAF", legacy.Currency)
	assert.False(t, legacy.Active)
}

func TestParsePlanCatalog_Errors(t *testing.T) {
	tests := map[string]string{
		"missing id":     "plans:\n  - name: Nameless\n",
		"duplicate id":   "plans:\n  - id: a\n  - id: a\n",
		"negative price": "plans:\n  - id: a\n    price_yearly: -1\n",
		"bad yaml":       "plans: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePlanCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadPlanCatalog_Shipped(t *testing.T) {
	catalog, err := LoadPlanCatalog("plans.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, catalog.Plans)
	assert.Equal(t, int64(0), catalog.Plans[0].PriceMonthly)
}
