package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
mongodb:
  uri: mongodb://localhost:27017
  database: bagstore
delhivery:
  token: abc
  pickup_location: WAREHOUSE
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.MongoDB.OrdersCollection)
	assert.Equal(t, "sessionstartedorders", cfg.MongoDB.SessionOrdersCollection)
	assert.Equal(t, 15*time.Second, cfg.Delhivery.Timeout)
	assert.Equal(t, "4202", cfg.Shipment.HSNCode)
	assert.Equal(t, 300.0, cfg.Shipment.UnitWeightGrams)
	assert.Equal(t, "Surface", cfg.Shipment.ShippingMode)
	assert.Equal(t, time.Hour, cfg.Reconcile.FreshWindow)
	assert.Equal(t, []string{"stdout"}, cfg.Log.OutputPaths)
	assert.False(t, cfg.Etcd.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
delhivery:
  timeout: 7s
scheduler:
  interval: 5m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Delhivery.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	t.Setenv("ORDERDESK_DELHIVERY_TOKEN", "from-env")
	t.Setenv("ORDERDESK_AUTH_INTERNAL_SECRET", "s3cret")
	path := writeConfig(t, "delhivery:\n  pickup_location: WAREHOUSE\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Delhivery.Token)
	assert.Equal(t, "s3cret", cfg.Auth.InternalSecret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mongodb.uri")
	assert.Contains(t, err.Error(), "delhivery.token")
	assert.Contains(t, err.Error(), "unit_weight_grams")

	cfg = &Config{
		MongoDB:    MongoDBConfig{URI: "mongodb://x", Database: "db"},
		Delhivery:  DelhiveryConfig{Token: "t", PickupLocation: "W"},
		Shipment:   ShipmentConfig{UnitWeightGrams: 300},
		Shiprocket: ShiprocketConfig{Enabled: true},
	}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shiprocket.email")
}
