package models

import (
	"os"
	"time"

	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Configuration
//
// All settings come from environment variables (CARDNOTES_ prefix) so
// deployment configuration stays external to the binary. main loads a
// .env file first, then this reads the resulting environment.
// ============================================================================

// Config holds the application configuration.
type Config struct {
	HTTPAddr   string // listen address (CARDNOTES_HTTP_ADDR)
	StorePath  string // DuckDB file path; empty disables local persistence (CARDNOTES_STORE_PATH)
	CloudURL   string // base URL of the remote store backend (CARDNOTES_CLOUD_URL)
	CloudToken string // bearer token for the remote store (CARDNOTES_CLOUD_TOKEN)

	QueueInterval     time.Duration // offline queue drain interval (CARDNOTES_QUEUE_INTERVAL)
	ReconcileInterval time.Duration // reconciliation pass interval (CARDNOTES_RECONCILE_INTERVAL)
	ValidationWindow  time.Duration // minimum card age before eviction (CARDNOTES_VALIDATION_WINDOW)
}

const (
	defaultHTTPAddr  = ":8000"
	defaultStorePath = "./data/cards.ddb"
)

// LoadConfig reads configuration from the environment, applying defaults
// for anything unset. A config is returned even when the cloud side is
// unconfigured; the engine runs local-only in that case.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		HTTPAddr:          defaultHTTPAddr,
		StorePath:         defaultStorePath,
		QueueInterval:     defaultQueueInterval,
		ReconcileInterval: defaultReconcileInterval,
		ValidationWindow:  defaultValidationWindow,
	}

	if v := os.Getenv("CARDNOTES_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v, ok := os.LookupEnv("CARDNOTES_STORE_PATH"); ok {
		cfg.StorePath = v // explicitly empty means: no local store
	}
	cfg.CloudURL = os.Getenv("CARDNOTES_CLOUD_URL")
	cfg.CloudToken = os.Getenv("CARDNOTES_CLOUD_TOKEN")

	var err error
	if cfg.QueueInterval, err = durationEnv("CARDNOTES_QUEUE_INTERVAL", cfg.QueueInterval); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = durationEnv("CARDNOTES_RECONCILE_INTERVAL", cfg.ReconcileInterval); err != nil {
		return nil, err
	}
	if cfg.ValidationWindow, err = durationEnv("CARDNOTES_VALIDATION_WINDOW", cfg.ValidationWindow); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate fails fast on misconfiguration rather than discovering it
// mid-sync.
func (c *Config) Validate() error {
	if c.CloudToken != "" && c.CloudURL == "" {
		return serr.New("CARDNOTES_CLOUD_URL is required when a cloud token is set")
	}
	if c.QueueInterval < time.Second {
		return serr.New("CARDNOTES_QUEUE_INTERVAL must be at least 1s")
	}
	if c.ReconcileInterval < 10*time.Second {
		return serr.New("CARDNOTES_RECONCILE_INTERVAL must be at least 10s")
	}
	return nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, serr.Wrap(err, "invalid "+name+" value, expected duration like '5m' or '30s'")
	}
	return d, nil
}
