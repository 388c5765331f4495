package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
}

func TestLoadDefaults(t *testing.T) {
	resetViper()
	defer resetViper()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Threshold.SourceFIDMVThreshold != 50 {
		t.Errorf("Threshold.SourceFIDMVThreshold = %d, want 50", cfg.Threshold.SourceFIDMVThreshold)
	}
	if cfg.Threshold.FIDRangeThreshold != 20 {
		t.Errorf("Threshold.FIDRangeThreshold = %d, want 20", cfg.Threshold.FIDRangeThreshold)
	}
	if cfg.Threshold.MaxInlineFIDs != 30 {
		t.Errorf("Threshold.MaxInlineFIDs = %d, want 30", cfg.Threshold.MaxInlineFIDs)
	}
	if cfg.Threshold.MaxWKTLength != 100000 {
		t.Errorf("Threshold.MaxWKTLength = %d, want 100000", cfg.Threshold.MaxWKTLength)
	}
	if cfg.Threshold.WKTPrecisionGeographic != 8 {
		t.Errorf("Threshold.WKTPrecisionGeographic = %d, want 8", cfg.Threshold.WKTPrecisionGeographic)
	}
	if cfg.Threshold.WKTPrecisionProjected != 3 {
		t.Errorf("Threshold.WKTPrecisionProjected = %d, want 3", cfg.Threshold.WKTPrecisionProjected)
	}
	if cfg.Threshold.LongQueryWarningMS != 10000 {
		t.Errorf("Threshold.LongQueryWarningMS = %d, want 10000", cfg.Threshold.LongQueryWarningMS)
	}
	if cfg.Threshold.VeryLongQueryWarningMS != 30000 {
		t.Errorf("Threshold.VeryLongQueryWarningMS = %d, want 30000", cfg.Threshold.VeryLongQueryWarningMS)
	}
	if cfg.Threshold.MaxFeaturesForUpdateExtents != 50000 {
		t.Errorf("Threshold.MaxFeaturesForUpdateExtents = %d, want 50000", cfg.Threshold.MaxFeaturesForUpdateExtents)
	}
	if cfg.Threshold.ParallelMinLayers != 2 {
		t.Errorf("Threshold.ParallelMinLayers = %d, want 2", cfg.Threshold.ParallelMinLayers)
	}
	if cfg.Threshold.OrphanMVMaxAge != 24*time.Hour {
		t.Errorf("Threshold.OrphanMVMaxAge = %v, want 24h", cfg.Threshold.OrphanMVMaxAge)
	}
	if cfg.Storage.Type != "local" {
		t.Errorf("Storage.Type = %q, want local", cfg.Storage.Type)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	resetViper()
	defer resetViper()

	t.Setenv("FILTERGEIST_THRESHOLD_FID_RANGE_THRESHOLD", "99")
	t.Setenv("FILTERGEIST_SERVER_PORT", "9090")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Threshold.FIDRangeThreshold != 99 {
		t.Errorf("Threshold.FIDRangeThreshold = %d, want 99 (env override)", cfg.Threshold.FIDRangeThreshold)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090 (env override)", cfg.Server.Port)
	}
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		resetViper()
		Defaults()
		var cfg Config
		_ = viper.Unmarshal(&cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "tls enabled without domains", mutate: func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.Email = "ops@example.com"
		}, wantErr: true},
		{name: "s3 storage without bucket", mutate: func(c *Config) { c.Storage.Type = "s3" }, wantErr: true},
		{name: "unknown storage type", mutate: func(c *Config) { c.Storage.Type = "ftp" }, wantErr: true},
		{name: "zero fid threshold", mutate: func(c *Config) { c.Threshold.SourceFIDMVThreshold = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	resetViper()
}

func TestServerConfigAddress(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8080}
	if got, want := s.Address(), "127.0.0.1:8080"; got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
