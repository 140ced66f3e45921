package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		DatabaseURL: "postgres://rx:rx@localhost:5432/rx",
		Pharmacy:    GatewayConfig{Endpoint: "https://surescripts.example.com", APIKey: "key", Timeout: 30 * time.Second},
		Fax:         GatewayConfig{Endpoint: "https://fax.example.com", APIKey: "key", Timeout: 60 * time.Second},
	}
}

func TestValidateRequiresGatewayCredentials(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg.Pharmacy.APIKey = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("missing gateway credentials must fail validation, not degrade")
	}
	if !strings.Contains(err.Error(), "SIMULATION_MODE") {
		t.Errorf("expected the error to point at simulation mode, got %q", err)
	}
}

func TestValidateSimulationModeSkipsCredentials(t *testing.T) {
	cfg := &Config{
		DatabaseURL:    "postgres://rx:rx@localhost:5432/rx",
		SimulationMode: true,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("simulation mode must not require credentials, got %v", err)
	}
}

func TestValidateRequiresDatabase(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing database URL to fail validation")
	}
}

func TestValidateRejectsBadSampleRate(t *testing.T) {
	for _, rate := range []float64{-0.1, 1.5} {
		cfg := validConfig()
		cfg.Tracing.SampleRate = rate
		if err := cfg.Validate(); err == nil {
			t.Errorf("sample rate %v must fail validation", rate)
		}
	}

	cfg := validConfig()
	cfg.Tracing.SampleRate = 0.25
	if err := cfg.Validate(); err != nil {
		t.Errorf("sample rate 0.25 must be accepted, got %v", err)
	}
}

func TestGatewayConfigured(t *testing.T) {
	g := GatewayConfig{Endpoint: "https://gw.example.com", APIKey: "key"}
	if !g.Configured() {
		t.Error("expected configured gateway")
	}
	if (GatewayConfig{Endpoint: "https://gw.example.com"}).Configured() {
		t.Error("endpoint without credentials is not configured")
	}
	if (GatewayConfig{APIKey: "key"}).Configured() {
		t.Error("credentials without endpoint are not configured")
	}
}
