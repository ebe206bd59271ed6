package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
tls:
  allow_insecure: true
cors:
  allowed_origins: [" https://app.lendify.local ", " "]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if !cfg.TLS.AllowInsecure {
		t.Fatalf("expected allow_insecure to propagate")
	}
	if cfg.EngineConfig != defaultEngineConfig {
		t.Fatalf("unexpected engine config path %q", cfg.EngineConfig)
	}
	if cfg.Sweeper.Interval != time.Minute {
		t.Fatalf("unexpected sweep interval %s", cfg.Sweeper.Interval)
	}
	if cfg.Events.Buffer != defaultEventBuffer {
		t.Fatalf("unexpected event buffer %d", cfg.Events.Buffer)
	}
	if cfg.Analytics.Enabled() {
		t.Fatalf("expected analytics to be disabled without endpoint")
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "https://app.lendify.local" {
		t.Fatalf("unexpected origins %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoadConfigAnalyticsDefaults(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
analytics:
  endpoint: "http://analytics:3000/"
  proxy: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Analytics.Endpoint != "http://analytics:3000" {
		t.Fatalf("unexpected endpoint %q", cfg.Analytics.Endpoint)
	}
	if cfg.Analytics.OutboxPath == "" || cfg.Analytics.Timeout != defaultPublishTimeout || cfg.Analytics.FlushInterval != defaultFlushInterval {
		t.Fatalf("expected analytics defaults, got %+v", cfg.Analytics)
	}
	if u := cfg.Analytics.URL(); u == nil || u.Host != "analytics:3000" {
		t.Fatalf("unexpected analytics url %v", u)
	}
}

func TestLoadConfigRejectsInvalidAnalyticsEndpoint(t *testing.T) {
	for name, body := range map[string]string{
		"scheme":       "analytics:\n  endpoint: \"ftp://analytics\"\n",
		"proxy no url": "analytics:\n  proxy: true\n",
		"missing host": "analytics:\n  endpoint: \"http://\"\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, "tls:\n  allow_insecure: true\n"+body)
			if _, err := Load(path); err == nil {
				t.Fatal("expected analytics validation error")
			}
		})
	}
}

func TestLoadConfigNormalizesRouteTokens(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
rate_limit:
  rate_per_second: 5
  burst: 10
  tokens:
    "post /v1/loans": 4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RateLimit.Tokens["POST /v1/loans"] != 4 {
		t.Fatalf("expected normalized token key, got %v", cfg.RateLimit.Tokens)
	}
}

func TestLoadConfigRejectsTokenCostAboveBurst(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
rate_limit:
  rate_per_second: 1
  burst: 2
  tokens:
    "POST /v1/loans": 3
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when a route costs more than the burst")
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
tls:
  allow_insecure: true
auth:
  api_tokens: [token]
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown auth section")
	}
}

func TestLoadConfigValidatesTLS(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
tls:
  cert: "server.crt"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when tls key is missing")
	}
}

func TestLoadConfigValidatesClientCADependencies(t *testing.T) {
	path := writeConfig(t, `
tls:
  client_ca: "ca.pem"
  allow_insecure: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when client_ca is set without a server certificate")
	}
}

func TestLoadConfigRequiresTLSMaterialUnlessInsecure(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when tls material missing without allow_insecure")
	}
}
