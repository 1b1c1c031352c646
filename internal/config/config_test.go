package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if !cfg.Server.CORS.AllowAllOrigins {
		t.Error("expected all origins allowed by default")
	}
	if cfg.Jobs.QueuedLogDelay != time.Second || cfg.Jobs.StartDelay != 2*time.Second {
		t.Errorf("delays = %s/%s", cfg.Jobs.QueuedLogDelay, cfg.Jobs.StartDelay)
	}
	if cfg.Jobs.TickMin != 500*time.Millisecond || cfg.Jobs.TickMax != 1500*time.Millisecond {
		t.Errorf("tick range = %s..%s", cfg.Jobs.TickMin, cfg.Jobs.TickMax)
	}
	if cfg.Client.ReconnectAttempts != 3 || cfg.Client.ReconnectDelay != 2*time.Second {
		t.Errorf("reconnect = %d x %s", cfg.Client.ReconnectAttempts, cfg.Client.ReconnectDelay)
	}
}

func TestLoadPortFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "4100")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("port = %d, want 4100", cfg.Server.Port)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	body := []byte("server:\n  port: 9999\njobs:\n  tick_min: 10ms\n  tick_max: 20ms\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Jobs.TickMin != 10*time.Millisecond || cfg.Jobs.TickMax != 20*time.Millisecond {
		t.Errorf("tick range = %s..%s", cfg.Jobs.TickMin, cfg.Jobs.TickMax)
	}
}

func TestShippedConfigAllowsAllOrigins(t *testing.T) {
	path, err := filepath.Abs(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	t.Chdir(t.TempDir())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Server.CORS.AllowAllOrigins {
		t.Error("configs/config.yaml must allow all origins")
	}
	if cfg.Jobs.TickMin != 500*time.Millisecond || cfg.Jobs.TickMax != 1500*time.Millisecond {
		t.Errorf("tick range = %s..%s", cfg.Jobs.TickMin, cfg.Jobs.TickMax)
	}
}

func TestLoadRejectsBadTickRange(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("jobs:\n  tick_min: 2s\n  tick_max: 1s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for tick_max < tick_min")
	}
}

func TestResolveServerURL(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		buildTime string
		want      string
	}{
		{"explicit", Config{Client: ClientConfig{ServerURL: "http://jobs.example/"}}, "http://ignored", "http://jobs.example"},
		{"build time", Config{}, "http://built:1234", "http://built:1234"},
		{"production", Config{AppEnv: "production", Server: ServerConfig{Port: 8080}}, "", "http://127.0.0.1:8080"},
		{"development", Config{AppEnv: "local"}, "", "http://localhost:3002"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.ResolveServerURL(tc.buildTime); got != tc.want {
				t.Errorf("ResolveServerURL = %q, want %q", got, tc.want)
			}
		})
	}
}
