package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file uses defaults",
			yaml: ``,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Bridge.Listen != "127.0.0.1:44755" {
					t.Errorf("listen = %q", cfg.Bridge.Listen)
				}
				if cfg.Bridge.PollTimeout != 15*time.Second {
					t.Errorf("poll_timeout = %v", cfg.Bridge.PollTimeout)
				}
				if cfg.Bridge.InvocationTimeout != 0 {
					t.Errorf("invocation_timeout = %v, want 0", cfg.Bridge.InvocationTimeout)
				}
				if !cfg.Forward.Enabled || !cfg.Metrics.Enabled {
					t.Error("forward and metrics should default to enabled")
				}
			},
		},
		{
			name: "overrides keep untouched defaults",
			yaml: `
bridge:
  poll_timeout: 2s
  invocation_timeout: 90s
forward:
  enabled: false
journal:
  path: ""
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Bridge.PollTimeout != 2*time.Second {
					t.Error("poll_timeout not parsed")
				}
				if cfg.Bridge.InvocationTimeout != 90*time.Second {
					t.Error("invocation_timeout not parsed")
				}
				if cfg.Bridge.ExecutorIdleGap != 5*time.Second {
					t.Error("executor_idle_gap default lost")
				}
				if cfg.Forward.Enabled {
					t.Error("forward.enabled not parsed")
				}
				if cfg.Journal.Path != "" {
					t.Error("empty journal.path should disable the journal")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
bridge:
  listen: ${PB_LISTEN}
journal:
  path: ${PB_JOURNAL}
`,
			env: map[string]string{
				"PB_LISTEN":  "127.0.0.1:9000",
				"PB_JOURNAL": "/tmp/journal.db",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Bridge.Listen != "127.0.0.1:9000" {
					t.Errorf("listen = %q", cfg.Bridge.Listen)
				}
				if cfg.Journal.Path != "/tmp/journal.db" {
					t.Errorf("journal.path = %q", cfg.Journal.Path)
				}
			},
		},
		{
			name:    "unresolved env var",
			yaml:    "journal:\n  path: ${PB_DEFINITELY_UNSET_VAR}\n",
			wantErr: true,
		},
		{
			name:    "unknown key",
			yaml:    "bridge:\n  poll_timeot: 2s\n",
			wantErr: true,
		},
		{
			name:    "bad listen address",
			yaml:    "bridge:\n  listen: localhost\n",
			wantErr: true,
		},
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: true,
		},
		{
			name:    "negative invocation timeout",
			yaml:    "bridge:\n  invocation_timeout: -1s\n",
			wantErr: true,
		},
		{
			name:    "bad sample rate",
			yaml:    "telemetry:\n  enabled: true\n  sample_rate: 2\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0600); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if cfg.SourcePath != path {
				t.Errorf("SourcePath = %q, want %q", cfg.SourcePath, path)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectoryLooksForConfigYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("service:\n  name: dir\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Service.Name != "dir" {
		t.Errorf("name = %q", cfg.Service.Name)
	}
}

func TestDiscover(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvConfigPath, "")

	wd := t.TempDir()
	oldWD, _ := os.Getwd()
	if err := os.Chdir(wd); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	if _, err := Discover(""); !errors.Is(err, ErrNoConfig) {
		t.Fatalf("expected ErrNoConfig, got %v", err)
	}
	cfg, err := LoadOrDefault("")
	if err != nil || cfg.Bridge.Listen != Defaults().Bridge.Listen {
		t.Fatalf("LoadOrDefault() = %v, %v", cfg, err)
	}

	if err := os.WriteFile("pollbridge.yaml", []byte(""), 0600); err != nil {
		t.Fatal(err)
	}
	if got, _ := Discover(""); got != "pollbridge.yaml" {
		t.Errorf("Discover() = %q, want ./pollbridge.yaml", got)
	}

	userDir := filepath.Join(home, ".config", "pollbridge")
	if err := os.MkdirAll(userDir, 0755); err != nil {
		t.Fatal(err)
	}
	userCfg := filepath.Join(userDir, "config.yaml")
	if err := os.WriteFile(userCfg, []byte(""), 0600); err != nil {
		t.Fatal(err)
	}
	if got, _ := Discover(""); got != userCfg {
		t.Errorf("Discover() = %q, want %q", got, userCfg)
	}

	envCfg := filepath.Join(t.TempDir(), "env.yaml")
	if err := os.WriteFile(envCfg, []byte(""), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, envCfg)
	if got, _ := Discover(""); got != envCfg {
		t.Errorf("Discover() = %q, want %q", got, envCfg)
	}

	if got, _ := Discover(userCfg); got != userCfg {
		t.Errorf("flag should win, got %q", got)
	}
	if _, err := Discover(filepath.Join(wd, "nope.yaml")); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}
