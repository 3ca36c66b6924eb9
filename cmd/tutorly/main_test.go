package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	tutorly "github.com/tutorly/tutorly-go"
)

// ============================================================================
// Config
// ============================================================================

func TestSetConfigValue(t *testing.T) {
	cfg := &Config{}

	t.Run("known keys", func(t *testing.T) {
		cases := map[string]*string{
			"default.base_url":      &cfg.Default.BaseURL,
			"auth.email":            &cfg.Auth.Email,
			"server.addr":           &cfg.Server.Addr,
			"server.jwt_secret":     &cfg.Server.JWTSecret,
			"server.webhook_secret": &cfg.Server.WebhookSecret,
		}
		for key, field := range cases {
			if err := setConfigValue(cfg, key, "v-"+key); err != nil {
				t.Fatalf("%s: %v", key, err)
			}
			if *field != "v-"+key {
				t.Errorf("%s = %q", key, *field)
			}
		}
	})

	t.Run("rejects bad keys", func(t *testing.T) {
		for _, key := range []string{"base_url", "default.nope", "nope.field"} {
			if err := setConfigValue(cfg, key, "x"); err == nil {
				t.Errorf("expected error for %q", key)
			}
		}
	})
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TUTORLY_BASE_URL", "http://localhost:9000")
	t.Setenv("TUTORLY_JWT_SECRET", "")

	if err := saveConfig(&Config{Default: ConfigDefault{BaseURL: "https://file.example"}, Server: ConfigServer{JWTSecret: "from-file"}}); err != nil {
		t.Fatalf("saveConfig: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".tutorly", "config.toml")); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Default.BaseURL != "http://localhost:9000" {
		t.Errorf("BaseURL = %q, env should win", cfg.Default.BaseURL)
	}
	if cfg.Server.JWTSecret != "from-file" {
		t.Errorf("JWTSecret = %q", cfg.Server.JWTSecret)
	}
}

func TestRenderConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TUTORLY_BASE_URL", "http://localhost:9000")
	t.Setenv("TUTORLY_JWT_SECRET", "env-secret-0123456789abcdef")
	t.Setenv("TUTORLY_WEBHOOK_SECRET", "")

	token := "eyJhbGciOiJIUzI1NiJ9.payload.signature"
	if err := saveConfig(&Config{
		Default: ConfigDefault{BaseURL: "https://file.example"},
		Auth:    ConfigAuth{Token: token, UserID: "amy"},
		Server:  ConfigServer{Addr: ":9090", WebhookSecret: "short"},
	}); err != nil {
		t.Fatalf("saveConfig: %v", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	data, err := renderConfig(cfg)
	if err != nil {
		t.Fatalf("renderConfig: %v", err)
	}
	out := string(data)

	for _, secret := range []string{token, "env-secret-0123456789abcdef", "short"} {
		if strings.Contains(out, secret) {
			t.Errorf("output leaks %q:\n%s", secret, out)
		}
	}
	for _, want := range []string{"http://localhost:9000", "amy", ":9090", maskKey(token), maskKey("env-secret-0123456789abcdef")} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if cfg.Auth.Token != token {
		t.Error("renderConfig modified the loaded config")
	}
}

// ============================================================================
// Session store
// ============================================================================

func TestConfigSessionStore(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TUTORLY_TOKEN", "")

	store := &configSessionStore{}

	t.Run("empty file loads empty session", func(t *testing.T) {
		sess, err := store.Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if sess.Token != "" {
			t.Errorf("Token = %q", sess.Token)
		}
	})

	t.Run("save then load", func(t *testing.T) {
		if err := store.Save(tutorly.Session{Token: "tok", UserID: "u1"}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		sess, err := store.Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if sess.Token != "tok" || sess.UserID != "u1" {
			t.Errorf("got %+v", sess)
		}
	})

	t.Run("clear keeps email", func(t *testing.T) {
		cfg, _ := readConfigFile()
		cfg.Auth.Email = "ada@example.com"
		if err := saveConfig(cfg); err != nil {
			t.Fatal(err)
		}
		if err := store.Clear(); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		cfg, _ = readConfigFile()
		if cfg.Auth.Token != "" || cfg.Auth.UserID != "" {
			t.Errorf("session not cleared: %+v", cfg.Auth)
		}
		if cfg.Auth.Email != "ada@example.com" {
			t.Errorf("Email = %q", cfg.Auth.Email)
		}
	})

	t.Run("environment token wins", func(t *testing.T) {
		t.Setenv("TUTORLY_TOKEN", "env-token")
		sess, err := store.Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if sess.Token != "env-token" {
			t.Errorf("Token = %q", sess.Token)
		}
	})
}

func TestHelpers(t *testing.T) {
	if got := splitList(" a, b,,c "); len(got) != 3 || got[2] != "c" {
		t.Errorf("splitList = %v", got)
	}
	if got := firstNonEmpty("", "", "x"); got != "x" {
		t.Errorf("firstNonEmpty = %q", got)
	}
	if got := maskKey("short"); got != "****" {
		t.Errorf("maskKey = %q", got)
	}
	if got := truncate("hello world", 5); got != "hell…" {
		t.Errorf("truncate = %q", got)
	}
}
