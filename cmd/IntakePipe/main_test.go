package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/api"
	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/lockfile"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"INTAKEPIPE_STATE_DIR", "DATABASE_URL", "WHATSAPP_DB_DSN", "REDIS_URL", "MESSAGING_PROVIDER",
		"AI_PROVIDER", "GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY", "AI_DEADLINE", "API_ADDR",
		"INTAKE_CONFIG", "INTAKE_NOTIFY_NUMBER", "FLOW_KEY", "OUTBOX_POLL_INTERVAL", "INTAKEPIPE_DEBUG",
	} {
		t.Setenv(k, "")
	}
}

func flagsFrom(cfg Config) Flags {
	qr, numeric := "", false
	return Flags{
		qrOutput:  &qr,
		numeric:   &numeric,
		stateDir:  &cfg.StateDir,
		dbDSN:     &cfg.DatabaseURL,
		messaging: &cfg.Messaging,
		apiAddr:   &cfg.APIAddr,
		config:    &cfg.IntakeConfig,
		debug:     &cfg.Debug,
	}
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg := loadEnvironmentConfig()

	if cfg.StateDir != DefaultStateDir {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
	if cfg.Messaging != ProviderNone {
		t.Errorf("Messaging = %q", cfg.Messaging)
	}
	if cfg.AIProvider != "gemini" || cfg.AIKey != "" {
		t.Errorf("AI provider = %q key set = %v", cfg.AIProvider, cfg.AIKey != "")
	}
	if cfg.AIDeadline != flow.DefaultAIDeadline {
		t.Errorf("AIDeadline = %v", cfg.AIDeadline)
	}
	if cfg.APIAddr != api.DefaultAddr || cfg.OutboxInterval != DefaultOutboxPollInterval || cfg.Debug {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MESSAGING_PROVIDER", "Twilio")
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GEMINI_API_KEY", "gm-test")
	t.Setenv("AI_DEADLINE", "3s")
	t.Setenv("INTAKEPIPE_DEBUG", "yes")

	cfg := loadEnvironmentConfig()
	if cfg.Messaging != ProviderTwilio {
		t.Errorf("Messaging = %q", cfg.Messaging)
	}
	if cfg.AIKey != "sk-test" {
		t.Errorf("AIKey should come from OPENAI_API_KEY, got %q", cfg.AIKey)
	}
	if cfg.AIDeadline != 3*time.Second || !cfg.Debug {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestAIKeyForGeminiFallsBackToGoogleKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "g-key")
	if got := aiKeyFor("gemini"); got != "g-key" {
		t.Errorf("aiKeyFor(gemini) = %q", got)
	}
}

func TestApplyFlagsDerivesDSNs(t *testing.T) {
	clearEnv(t)
	cfg := loadEnvironmentConfig()
	cfg.StateDir = "/tmp/intake-state"
	applyFlags(&cfg, flagsFrom(cfg))

	if want := filepath.Join("/tmp/intake-state", DefaultDBFileName); cfg.DatabaseURL != want {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, want)
	}
	if !strings.Contains(cfg.WhatsAppDSN, filepath.Join("/tmp/intake-state", DefaultWhatsAppDBFileName)) {
		t.Errorf("WhatsAppDSN = %q", cfg.WhatsAppDSN)
	}

	cfg.DatabaseURL = "postgres://u:p@localhost/intake"
	applyFlags(&cfg, flagsFrom(cfg))
	if cfg.DatabaseURL != "postgres://u:p@localhost/intake" {
		t.Errorf("explicit DSN replaced: %q", cfg.DatabaseURL)
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	st, err := openStore(filepath.Join(t.TempDir(), "intake.db"))
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*store.SQLiteStore); !ok {
		t.Errorf("store type = %T", st)
	}
	if _, ok := st.(store.OutboxRepo); !ok {
		t.Error("SQLite store should provide the outbox")
	}
}

func TestBuildAIWithoutKey(t *testing.T) {
	ai, err := buildAI(context.Background(), Config{AIProvider: "gemini"})
	if err != nil || ai != nil {
		t.Errorf("buildAI without key = %v, %v", ai, err)
	}
}

func TestBuildMessaging(t *testing.T) {
	clearEnv(t)
	cfg := Config{Messaging: ProviderNone}
	ch, err := buildMessaging(context.Background(), cfg, flagsFrom(cfg))
	if err != nil || ch != nil {
		t.Errorf("none provider = %v, %v", ch, err)
	}

	cfg.Messaging = "carrier-pigeon"
	if _, err := buildMessaging(context.Background(), cfg, flagsFrom(cfg)); err == nil {
		t.Error("unknown provider accepted")
	}

	cfg.Messaging = ProviderTwilio
	if _, err := buildMessaging(context.Background(), cfg, flagsFrom(cfg)); err == nil {
		t.Error("twilio without credentials accepted")
	}

	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("TWILIO_FROM_NUMBER", "+5511900000000")
	ch, err = buildMessaging(context.Background(), cfg, flagsFrom(cfg))
	if err != nil {
		t.Fatalf("twilio: %v", err)
	}
	if ch.webhook == nil || ch.svc == nil {
		t.Errorf("twilio channel = %+v", ch)
	}
}

func TestRunRejectsLockedStateDir(t *testing.T) {
	clearEnv(t)
	cfg := loadEnvironmentConfig()
	cfg.StateDir = t.TempDir()
	applyFlags(&cfg, flagsFrom(cfg))

	held, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	err = run(context.Background(), cfg, flagsFrom(cfg))
	var lerr *lockfile.LockError
	if !errors.As(err, &lerr) {
		t.Errorf("run error = %v, want *lockfile.LockError", err)
	}
}
