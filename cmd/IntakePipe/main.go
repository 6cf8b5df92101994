// Command IntakePipe runs the legal intake chat service: the HTTP API for the web widget,
// the optional WhatsApp or Twilio channel and the outbox worker that delivers notifications.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/api"
	"github.com/BTreeMap/IntakePipe/internal/config"
	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/genai"
	"github.com/BTreeMap/IntakePipe/internal/lockfile"
	"github.com/BTreeMap/IntakePipe/internal/messaging"
	"github.com/BTreeMap/IntakePipe/internal/metrics"
	"github.com/BTreeMap/IntakePipe/internal/scheduler"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/BTreeMap/IntakePipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/IntakePipe/internal/util"
	"github.com/BTreeMap/IntakePipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir holds the lock file and the SQLite databases.
	DefaultStateDir = "/var/lib/intakepipe"
	// DefaultDBFileName is the application SQLite database.
	DefaultDBFileName = "intakepipe.db"
	// DefaultWhatsAppDBFileName is the whatsmeow device store.
	DefaultWhatsAppDBFileName = "whatsapp.db"
	// DefaultOutboxPollInterval is how often queued notifications are claimed.
	DefaultOutboxPollInterval = 2 * time.Second
	// MetricsNamespace prefixes every exported metric.
	MetricsNamespace = "intakepipe"
)

// Messaging providers accepted by MESSAGING_PROVIDER.
const (
	ProviderNone     = "none"
	ProviderWhatsApp = "whatsapp"
	ProviderTwilio   = "twilio"
)

// Config holds environment configuration.
type Config struct {
	StateDir       string
	DatabaseURL    string
	WhatsAppDSN    string
	RedisURL       string
	Messaging      string
	AIProvider     string
	AIKey          string
	AIModel        string
	SystemPrompt   string
	AIDeadline     time.Duration
	APIAddr        string
	IntakeConfig   string
	NotifyNumber   string
	FlowKey        string
	OutboxInterval time.Duration
	Debug          bool
}

// Flags holds command line flag values.
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	messaging *string
	apiAddr   *string
	config    *string
	debug     *bool
}

func main() {
	cfg := loadEnvironmentConfig()
	flags := parseCommandLineFlags(cfg)
	applyFlags(&cfg, flags)
	initializeLogger(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping IntakePipe", "state_dir", cfg.StateDir, "messaging", cfg.Messaging, "ai_provider", cfg.AIProvider)
	if err := run(ctx, cfg, flags); err != nil {
		slog.Error("IntakePipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("IntakePipe exited successfully")
}

// initializeLogger sets up structured logging.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

// loadEnvironmentConfig reads .env and the process environment.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := Config{
		StateDir:       util.EnvOr("INTAKEPIPE_STATE_DIR", DefaultStateDir),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		RedisURL:       os.Getenv("REDIS_URL"),
		Messaging:      strings.ToLower(util.EnvOr("MESSAGING_PROVIDER", ProviderNone)),
		AIProvider:     strings.ToLower(util.EnvOr("AI_PROVIDER", genai.ProviderGemini)),
		AIModel:        os.Getenv("AI_MODEL"),
		SystemPrompt:   os.Getenv("AI_SYSTEM_PROMPT"),
		AIDeadline:     util.ParseDurationEnv("AI_DEADLINE", flow.DefaultAIDeadline),
		APIAddr:        util.EnvOr("API_ADDR", api.DefaultAddr),
		IntakeConfig:   os.Getenv("INTAKE_CONFIG"),
		NotifyNumber:   os.Getenv("INTAKE_NOTIFY_NUMBER"),
		FlowKey:        util.EnvOr("FLOW_KEY", ""),
		OutboxInterval: util.ParseDurationEnv("OUTBOX_POLL_INTERVAL", DefaultOutboxPollInterval),
		Debug:          util.ParseBoolEnv("INTAKEPIPE_DEBUG", false),
	}
	cfg.AIKey = aiKeyFor(cfg.AIProvider)
	return cfg
}

// aiKeyFor picks the API key variable matching provider.
func aiKeyFor(provider string) string {
	switch provider {
	case genai.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return util.EnvOr("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY"))
	}
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(cfg Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:   flag.Bool("numeric-code", false, "use a numeric WhatsApp pairing code instead of a QR code"),
		stateDir:  flag.String("state-dir", cfg.StateDir, "state directory (overrides $INTAKEPIPE_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", cfg.DatabaseURL, "application database DSN; SQLite in the state dir when empty (overrides $DATABASE_URL)"),
		messaging: flag.String("messaging", cfg.Messaging, "messaging provider: none, whatsapp or twilio (overrides $MESSAGING_PROVIDER)"),
		apiAddr:   flag.String("api-addr", cfg.APIAddr, "API listen address (overrides $API_ADDR)"),
		config:    flag.String("config", cfg.IntakeConfig, "intake YAML config path (overrides $INTAKE_CONFIG)"),
		debug:     flag.Bool("debug", cfg.Debug, "enable debug logging (overrides $INTAKEPIPE_DEBUG)"),
	}
	flag.Parse()
	return flags
}

// applyFlags folds flag values back into cfg and fills derived defaults.
func applyFlags(cfg *Config, flags Flags) {
	cfg.StateDir = *flags.stateDir
	cfg.DatabaseURL = *flags.dbDSN
	cfg.Messaging = strings.ToLower(*flags.messaging)
	cfg.APIAddr = *flags.apiAddr
	cfg.IntakeConfig = *flags.config
	cfg.Debug = *flags.debug
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = filepath.Join(cfg.StateDir, DefaultDBFileName)
	}
	if cfg.WhatsAppDSN == "" {
		cfg.WhatsAppDSN = "file:" + filepath.Join(cfg.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
}

// openStore picks Postgres or SQLite from the DSN shape.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildAI returns nil when no key is configured; the orchestrator then serves fallback only.
func buildAI(ctx context.Context, cfg Config) (genai.Backend, error) {
	if cfg.AIKey == "" {
		slog.Warn("No AI API key configured, serving the fallback questionnaire only", "provider", cfg.AIProvider)
		return nil, nil
	}
	return genai.New(ctx,
		genai.WithProvider(cfg.AIProvider),
		genai.WithAPIKey(cfg.AIKey),
		genai.WithModel(cfg.AIModel),
		genai.WithSystemPrompt(cfg.SystemPrompt),
	)
}

// channel is the active messaging provider plus its HTTP surface.
type channel struct {
	svc     messaging.Service
	webhook *messaging.TwilioService
	close   func()
}

func buildMessaging(ctx context.Context, cfg Config, flags Flags) (*channel, error) {
	switch cfg.Messaging {
	case "", ProviderNone:
		return nil, nil
	case ProviderWhatsApp:
		opts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDSN)}
		if *flags.qrOutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("whatsapp client: %w", err)
		}
		return &channel{svc: messaging.NewWhatsAppService(client), close: client.Close}, nil
	case ProviderTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, fmt.Errorf("twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client,
			messaging.WithSignatureValidation(os.Getenv("TWILIO_AUTH_TOKEN"), os.Getenv("TWILIO_WEBHOOK_URL")))
		return &channel{svc: svc, webhook: svc, close: func() {}}, nil
	}
	return nil, fmt.Errorf("unknown messaging provider %q", cfg.Messaging)
}

func run(ctx context.Context, cfg Config, flags Flags) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var dedup store.DedupRepo = st
	if cfg.RedisURL != "" {
		rd, err := store.NewRedisDedup(ctx, cfg.RedisURL, store.DefaultDedupTTL)
		if err != nil {
			return fmt.Errorf("redis dedup: %w", err)
		}
		defer rd.Close()
		dedup = rd
		slog.Info("Using Redis for inbound message deduplication")
	}

	intake, err := config.Load(cfg.IntakeConfig)
	if err != nil {
		return err
	}
	if cfg.NotifyNumber != "" {
		intake.NotifyNumber = cfg.NotifyNumber
	}
	if intake.Flow != nil {
		if err := st.SaveFlow(ctx, *intake.Flow); err != nil {
			return fmt.Errorf("save configured flow: %w", err)
		}
		if cfg.FlowKey == "" {
			cfg.FlowKey = intake.Flow.Key
		}
	}

	ai, err := buildAI(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ai backend: %w", err)
	}
	aiName := ""
	if ai != nil {
		aiName = ai.Name()
	}

	m := metrics.New(MetricsNamespace)
	health := &flow.AIHealth{}

	ch, err := buildMessaging(ctx, cfg, flags)
	if err != nil {
		return err
	}

	orchOpts := []flow.Option{
		flow.WithAIDeadline(cfg.AIDeadline),
		flow.WithMetrics(m),
		flow.WithHealthObserver(health),
		flow.WithDedup(dedup),
		flow.WithAreaTable(intake.AreaTable()),
		flow.WithNotifyRecipient(intake.NotifyNumber),
		flow.WithLawyers(intake.Lawyers),
	}
	if cfg.FlowKey != "" {
		orchOpts = append(orchOpts, flow.WithFlowKey(cfg.FlowKey))
	}

	var workers []func(context.Context)
	sched := scheduler.NewScheduler()
	if pruner, ok := dedup.(store.DedupPruner); ok {
		if err := sched.AddJob(scheduler.DefaultDedupPruneSpec, "prune-dedup", scheduler.PruneDedupJob(pruner, store.DefaultDedupTTL)); err != nil {
			return err
		}
	}
	apiOpts := []api.Option{
		api.WithAddr(cfg.APIAddr),
		api.WithStore(st),
		api.WithAIHealth(health, aiName),
	}

	if ch != nil {
		defer ch.close()
		if repo, ok := st.(store.OutboxRepo); ok {
			sender := store.NewOutboxSender(repo, messaging.OutboxSendFunc(ch.svc), cfg.OutboxInterval,
				store.WithAbandonHook(func(msg store.OutboxMessage, _ error) { m.ObserveDispatchFailure(msg.Kind) }))
			if err := sender.RecoverStaleMessages(ctx); err != nil {
				slog.Warn("Failed to recover stale outbox messages", "error", err)
			}
			orchOpts = append(orchOpts, flow.WithDispatcher(messaging.NewOutboxDispatcher(repo)))
			if b, ok := st.(api.OutboxBacklog); ok {
				apiOpts = append(apiOpts, api.WithOutbox(b))
			}
			workers = append(workers, sender.Run)
			if err := sched.AddJob(scheduler.DefaultOutboxRecoverSpec, "recover-outbox", scheduler.RecoverOutboxJob(sender)); err != nil {
				return err
			}
		} else {
			orchOpts = append(orchOpts, flow.WithDispatcher(messaging.NewDirectDispatcher(ch.svc)))
		}
		apiOpts = append(apiOpts, api.WithMessaging(cfg.Messaging))
		if link, ok := ch.svc.(api.Connector); ok {
			apiOpts = append(apiOpts, api.WithMessagingLink(link))
		}
		if ch.webhook != nil {
			apiOpts = append(apiOpts, api.WithTwilioWebhook(ch.webhook.TwilioWebhookHandler))
		}
	}

	orch := flow.NewOrchestrator(st, ai, orchOpts...)
	if _, err := orch.EnsureFlow(ctx); err != nil {
		return err
	}

	if ch != nil {
		if err := ch.svc.Start(ctx); err != nil {
			return fmt.Errorf("start messaging: %w", err)
		}
		defer ch.svc.Stop()
		workers = append(workers, messaging.NewInboundRouter(ch.svc, orch).Run)
	}

	if sched.Len() > 0 {
		workers = append(workers, sched.Run)
	}

	err = api.NewServer(orch, apiOpts...).Run(ctx, workers...)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
