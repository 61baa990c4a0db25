package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/ChatDesk/internal/api"
	"github.com/BTreeMap/ChatDesk/internal/botconfig"
	"github.com/BTreeMap/ChatDesk/internal/dedup"
	"github.com/BTreeMap/ChatDesk/internal/flow"
	"github.com/BTreeMap/ChatDesk/internal/genai"
	"github.com/BTreeMap/ChatDesk/internal/lockfile"
	"github.com/BTreeMap/ChatDesk/internal/messaging"
	"github.com/BTreeMap/ChatDesk/internal/metrics"
	"github.com/BTreeMap/ChatDesk/internal/scheduler"
	"github.com/BTreeMap/ChatDesk/internal/store"
	"github.com/BTreeMap/ChatDesk/internal/throttle"
	"github.com/BTreeMap/ChatDesk/internal/twiliowhatsapp"
	"github.com/BTreeMap/ChatDesk/internal/util"
	"github.com/BTreeMap/ChatDesk/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ChatDesk state data
	DefaultStateDir = "/var/lib/chatdesk"
	// DefaultWhatsAppDBFileName is the whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAppDBFileName is the application SQLite database filename
	DefaultAppDBFileName = "chatdesk.db"
	// DefaultHistoryRetentionDays is how long AI chat history is kept
	DefaultHistoryRetentionDays = 30
	// DefaultAIRatePerMinute limits AI replies per sender
	DefaultAIRatePerMinute = 20

	ProviderWhatsApp = "whatsapp"
	ProviderTwilio   = "twilio"
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping ChatDesk", "provider", flags.provider, "state_dir", flags.stateDir, "api_addr", flags.apiAddr)
	if err := run(ctx, config, flags); err != nil {
		slog.Error("ChatDesk failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ChatDesk exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir             string
	WhatsAppDBDSN        string
	ApplicationDBDSN     string
	OpenAIKey            string
	OpenAIModel          string
	APIAddr              string
	Provider             string
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioFromNumber     string
	TwilioWebhookURL     string
	BotConfigFile        string
	HistoryRetentionDays int
	RetentionCron        string
	WelcomeWindow        time.Duration
	AIRatePerMinute      int
	VoiceReplies         bool
	LogLevel             string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput   string
	numeric    bool
	stateDir   string
	waDSN      string
	dbDSN      string
	openaiKey  string
	apiAddr    string
	provider   string
	botConfig  string
	retentCron string
}

// initializeLogger installs a text slog handler at the given level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:             util.StringEnv(DefaultStateDir, "CHATDESK_STATE_DIR"),
		WhatsAppDBDSN:        os.Getenv("WHATSAPP_DB_DSN"),
		ApplicationDBDSN:     util.StringEnv("", "DATABASE_DSN", "DATABASE_URL"),
		OpenAIKey:            os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          os.Getenv("OPENAI_MODEL"),
		APIAddr:              util.StringEnv(api.DefaultAddr, "API_ADDR"),
		Provider:             strings.ToLower(util.StringEnv(ProviderWhatsApp, "MESSAGING_PROVIDER")),
		TwilioAccountSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:     os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:     os.Getenv("TWILIO_WEBHOOK_URL"),
		BotConfigFile:        os.Getenv("BOT_CONFIG_FILE"),
		HistoryRetentionDays: util.ParseIntEnv("HISTORY_RETENTION_DAYS", DefaultHistoryRetentionDays),
		RetentionCron:        util.StringEnv(scheduler.DefaultRetentionCron, "RETENTION_CRON"),
		WelcomeWindow:        util.ParseDurationEnv("WELCOME_WINDOW", throttle.DefaultWindow),
		AIRatePerMinute:      util.ParseIntEnv("AI_RATE_PER_MINUTE", DefaultAIRatePerMinute),
		VoiceReplies:         util.ParseBoolEnv("VOICE_REPLIES", false),
		LogLevel:             os.Getenv("LOG_LEVEL"),
	}

	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
	}
	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses args with environment values as defaults. DSNs that were
// derived from the state directory follow a --state-dir override.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	var f Flags
	fs.StringVar(&f.qrOutput, "qr-output", "", "path to write login QR code")
	fs.BoolVar(&f.numeric, "numeric-code", false, "use numeric login code instead of QR code")
	fs.StringVar(&f.stateDir, "state-dir", config.StateDir, "state directory for ChatDesk data (overrides $CHATDESK_STATE_DIR)")
	fs.StringVar(&f.waDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "WhatsApp session database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&f.dbDSN, "db-dsn", config.ApplicationDBDSN, "application database DSN (overrides $DATABASE_DSN or $DATABASE_URL)")
	fs.StringVar(&f.openaiKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&f.apiAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&f.provider, "provider", config.Provider, "messaging provider: whatsapp or twilio (overrides $MESSAGING_PROVIDER)")
	fs.StringVar(&f.botConfig, "bot-config", config.BotConfigFile, "YAML chatbot configuration to seed (overrides $BOT_CONFIG_FILE)")
	fs.StringVar(&f.retentCron, "retention-cron", config.RetentionCron, "cron schedule for history retention (overrides $RETENTION_CRON)")
	if err := fs.Parse(args); err != nil {
		return f, err
	}

	if f.stateDir != config.StateDir {
		if f.waDSN == defaultWhatsAppDSN(config.StateDir) {
			f.waDSN = defaultWhatsAppDSN(f.stateDir)
		}
		if f.dbDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
			f.dbDSN = filepath.Join(f.stateDir, DefaultAppDBFileName)
		}
	}

	f.provider = strings.ToLower(f.provider)
	if f.provider != ProviderWhatsApp && f.provider != ProviderTwilio {
		return f, fmt.Errorf("unknown messaging provider %q", f.provider)
	}
	if err := scheduler.Validate(f.retentCron); err != nil {
		return f, err
	}
	return f, nil
}

// run wires every component and blocks until ctx is cancelled or the API server fails.
func run(ctx context.Context, config Config, flags Flags) error {
	lock, err := lockfile.AcquireLock(flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(flags.dbDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if flags.botConfig != "" {
		bots, err := botconfig.Load(flags.botConfig)
		if err != nil {
			return err
		}
		if err := bots.Seed(ctx, st); err != nil {
			return fmt.Errorf("failed to seed bot configuration: %w", err)
		}
		slog.Info("Bot configuration seeded", "file", flags.botConfig, "chatbots", len(bots.Chatbots))
	}

	m := metrics.New()

	svc, webhook, err := buildMessagingService(config, flags)
	if err != nil {
		return err
	}

	var gen *genai.Client
	if flags.openaiKey != "" {
		gen, err = genai.NewClient(buildGenAIOptions(config, flags)...)
		if err != nil {
			return fmt.Errorf("failed to create OpenAI client: %w", err)
		}
	} else {
		slog.Warn("OPENAI_API_KEY not set; AI replies and voice transcription are disabled")
	}

	router := buildRouter(config, st, svc, gen, m)
	dispatcher := messaging.NewDispatcher(svc, router,
		messaging.WithDedupCache(dedup.NewCache()),
		messaging.WithBlacklist(st),
		messaging.WithReceiptRecorder(st),
		messaging.WithEventObserver(m),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	dispatcher.Start(ctx)
	defer func() {
		if err := svc.Stop(); err != nil {
			slog.Warn("Messaging service stop failed", "error", err)
		}
		dispatcher.Wait()
	}()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	retention := &scheduler.RetentionJob{
		History:   st,
		Throttle:  st,
		Retention: time.Duration(config.HistoryRetentionDays) * 24 * time.Hour,
		Timeout:   5 * time.Minute,
	}
	if err := retention.Schedule(ctx, sched, flags.retentCron); err != nil {
		return err
	}

	server := api.NewServer(svc, st, buildAPIOptions(flags, router, st, m, webhook)...)
	return server.Run(ctx)
}

// buildMessagingService creates the transport selected by --provider. The returned handler
// is the Twilio webhook, nil for WhatsApp.
func buildMessagingService(config Config, flags Flags) (messaging.Service, http.Handler, error) {
	if flags.provider == ProviderTwilio {
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(config.TwilioFromNumber),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if config.TwilioWebhookURL != "" {
			opts = append(opts, messaging.WithSignatureValidation(config.TwilioAuthToken, config.TwilioWebhookURL))
		} else {
			slog.Warn("TWILIO_WEBHOOK_URL not set; webhook signatures are not validated")
		}
		svc := messaging.NewTwilioService(client, opts...)
		return svc, http.HandlerFunc(svc.TwilioWebhookHandler), nil
	}

	client, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
	}
	return messaging.NewWhatsAppService(client), nil, nil
}

// buildRouter registers registration and canned replies, with AI chat as the fallback
// when an OpenAI client is available.
func buildRouter(config Config, st store.Store, sender flow.Sender, gen *genai.Client, m *metrics.Metrics) *flow.Router {
	opts := []flow.RouterOption{
		flow.WithStateStore(flow.NewStoreStateStore(st)),
		flow.WithHandler(flow.NewRegistrationHandler(st, st)),
		flow.WithHandler(flow.NewCannedReplyHandler(st, 2)),
		flow.WithObserver(m),
	}
	if gen != nil {
		aiOpts := []flow.AIChatOption{flow.WithWelcomeWindow(config.WelcomeWindow)}
		if config.AIRatePerMinute > 0 {
			aiOpts = append(aiOpts, flow.WithRateLimit(config.AIRatePerMinute, 0))
		}
		if config.VoiceReplies {
			aiOpts = append(aiOpts, flow.WithVoiceReplies(gen))
		}
		ai := flow.NewAIChatHandler(st, st, gen, m.InstrumentTracker(st), aiOpts...)
		opts = append(opts, flow.WithFallback(ai), flow.WithTranscriber(gen))
	}
	return flow.NewRouter(sender, opts...)
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.qrOutput))
	}
	if flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(flags.waDSN))
	}
	return waOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config, flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(flags.openaiKey))
	}
	if config.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(config.OpenAIModel))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, router *flow.Router, st store.Store, m *metrics.Metrics, webhook http.Handler) []api.Option {
	apiOpts := []api.Option{
		api.WithAddr(flags.apiAddr),
		api.WithRegistrar(router, flow.RegistrationHandlerName),
		api.WithMetricsHandler(m.Handler()),
	}
	if p, ok := st.(api.Pinger); ok {
		apiOpts = append(apiOpts, api.WithHealthCheck(p))
	}
	if webhook != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(webhook))
	}
	return apiOpts
}

