package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"

	"github.com/foyerhq/foyer/internal/action"
	"github.com/foyerhq/foyer/internal/auth"
	"github.com/foyerhq/foyer/internal/config"
	"github.com/foyerhq/foyer/internal/engine"
	"github.com/foyerhq/foyer/internal/llm"
	"github.com/foyerhq/foyer/internal/notify"
	"github.com/foyerhq/foyer/internal/server"
	"github.com/foyerhq/foyer/internal/store/postgres"
	redisstore "github.com/foyerhq/foyer/internal/store/redis"
	"github.com/foyerhq/foyer/internal/tenantcfg"
	"github.com/foyerhq/foyer/internal/tmplctx"
)

const externalCallTimeout = 30 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Args[2:]); err != nil {
			log.Fatal().Err(err).Msg("token issue failed")
		}
		return
	}

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

// issueToken mints a client token for embedding: foyer token <tenant-id> [subject].
// Reads FOYER_JWT_SECRET and FOYER_JWT_ACCESS_TTL from the environment.
func issueToken(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: foyer token <tenant-id> [subject]")
	}

	tenantID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("tenant id: %w", err)
	}

	subject := "widget"
	if len(args) > 1 {
		subject = args[1]
	}

	secret := os.Getenv("FOYER_JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("FOYER_JWT_SECRET is required")
	}

	ttl := 12 * time.Hour
	if v := os.Getenv("FOYER_JWT_ACCESS_TTL"); v != "" {
		ttl, err = time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing FOYER_JWT_ACCESS_TTL: %w", err)
		}
	}

	token, err := auth.IssueClientToken(secret, tenantID, subject, ttl)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("FOYER_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("FOYER_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	// Connect to PostgreSQL.
	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return err
	}
	defer store.Close()

	// Connect to Redis.
	pubsub, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	// Load tenant configurations.
	renderer := tmplctx.NewRenderer("")
	tenants, err := tenantcfg.Load(cfg.TenantDir, renderer)
	if err != nil {
		return err
	}

	// Notification channels: email always, Slack when a bot token is set.
	notifiers := notify.NewRegistry()
	notifiers.Register("email", notify.NewMailer(cfg.SMTP.Addr, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password))
	if cfg.Slack.BotToken != "" {
		notifiers.Register("slack", notify.NewSlackNotifier(slacklib.New(cfg.Slack.BotToken)))
		log.Info().Msg("Slack notifications enabled")
	}

	// Completion and moderation service.
	completer := llm.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.MaxAttempts, cfg.OpenAI.RetryDelay, cfg.OpenAI.CallTimeout)

	// One engine per tenant; engines share the session repository.
	engines := make(map[uuid.UUID]*engine.Engine, len(tenants.Tenants()))
	for _, tenantID := range tenants.Tenants() {
		tenant, _ := tenants.Get(tenantID)
		engines[tenantID] = engine.New(engine.Deps{
			Tenant:    tenant,
			Renderer:  renderer,
			Completer: completer,
			Moderator: completer,
			Notifiers: notifiers,
			External:  action.NewHTTPExternal(tenant.Externals, externalCallTimeout),
			Repo:      store.Sessions(),
			MaxHops:   cfg.Session.MaxHops,
		})
		log.Info().Stringer("tenant_id", tenantID).Str("name", tenant.Name).Msg("tenant loaded")
	}

	registry := engine.NewRegistry(engines, store.Sessions(), cfg.Session.IdleTTL)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Idle session eviction loop.
	go registry.Run(ctx)

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, store, pubsub, registry)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
