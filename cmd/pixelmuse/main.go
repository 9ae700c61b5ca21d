package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pixelmuse/pixelmuse/billing"
	"github.com/pixelmuse/pixelmuse/imagegen"
	"github.com/pixelmuse/pixelmuse/modules/images"
	"github.com/pixelmuse/pixelmuse/modules/webhooks"
	"github.com/pixelmuse/pixelmuse/pkg/config"
	"github.com/pixelmuse/pixelmuse/pkg/httpserver"
	"github.com/pixelmuse/pixelmuse/pkg/jwt"
	"github.com/pixelmuse/pixelmuse/pkg/logger"
	"github.com/pixelmuse/pixelmuse/pkg/pg"
	"github.com/pixelmuse/pixelmuse/pkg/redis"
)

type appConfig struct {
	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"json"`

	JWTSigningKey string `env:"JWT_SIGNING_KEY,required"`

	// BillingProvider selects the payment provider: "stripe" or "paddle".
	BillingProvider string `env:"BILLING_PROVIDER" envDefault:"stripe"`

	// UsageBackend selects the usage ledger: "postgres" or "redis".
	UsageBackend string `env:"USAGE_BACKEND" envDefault:"postgres"`

	// StrictAdmission reserves quota atomically at admission instead of
	// counting usage after success.
	StrictAdmission bool `env:"STRICT_ADMISSION" envDefault:"false"`
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := logger.New(
		logger.WithLevel(appCfg.LogLevel),
		logger.WithFormat(logger.Format(appCfg.LogFormat)),
		logger.WithService("pixelmuse"),
	)
	slog.SetDefault(log)

	var pgCfg pg.Config
	config.MustLoad(&pgCfg)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	var catalogCfg billing.CatalogConfig
	config.MustLoad(&catalogCfg)
	catalog, err := billing.NewCatalog(catalogCfg)
	if err != nil {
		return fmt.Errorf("build tier catalog: %w", err)
	}

	provider, signatureHeader, err := buildBillingProvider(appCfg.BillingProvider)
	if err != nil {
		return err
	}

	entitlements := billing.NewPgEntitlementStore(pool)

	healthchecks := []func(context.Context) error{pg.Healthcheck(pool)}

	var ledger billing.UsageLedger
	switch appCfg.UsageBackend {
	case "redis":
		var redisCfg redis.Config
		config.MustLoad(&redisCfg)
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer client.Close()
		ledger = billing.NewRedisUsageLedger(client)
		healthchecks = append(healthchecks, redis.Healthcheck(client))
	case "postgres":
		ledger = billing.NewPgUsageLedger(pool)
	default:
		return fmt.Errorf("unknown usage backend %q", appCfg.UsageBackend)
	}

	enforcer := billing.NewEnforcer(catalog, entitlements, ledger,
		billing.WithEnforcerLogger(log))
	reconciler := billing.NewReconciler(catalog, provider, entitlements,
		billing.WithReconcilerLogger(log))

	var openaiCfg imagegen.OpenAIConfig
	config.MustLoad(&openaiCfg)
	imageProvider, err := imagegen.NewOpenAIProvider(openaiCfg)
	if err != nil {
		return fmt.Errorf("build image provider: %w", err)
	}

	svcOpts := []imagegen.ServiceOption{imagegen.WithServiceLogger(log)}
	if appCfg.StrictAdmission {
		svcOpts = append(svcOpts, imagegen.WithStrictAdmission())
	}
	svc := imagegen.NewService(enforcer, imageProvider, imagegen.NewPgHistoryStore(pool), svcOpts...)

	tokens, err := jwt.NewFromString(appCfg.JWTSigningKey)
	if err != nil {
		return fmt.Errorf("build token service: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", httpserver.HealthCheckHandler(log, healthchecks...))
	r.Mount("/webhooks", webhooks.NewHandler(reconciler, signatureHeader, log).Router())
	r.Mount("/v1", images.NewHandler(svc, entitlements, tokens, log).Router())

	var srvCfg httpserver.Config
	config.MustLoad(&srvCfg)
	return httpserver.New(srvCfg, log).Run(ctx, r)
}

// buildBillingProvider wires the configured payment provider and returns the
// HTTP header its webhook signatures arrive in.
func buildBillingProvider(name string) (billing.Provider, string, error) {
	switch name {
	case "stripe":
		var cfg billing.StripeConfig
		config.MustLoad(&cfg)
		provider, err := billing.NewStripeProvider(cfg)
		if err != nil {
			return nil, "", fmt.Errorf("build stripe provider: %w", err)
		}
		return provider, "Stripe-Signature", nil
	case "paddle":
		var cfg billing.PaddleConfig
		config.MustLoad(&cfg)
		provider, err := billing.NewPaddleProvider(cfg)
		if err != nil {
			return nil, "", fmt.Errorf("build paddle provider: %w", err)
		}
		return provider, "Paddle-Signature", nil
	default:
		return nil, "", fmt.Errorf("unknown billing provider %q", name)
	}
}
