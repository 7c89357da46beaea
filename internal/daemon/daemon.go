package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mediagate-bot/mediagate/internal/api"
	"github.com/mediagate-bot/mediagate/internal/app/access"
	"github.com/mediagate-bot/mediagate/internal/app/premium"
	"github.com/mediagate-bot/mediagate/internal/app/quota"
	"github.com/mediagate-bot/mediagate/internal/app/referral"
	"github.com/mediagate-bot/mediagate/internal/app/verify"
	"github.com/mediagate-bot/mediagate/internal/health"
	"github.com/mediagate-bot/mediagate/internal/infra/clock"
	_ "github.com/mediagate-bot/mediagate/internal/infra/metrics" // Register Prometheus metrics
	"github.com/mediagate-bot/mediagate/internal/infra/shortlink"
	"github.com/mediagate-bot/mediagate/internal/infra/sqlite"
)

// Daemon is the core MediaGate runtime. It wires together all services.
type Daemon struct {
	Config Config
	DB     *sqlite.DB
	Clock  *clock.Zone
	Engine *access.Engine
	Server *api.Server
	Health *health.Checker

	Quota    *quota.Counter
	Verify   *verify.Service
	Premium  *premium.Service
	Referral *referral.Service

	cancel context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	db, err := sqlite.Open(gateHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	zone, err := clock.New(cfg.Entitlement.Timezone)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("configure clock: %w", err)
	}

	links := shortlink.New(cfg.Shortlink.URL, cfg.Shortlink.APIKey, cfg.Shortlink.TimeoutDuration())

	d := &Daemon{Config: cfg, DB: db, Clock: zone}

	d.Quota = quota.NewCounter(db, zone, cfg.Entitlement.FreeDailyLimit)
	d.Verify = verify.NewService(db, zone, links, verify.Config{
		BotUsername: cfg.Bot.Username,
		TokenTTL:    cfg.Entitlement.TokenTTLDuration(),
		Window:      cfg.Entitlement.VerifyWindowDuration(),
	})
	d.Premium = premium.NewService(db, zone)
	d.Referral = referral.NewService(db, zone, referral.Config{
		Reward:      cfg.Entitlement.ReferralReward,
		Threshold:   cfg.Entitlement.PremiumThreshold,
		PremiumDays: cfg.Entitlement.PremiumRewardDays,
	})
	d.Engine = access.NewEngine(db, zone, d.Quota, d.Verify, d.Premium, d.Referral)

	// Health: the store probe always runs; the shortlink probe only when a
	// service is configured.
	var probe func(ctx context.Context) error
	if links.Configured() {
		probe = func(ctx context.Context) error {
			_, err := links.Wrap(ctx, "https://example.com")
			return err
		}
	}
	d.Health = health.NewChecker(db, probe)

	srv := api.NewServer(d.Engine)
	srv.SetHealth(d.Health)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	d.Server = srv

	return d, nil
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	fmt.Printf("MediaGate serving on http://%s\n", addr)
	fmt.Printf("  Free limit: %d/day, verify window: %s, token TTL: %s\n",
		d.Quota.Limit(),
		d.Config.Entitlement.VerifyWindow,
		d.Config.Entitlement.TokenTTL,
	)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
