package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/toncenter/examples/internal/clients"
	"github.com/toncenter/examples/internal/config"
	"github.com/toncenter/examples/internal/db"
	"github.com/toncenter/examples/internal/events"
	"github.com/toncenter/examples/internal/handlers"
	"github.com/toncenter/examples/internal/highload"
	"github.com/toncenter/examples/internal/keys"
	"github.com/toncenter/examples/internal/repository"
	"github.com/toncenter/examples/internal/router"
	"github.com/toncenter/examples/internal/services"
)

// ServiceContainer wires the withdrawal engine from configuration
type ServiceContainer struct {
	Config *config.Config

	// Storage (DB is nil with the memory driver)
	DB    *gorm.DB
	Store repository.Store

	// Clients
	Ledger     *clients.ToncenterClient
	NATSClient *clients.NATSClient

	// Events
	Hub       *events.Hub
	Publisher events.Publisher

	// Engine
	Wallet      *highload.Wallet
	Jettons     map[string]services.JettonRoute
	Builder     *services.BatchBuilder
	Submitter   *services.BatchSubmitter
	Reconciler  *services.LedgerReconciler
	Scheduler   *services.SchedulerService
	Withdrawals *services.WithdrawalService

	cancel context.CancelFunc
}

// OpenStore connects the configured store, migrating the schema for postgres
func OpenStore(cfg *config.Config) (repository.Store, *gorm.DB, error) {
	if cfg.Database.Driver == "memory" {
		logrus.Warn("⚠️ Using in-memory store, state is lost on restart")
		return repository.NewMemoryStore(), nil, nil
	}
	gdb, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, nil, err
	}
	return repository.NewGormStore(gdb), gdb, nil
}

// JettonRoutes resolves the configured jettons into submission routes
func JettonRoutes(cfg *config.Config) (map[string]services.JettonRoute, error) {
	routes := make(map[string]services.JettonRoute, len(cfg.Jettons))
	for name, j := range cfg.Jettons {
		addr, err := highload.ParseAddress(j.WalletAddress)
		if err != nil {
			return nil, fmt.Errorf("jetton %s: %w", name, err)
		}
		fwd, err := config.ParseNano(j.ForwardAmountOrDefault())
		if err != nil {
			return nil, fmt.Errorf("jetton %s: %w", name, err)
		}
		routes[name] = services.JettonRoute{WalletAddress: addr, ForwardAmount: fwd}
	}
	return routes, nil
}

// LoadKey derives the hot wallet key, the seed taking precedence over the mnemonic
func LoadKey(cfg config.HotWalletConfig) (*keys.KeyPair, error) {
	switch {
	case cfg.Seed != "":
		return keys.FromEncodedSeed(cfg.Seed)
	case cfg.Mnemonic != "":
		return keys.FromMnemonic(cfg.Mnemonic)
	default:
		return nil, errors.New("hot wallet key not configured: set hot_wallet.seed or hot_wallet.mnemonic")
	}
}

// NewServiceContainer builds every component; startup errors are fatal to the caller
func NewServiceContainer(cfg *config.Config) (*ServiceContainer, error) {
	logrus.Info("🚀 Initializing Service Container...")
	c := &ServiceContainer{Config: cfg}

	hotWallet, err := highload.ParseAddress(cfg.HotWallet.Address)
	if err != nil {
		return nil, fmt.Errorf("hot_wallet.address: %w", err)
	}
	key, err := LoadKey(cfg.HotWallet)
	if err != nil {
		return nil, err
	}
	forward, err := config.ParseNano(cfg.HotWallet.ForwardAmount)
	if err != nil {
		return nil, fmt.Errorf("hot_wallet.forward_amount: %w", err)
	}
	c.Wallet = &highload.Wallet{
		Address:       hotWallet,
		SubwalletID:   cfg.HotWallet.SubwalletID,
		Timeout:       cfg.HotWallet.Timeout,
		ForwardAmount: forward,
		Signer:        key,
	}
	if c.Jettons, err = JettonRoutes(cfg); err != nil {
		return nil, err
	}

	if c.Store, c.DB, err = OpenStore(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	c.Ledger = clients.NewToncenterClient(cfg.Toncenter.BaseURL, cfg.Toncenter.APIKey, config.Seconds(cfg.Toncenter.Timeout))
	c.initEvents()

	b := cfg.Batching
	c.Builder = services.NewBatchBuilder(c.Store, services.BatchPolicy{
		MinSize:         b.MinSize,
		MaxSize:         b.MaxSize,
		ForceAfterTicks: b.ForceAfterTicks,
		MaxBacklog:      b.MaxBacklog,
	}, c.Publisher)
	c.Submitter = services.NewBatchSubmitter(c.Store, c.Ledger, c.Wallet, c.Jettons, c.Publisher, b.MaxBatchesPerTick)
	c.Reconciler = services.NewLedgerReconciler(c.Store, c.Ledger, hotWallet, c.Jettons, c.Publisher, cfg.Toncenter.PageSize, cfg.Toncenter.Archival)

	s := cfg.Schedule
	c.Scheduler = services.NewSchedulerService(c.Builder, c.Submitter, c.Reconciler, services.ScheduleIntervals{
		Batching:        config.Seconds(s.BatchingInterval),
		Submit:          config.Seconds(s.SubmitInterval),
		Reconcile:       config.Seconds(s.ReconcileInterval),
		ReconcileJetton: config.Seconds(s.JettonReconcileInterval),
		TickTimeout:     config.Seconds(s.TickTimeout),
	})
	c.Withdrawals = services.NewWithdrawalService(c.Store, c.Jettons, c.Publisher)

	jettonNames := make([]string, 0, len(c.Jettons))
	for name := range c.Jettons {
		jettonNames = append(jettonNames, name)
	}
	sort.Strings(jettonNames)
	logrus.WithFields(logrus.Fields{
		"hot_wallet":   hotWallet.String(),
		"subwallet_id": cfg.HotWallet.SubwalletID,
		"timeout":      cfg.HotWallet.Timeout,
		"jettons":      jettonNames,
		"store":        cfg.Database.Driver,
	}).Info("✅ Service Container initialized successfully")
	return c, nil
}

// initEvents builds the event fan-out; NATS is optional and never fatal
func (c *ServiceContainer) initEvents() {
	c.Hub = events.NewHub(64)
	sinks := events.Multi{events.LogPublisher{}, c.Hub}

	if c.Config.NATS.URL != "" {
		natsClient, err := clients.NewNATSClient(c.Config.NATS)
		if err != nil {
			logrus.WithError(err).Warn("⚠️ NATS unavailable, events go to log and websocket only")
		} else {
			c.NATSClient = natsClient
			sinks = append(sinks, events.NewNATSPublisher(natsClient))
		}
	}
	c.Publisher = sinks
}

// HealthChecks dependency probes for /health
func (c *ServiceContainer) HealthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{}
	if c.DB != nil {
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := c.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if c.NATSClient != nil {
		checks["nats"] = func(ctx context.Context) error {
			if !c.NATSClient.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}
	return checks
}

// Router builds the HTTP surface over the container's services
func (c *ServiceContainer) Router() *gin.Engine {
	return router.SetupRouter(c.Config, router.Handlers{
		Health:     handlers.NewHealthHandler(c.HealthChecks()),
		Withdrawal: handlers.NewWithdrawalHandler(c.Withdrawals, c.Scheduler),
		AdminAuth:  handlers.NewAdminAuthHandler(c.Config.Admin),
		WebSocket:  handlers.NewWebSocketHandler(c.Hub),
	})
}

// Start runs the scheduler and the pool stats reporter
func (c *ServiceContainer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.Scheduler.Start(ctx)

	if c.DB != nil {
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					db.ReportPoolStats(c.DB)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// Cleanup stops background work and closes connections
func (c *ServiceContainer) Cleanup() {
	logrus.Info("🧹 Cleaning up Service Container...")

	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.NATSClient != nil {
		c.NATSClient.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	logrus.Info("✅ Service Container cleaned up")
}
