package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bizledger/internal/config"
	"bizledger/internal/db"
	"bizledger/internal/handlers"
	"bizledger/internal/logging"
	"bizledger/internal/metrics"
	"bizledger/internal/models"
	"bizledger/internal/reminder"
	"bizledger/internal/services"
	"bizledger/internal/store"
	"bizledger/internal/websocket"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(database.DB, "up"); err != nil {
			logger.Error("failed to migrate", "error", err)
			os.Exit(1)
		}
	}

	m := metrics.New()
	hub, relay, err := newHub(ctx, cfg, m, logger)
	if err != nil {
		logger.Error("failed to start change relay", "error", err)
		os.Exit(1)
	}
	if relay != nil {
		defer relay.Close()
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("change relay stopped", "error", err)
			}
		}()
	}

	users := store.NewUserStore(database)
	parties := store.NewPartyStore(database)
	transactions := store.NewTransactionStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database)

	ledger := services.NewLedgerService(txRunner, parties, transactions, audit, users, hub,
		services.WithRecorder(m),
		services.WithReminderBuilder(reminder.NewBuilder(cfg.Reminder.Scheme, cfg.Reminder.CountryCode)),
	)
	reconciler := services.NewReconciler(txRunner, parties, transactions, audit, hub, m)
	go reconciler.Run(ctx, cfg.Reconcile.Interval)

	handler := handlers.New(cfg, txRunner, users, admin, audit, ledger, reconciler, hub, m)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("ledger API listening", "addr", server.Addr, "env", cfg.AppEnv, "redis", cfg.RedisEnabled())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// newHub wires the websocket hub, fronted by the Redis relay when REDIS_ADDR
// is set so every instance sees every owner's changes.
func newHub(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (*websocket.Hub, *websocket.RedisRelay, error) {
	if !cfg.RedisEnabled() {
		return websocket.NewHub(websocket.WithObserver(m)), nil, nil
	}
	client, err := websocket.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	var hub *websocket.Hub
	relay := websocket.NewRedisRelay(client, func(event models.ChangeEvent) { hub.Broadcast(event) },
		websocket.WithChannel(cfg.Redis.Channel),
		websocket.WithLogger(logger),
	)
	hub = websocket.NewHub(websocket.WithRelay(relay), websocket.WithObserver(m))
	return hub, relay, nil
}
