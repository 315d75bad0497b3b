package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/textswithmyex/backend/internal/activity"
	"github.com/textswithmyex/backend/internal/admin"
	"github.com/textswithmyex/backend/internal/config"
	"github.com/textswithmyex/backend/internal/database"
	"github.com/textswithmyex/backend/internal/kv"
	"github.com/textswithmyex/backend/internal/ledger"
	"github.com/textswithmyex/backend/internal/logging"
	"github.com/textswithmyex/backend/internal/metrics"
	"github.com/textswithmyex/backend/internal/payments"
	"github.com/textswithmyex/backend/internal/server"
	"github.com/textswithmyex/backend/internal/token"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "twme-api",
		Short: "Texts with My Ex backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite activity-log database path")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for the purchase ledger")
	cmd.PersistentFlags().String("paddle-environment", defaults.GetString("paddle.environment"), "Payment processor environment (sandbox, production)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "paddle.environment", "paddle-environment")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	var store kv.Store
	if appConfig.RedisURL != "" {
		options, err := redis.ParseURL(appConfig.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(options)
		defer client.Close()
		store = kv.NewRedisStore(client)
	} else {
		logger.Warn("redis url not configured; purchase ledger uses non-durable in-process storage")
		store = kv.NewMemoryStore(nil)
	}

	tokens, err := token.NewIssuer(token.IssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
	})
	if err != nil {
		return err
	}

	purchaseLedger, err := ledger.New(ledger.Config{Store: store, Logger: logger})
	if err != nil {
		return err
	}

	var processorClient *payments.Client
	if appConfig.PaddleAPIKey != "" {
		processorClient, err = payments.NewClient(payments.ClientConfig{
			APIKey:      appConfig.PaddleAPIKey,
			Environment: appConfig.PaddleEnvironment,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn("processor api key not configured; payment confirm is disabled")
	}
	if appConfig.PaddleWebhookSecret == "" {
		logger.Warn("webhook secret not configured; payment webhook is disabled")
	}

	entitlement, err := payments.NewEntitlement(payments.EntitlementConfig{
		Client:        processorClient,
		WebhookSecret: []byte(appConfig.PaddleWebhookSecret),
		Tokens:        tokens,
		Ledger:        purchaseLedger,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	guard := admin.NewGuard(admin.GuardConfig{
		Secret: appConfig.AdminSecret,
		Tokens: tokens,
		Logger: logger,
	})
	if !guard.Enabled() {
		logger.Warn("admin secret not configured; admin surface is disabled")
	}

	activityService, err := activity.NewService(activity.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	metrics.Init()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Entitlement: entitlement,
		Ledger:      purchaseLedger,
		Guard:       guard,
		Limiter:     admin.NewLimiter(admin.LimiterConfig{}),
		Tokens:      tokens,
		Activity:    activityService,
		Store:       store,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
