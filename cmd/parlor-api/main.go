package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parlorchat/parlor/internal/config"
	"github.com/parlorchat/parlor/internal/database"
	"github.com/parlorchat/parlor/internal/display"
	"github.com/parlorchat/parlor/internal/history"
	"github.com/parlorchat/parlor/internal/hub"
	"github.com/parlorchat/parlor/internal/logging"
	"github.com/parlorchat/parlor/internal/notify"
	"github.com/parlorchat/parlor/internal/presence"
	"github.com/parlorchat/parlor/internal/server"
	"github.com/parlorchat/parlor/internal/subscription"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "parlor-api",
		Short: "Parlor realtime group chat service",
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
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Storage backend (sqlite, firebase)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("firebase-dsn", defaults.GetString("firebase.dsn"), "Firebase Realtime Database URL")
	cmd.PersistentFlags().String("static-dir", defaults.GetString("web.static_dir"), "Static asset directory")
	cmd.PersistentFlags().Int("history-limit", defaults.GetInt("chat.history_limit"), "Messages rendered on the chat page")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "firebase.dsn", "firebase-dsn")
	bindFlag(cmd, "web.static_dir", "static-dir")
	bindFlag(cmd, "chat.history_limit", "history-limit")
	bindFlag(cmd, "log.level", "log-level")
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
		// An explicitly named config file must load; the implicit search may miss.
		if cfgFile != "" {
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

	historyStore, subscriptionStore, closeStores, err := openStores(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	displayLocation, err := time.LoadLocation(appConfig.Timezone)
	if err != nil {
		return err
	}

	var notifier hub.Notifier
	if appConfig.PushEnabled() {
		pushSender, err := notify.NewWebPushSender(notify.WebPushSenderConfig{
			VAPIDPublicKey:  appConfig.VAPIDPublicKey,
			VAPIDPrivateKey: appConfig.VAPIDPrivateKey,
			Subscriber:      appConfig.PushSubscriber,
			TTL:             appConfig.PushTTLSeconds,
		})
		if err != nil {
			return err
		}
		notifier, err = notify.NewDispatcher(notify.DispatcherConfig{
			Subscriptions: subscriptionStore,
			Sender:        pushSender,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Info("push delivery disabled: no vapid keys configured")
	}

	var reporter hub.CountReporter
	if appConfig.DisplayEnabled() {
		deviceReporter, err := display.NewReporter(display.ReporterConfig{
			BaseURL:  appConfig.DisplayBaseURL,
			DeviceID: appConfig.DisplayDeviceID,
			Token:    appConfig.DisplayToken,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		reporter = deviceReporter
	} else {
		logger.Info("display reporting disabled: no device configured")
	}

	chatHub, err := hub.New(hub.Config{
		Presence: presence.NewRegistry(),
		History:  historyStore,
		Notifier: notifier,
		Reporter: reporter,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	go chatHub.Run()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		History:         historyStore,
		Subscriptions:   subscriptionStore,
		Hub:             chatHub,
		HistoryLimit:    appConfig.HistoryLimit,
		DisplayLocation: displayLocation,
		StaticDir:       appConfig.StaticDir,
		Logger:          logger,
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
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("backend", appConfig.StorageBackend))
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
		if err := chatHub.Shutdown(5 * time.Second); err != nil {
			logger.Warn("hub shutdown timed out", zap.Error(err))
		}
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// openStores builds both store contracts against the configured backend and
// returns a close function for whatever resources the backend holds.
func openStores(appConfig config.AppConfig, logger *zap.Logger) (history.Store, subscription.Store, func(), error) {
	switch appConfig.StorageBackend {
	case config.BackendFirebase:
		historyStore, err := history.NewFirebaseStore(history.FirebaseStoreConfig{
			BaseURL:   appConfig.FirebaseDSN,
			AuthToken: appConfig.FirebaseToken,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		subscriptionStore, err := subscription.NewFirebaseStore(subscription.FirebaseStoreConfig{
			BaseURL:   appConfig.FirebaseDSN,
			AuthToken: appConfig.FirebaseToken,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return historyStore, subscriptionStore, func() {}, nil

	default:
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, nil, err
		}
		historyStore, err := history.NewSQLiteStore(history.SQLiteStoreConfig{Database: db, Logger: logger})
		if err != nil {
			return nil, nil, nil, err
		}
		subscriptionStore, err := subscription.NewSQLiteStore(subscription.SQLiteStoreConfig{Database: db, Logger: logger})
		if err != nil {
			return nil, nil, nil, err
		}
		return historyStore, subscriptionStore, func() { sqlDB.Close() }, nil
	}
}
