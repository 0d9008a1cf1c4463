package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/beenaround/backend/internal/appdata"
	"github.com/beenaround/backend/internal/auth"
	"github.com/beenaround/backend/internal/config"
	"github.com/beenaround/backend/internal/database"
	"github.com/beenaround/backend/internal/feed"
	"github.com/beenaround/backend/internal/friends"
	"github.com/beenaround/backend/internal/identifier"
	"github.com/beenaround/backend/internal/logging"
	"github.com/beenaround/backend/internal/monitoring"
	"github.com/beenaround/backend/internal/server"
	"github.com/beenaround/backend/internal/storage"
	"github.com/beenaround/backend/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "beenaround-api",
		Short: "Been Around travel tracking backend service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("storage-dir", defaults.GetString("storage.dir"), "Uploaded file storage directory")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("cors-origins", defaults.GetString("cors.origins"), "Comma separated allowed CORS origins")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("admin-email", defaults.GetString("admin.email"), "Seed admin account email")
	cmd.PersistentFlags().String("admin-password", "", "Seed admin account password (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "storage.dir", "storage-dir")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "cors.origins", "cors-origins")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "admin.email", "admin-email")
	bindFlag(cmd, "admin.password", "admin-password")
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

	idProvider := identifier.NewUUIDProvider()
	hasher := auth.NewPasswordHasher()

	revocations, err := auth.NewRevocationStore(db, time.Now)
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "beenaround-auth",
		Audience:      "beenaround-api",
		TokenTTL:      appConfig.TokenTTL,
		IDProvider:    idProvider,
		Revocations:   revocations,
	})

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Hasher:     hasher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	appDataService, err := appdata.NewService(appdata.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	friendsService, err := friends.NewService(friends.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	feedService, err := feed.NewService(feed.ServiceConfig{
		Database:     db,
		FriendLister: friendsService,
		Clock:        time.Now,
		IDProvider:   idProvider,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	fileStore, err := storage.NewStore(appConfig.StorageDir)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	monitor := monitoring.NewCollector(registry)

	if appConfig.AdminEmail != "" && appConfig.AdminPassword != "" {
		if err := usersService.SeedAdmin(ctx, appConfig.AdminEmail, appConfig.AdminPassword); err != nil {
			return err
		}
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:   tokenManager,
		TokenRevoker:   revocations,
		UsersService:   usersService,
		AppDataService: appDataService,
		FriendsService: friendsService,
		FeedService:    feedService,
		FileStore:      fileStore,
		Monitor:        monitor,
		Metrics:        registry,
		Dispatcher:     server.NewFeedDispatcher(),
		CORSOrigins:    appConfig.CORSOrigins,
		Logger:         logger,
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
