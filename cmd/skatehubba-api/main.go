package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/skatehubba/backend/internal/auth"
	"github.com/skatehubba/backend/internal/battle"
	"github.com/skatehubba/backend/internal/config"
	"github.com/skatehubba/backend/internal/database"
	"github.com/skatehubba/backend/internal/dispatch"
	"github.com/skatehubba/backend/internal/game"
	"github.com/skatehubba/backend/internal/logging"
	"github.com/skatehubba/backend/internal/players"
	"github.com/skatehubba/backend/internal/scheduler"
	"github.com/skatehubba/backend/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "skatehubba-api",
		Short: "SkateHubba game backend service",
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
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite or postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().Duration("turn-timeout", defaults.GetDuration("game.turn_timeout"), "Turn deadline duration")
	cmd.PersistentFlags().Duration("vote-window", defaults.GetDuration("game.vote_window"), "Battle voting window duration")
	cmd.PersistentFlags().Duration("disconnect-grace", defaults.GetDuration("game.disconnect_grace"), "Grace period before a paused game forfeits")
	cmd.PersistentFlags().Duration("sweep-interval", defaults.GetDuration("game.sweep_interval"), "Deadline sweep interval")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "game.turn_timeout", "turn-timeout")
	bindFlag(cmd, "game.vote_window", "vote-window")
	bindFlag(cmd, "game.disconnect_grace", "disconnect-grace")
	bindFlag(cmd, "game.sweep_interval", "sweep-interval")
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

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, error) {
	if appConfig.DatabaseDriver == config.DriverPostgres {
		return database.OpenPostgres(appConfig.DatabaseDSN, logger)
	}
	return database.OpenSQLite(appConfig.DatabaseDSN, logger)
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

	db, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
	})

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	gameService, err := game.NewService(game.ServiceConfig{
		Database:        db,
		Clock:           time.Now,
		IDProvider:      game.NewUUIDProvider(),
		Logger:          logger,
		TurnTimeout:     appConfig.TurnTimeout,
		DisconnectGrace: appConfig.DisconnectGrace,
	})
	if err != nil {
		return err
	}

	battleService, err := battle.NewService(battle.ServiceConfig{
		Database:     db,
		Clock:        time.Now,
		Logger:       logger,
		VotingWindow: appConfig.VoteWindow,
	})
	if err != nil {
		return err
	}

	playerService, err := players.NewService(players.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	broadcaster := dispatch.NewBroadcaster()
	notifier := dispatch.NewLogNotifier(logger)

	sweeper, err := scheduler.NewSweeper(scheduler.Config{
		Games:    gameService,
		Battles:  battleService,
		Interval: appConfig.SweepInterval,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:      tokenManager,
		Sessions:          sessionValidator,
		Games:             gameService,
		Battles:           battleService,
		Players:           playerService,
		Broadcaster:       broadcaster,
		Notifier:          notifier,
		SigningSecret:     []byte(appConfig.SigningSecret),
		SessionCookieName: appConfig.SessionCookieName,
		Logger:            logger,
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

	if err := sweeper.Start(signalCtx); err != nil {
		return err
	}
	defer sweeper.Shutdown() //nolint:errcheck

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
