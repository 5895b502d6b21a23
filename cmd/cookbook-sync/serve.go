package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/auth"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/authority"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/config"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/cookbook"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/database"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/logging"
	"github.com/rafaelpiloto120/my-cookbook-ai-sub002/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reference authoritative sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		Audience:      appConfig.AuthAudience,
		TokenTTL:      appConfig.AuthTokenTTL,
	})
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := appConfig.ValidateServer(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, zap.String("command", "serve"))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenRemote(appConfig.ServerDatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenIssuer, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}

	authorityService, err := authority.NewService(authority.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: cookbook.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:    tokenIssuer,
		Authority: authorityService,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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
