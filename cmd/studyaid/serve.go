package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/studyaid/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local HTTP API for a UI shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	cmd.Flags().String("http-address", viper.GetString("http.address"), "HTTP listen address")
	cmd.Flags().StringSlice("allowed-origins", viper.GetStringSlice("http.allowed_origins"), "Origins allowed to call the API with credentials")
	cmd.Flags().String("signing-secret", "", "Session token signing secret (overrides env)")
	cmd.Flags().Int("token-ttl-minutes", viper.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")

	bindLocalFlag(cmd, "http.address", "http-address")
	bindLocalFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindLocalFlag(cmd, "auth.signing_secret", "signing-secret")
	bindLocalFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	return cmd
}

func bindLocalFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func runServer(ctx context.Context) error {
	app, err := openApplication()
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.config.ValidateServer(); err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(app.config.SigningSecret),
		TokenTTL:      app.config.TokenTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:          app.store,
		Tracker:        app.tracker,
		Aggregator:     app.aggregator,
		TokenManager:   tokenManager,
		Realtime:       app.realtime,
		AllowedOrigins: app.config.AllowedOrigins,
		Logger:         app.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		app.logger.Info("server stopping")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
