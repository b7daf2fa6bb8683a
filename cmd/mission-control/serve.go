package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/TomBuge/openclaw-mission-control/internal/agents"
	internalhttp "github.com/TomBuge/openclaw-mission-control/internal/api/http"
	"github.com/TomBuge/openclaw-mission-control/internal/auth"
	"github.com/TomBuge/openclaw-mission-control/internal/clock"
	"github.com/TomBuge/openclaw-mission-control/internal/gateways"
	grpcserver "github.com/TomBuge/openclaw-mission-control/internal/grpc/server"
	"github.com/TomBuge/openclaw-mission-control/internal/notify"
	"github.com/TomBuge/openclaw-mission-control/internal/openclaw"
	"github.com/TomBuge/openclaw-mission-control/internal/provisioning"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC liveness probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newNotifier() (provisioning.Notifier, error) {
	if !config.Matrix.Enabled() {
		return notify.NewLogNotifier(slog.Default()), nil
	}
	n, err := notify.NewMatrixNotifier(config.Matrix)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix notifier: %w", err)
	}
	slog.Info("Delivering agent credentials via Matrix", "room_id", config.Matrix.RoomID)
	return n, nil
}

func runServe(ctx context.Context) error {
	slog.Info("OpenClaw Mission Control", "version", AppVersion)

	st, err := openStore(ctx, config.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	notifier, err := newNotifier()
	if err != nil {
		return err
	}

	clk := clock.Real()
	gatewayClient := openclaw.NewClient(config.OpenClaw.Timeout)
	liveness := agents.NewLiveness(clk, config.Liveness.OfflineAfter)
	agentService := agents.NewService(st, gatewayClient, config.OpenClaw.Gateway(), liveness, clk)
	reconciler := provisioning.NewReconciler(st, gatewayClient, notifier, clk)
	gatewayService := gateways.NewService(st, reconciler, clk)

	if !config.OpenClaw.Gateway().Valid() {
		slog.Warn("No default gateway configured, self-registering agents will not get sessions")
	}

	services := &internalhttp.Services{
		Agents:      agentService,
		Gateways:    gatewayService,
		Activity:    st,
		DB:          st,
		AdminAPIKey: config.Http.AdminAPIKey,
		JWT:         auth.Config{Secret: config.Http.JWTSecret, Expiry: auth.DefaultTokenExpiry},
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key", "X-Agent-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	var grpcSrv *grpcserver.Server
	if config.Grpc.Enabled {
		grpcSrv = grpcserver.NewServer(config.Grpc.Port, grpcserver.NewHealthService(agentService, st, 0))
	}

	errChan := make(chan error, 2)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if grpcSrv != nil {
		go func() {
			if err := grpcSrv.Start(); err != nil {
				errChan <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case serveErr = <-errChan:
		slog.Error("Server error", "error", serveErr)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down servers...")

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	if grpcSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := grpcSrv.StopWithTimeout(shutdownTimeout); err != nil {
				slog.Error("gRPC server shutdown error", "error", err)
			}
		}()
	}

	wg.Wait()
	slog.Info("Shutdown complete")
	return serveErr
}
