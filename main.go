// Orb agent - escalation handoff and elevated session manager.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/workspace/orb-agent/internal/archive"
	"github.com/workspace/orb-agent/internal/audit"
	"github.com/workspace/orb-agent/internal/auth"
	"github.com/workspace/orb-agent/internal/config"
	"github.com/workspace/orb-agent/internal/evaluator"
	"github.com/workspace/orb-agent/internal/faultreport"
	"github.com/workspace/orb-agent/internal/handoff"
	"github.com/workspace/orb-agent/internal/history"
	"github.com/workspace/orb-agent/internal/logging"
	"github.com/workspace/orb-agent/internal/permission"
	"github.com/workspace/orb-agent/internal/server"
	"github.com/workspace/orb-agent/internal/session"
	"github.com/workspace/orb-agent/internal/sweep"
)

func main() {
	logging.Setup()
	slog.Info("Starting orb agent")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Fault reporter batches internal errors to the control plane.
	// With no control plane configured it logs locally.
	faults := faultreport.New(cfg.ControlPlaneURL, faultreport.Config{})
	faults.Start()

	auditLog, err := audit.Open(cfg.AuditDir, "orb-agent", faults)
	if err != nil {
		slog.Error("Failed to open audit log", "error", err)
		os.Exit(1)
	}

	store, err := archive.Open(cfg.ArchivePath)
	if err != nil {
		slog.Error("Failed to open session archive", "error", err)
		os.Exit(1)
	}

	registry := session.NewRegistry(auditLog)

	grants := permission.NewManager(registry, auditLog, faults)
	grants.RegisterProvider(session.ScopeFileAccess, &permission.FileAccessProvider{Root: cfg.ProjectsRoot})
	if cfg.ScreenBrokerURL != "" {
		grants.RegisterProvider(session.ScopeScreenShare,
			permission.NewScreenBrokerClient(cfg.ScreenBrokerURL, &http.Client{Timeout: 10 * time.Second}))
	} else {
		slog.Warn("No screen broker configured, screen share grants will use the stub provider")
		grants.RegisterProvider(session.ScopeScreenShare, &permission.StubScreenProvider{Available: true})
	}

	// End hooks: release held resources first, then archive the final
	// session snapshot.
	registry.OnEnd(grants.ReleaseSession)
	registry.OnEnd(store.ArchiveSession)

	var eval evaluator.Evaluator
	switch cfg.EvaluatorMode {
	case "http":
		eval = evaluator.NewHTTPEvaluator(cfg.EvaluatorURL, &http.Client{Timeout: cfg.EvaluatorTimeout + time.Second})
	default:
		eval = evaluator.NewSubprocessEvaluator(cfg.EvaluatorCommand, cfg.EvaluatorArgs...)
	}

	bridge := handoff.NewBridge(history.NewBufferWithWindow(cfg.HistoryWindow), eval, faults, cfg.EvaluatorTimeout)

	var validator *auth.Validator
	if cfg.JWKSEndpoint != "" {
		validator, err = auth.NewValidator(cfg.JWKSEndpoint, cfg.JWTIssuer, cfg.JWTAudience)
		if err != nil {
			slog.Error("Failed to create JWT validator", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("No JWKS endpoint configured, token auth is disabled")
	}

	sweeper := sweep.New(registry, cfg.SessionTTL, cfg.SweepInterval)
	sweeper.Start()

	srv := server.New(cfg, server.Deps{
		Registry:  registry,
		Bridge:    bridge,
		Grants:    grants,
		Audit:     auditLog,
		Validator: validator,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("Server error", "error", err)
		os.Exit(1)
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		slog.Warn("Error during HTTP shutdown", "error", err)
	}

	sweeper.Stop()

	// Ending sessions through the registry releases resource handles and
	// archives final snapshots via the end hooks.
	registry.Close(session.ResolutionDismissed)

	faults.Shutdown()

	if err := store.Close(); err != nil {
		slog.Warn("Failed to close session archive", "error", err)
	}
	if err := auditLog.Close(); err != nil {
		slog.Warn("Failed to close audit log", "error", err)
	}

	slog.Info("Orb agent stopped")
}
