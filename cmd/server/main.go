// Package main provides the entry point for the ezsign job processing server
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/JulesNsenda/ezsign-sub003/domain/dlq"
	"github.com/JulesNsenda/ezsign-sub003/domain/documents"
	"github.com/JulesNsenda/ezsign-sub003/domain/email"
	"github.com/JulesNsenda/ezsign-sub003/domain/monitoring"
	"github.com/JulesNsenda/ezsign-sub003/domain/pdf"
	"github.com/JulesNsenda/ezsign-sub003/domain/scheduler"
	"github.com/JulesNsenda/ezsign-sub003/domain/webhooks"
	"github.com/JulesNsenda/ezsign-sub003/internal/config"
	"github.com/JulesNsenda/ezsign-sub003/internal/database"
	"github.com/JulesNsenda/ezsign-sub003/internal/jobs"
	"github.com/JulesNsenda/ezsign-sub003/internal/server"
	"github.com/JulesNsenda/ezsign-sub003/internal/storage"
	"github.com/JulesNsenda/ezsign-sub003/pkg/auth"
	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

func main() {
	// Load .env files if present (for local development).
	// Load() won't overwrite existing vars, Overload() will.
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules. Database comes first: fx stops hooks in
		// reverse registration order, so the pool closes after everything
		// that uses it has drained.
		logger.Module,
		config.Module,
		database.Module,
		storage.Module,

		// Operator API gate
		auth.Module,

		// Queues, worker pools, and the job status API
		jobs.Module,

		// Dead letter sink and operator surface
		dlq.Module,

		// Outbound webhook pipeline
		webhooks.Module,

		// Signer notification email
		email.Module,

		// Document scheduling and signer flow
		documents.Module,

		// PDF post-processing (thumbnails, optimization)
		pdf.Module,

		// Cron-based maintenance tasks
		scheduler.Module,

		// Prometheus metrics
		monitoring.Module,

		// HTTP server last: its OnStop hook then runs first on shutdown,
		// so the listener closes before the worker pools drain.
		server.Module,
	).Run()
}
