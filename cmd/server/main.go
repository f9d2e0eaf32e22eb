// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stravigor/oauth2/internal/audit"
	"github.com/stravigor/oauth2/internal/config"
	"github.com/stravigor/oauth2/internal/oauth2"
	"github.com/stravigor/oauth2/internal/observability/logger"
	"github.com/stravigor/oauth2/internal/observability/metrics"
	"github.com/stravigor/oauth2/internal/observability/tracing"
	"github.com/stravigor/oauth2/internal/scope"
	"github.com/stravigor/oauth2/internal/session"
	"github.com/stravigor/oauth2/internal/store/postgres"
	transportHTTP "github.com/stravigor/oauth2/internal/transport/http"
	"github.com/stravigor/oauth2/internal/user"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting oauth2 authorization server")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}
	var grantCounter metric.Int64Counter
	if meter != nil {
		grantCounter, err = meter.CreateCounter("oauth2.grants", "count of protocol events by type, keyed by grant outcome")
		if err != nil {
			slog.Error("failed to create grant counter", logger.Error(err))
		}
	}

	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	clientRepo := postgres.NewClientRepository(db)
	codeRepo := postgres.NewCodeRepository(db)
	tokenRepo := postgres.NewTokenRepository(db)

	auditLogger := audit.NewSlogLogger()

	clients := oauth2.NewClients(clientRepo)
	codes := oauth2.NewCodes(codeRepo, cfg.OAuth2.AuthCodeLifetime)
	tokens := oauth2.NewTokens(tokenRepo, cfg.OAuth2.AccessTokenLifetime, cfg.OAuth2.RefreshTokenLifetime, cfg.OAuth2.PersonalAccessTokenLifetime, cfg.OAuth2.PersonalAccessClient)
	scopes := scope.New(cfg.OAuth2.Scopes)
	sessions := session.New(10 * time.Minute)
	users := user.NewMemoryProvider()

	engine := &oauth2.Engine{
		Clients:              clients,
		Codes:                codes,
		Tokens:               tokens,
		Scopes:               scopes,
		Sessions:             sessions,
		DefaultScopes:        cfg.OAuth2.DefaultScopes,
		PersonalAccessClient: cfg.OAuth2.PersonalAccessClient,
		Emit: func(ctx context.Context, e oauth2.Emitted) {
			if grantCounter != nil {
				grantCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("event_type", e.Type),
					attribute.String("client_id", e.ClientID),
				))
			}
			eventType := auditTypeFor(e.Type)
			if eventType == "" {
				return
			}
			auditLogger.Log(ctx, audit.Event{
				Type:     eventType,
				ActorID:  e.UserID,
				Resource: audit.ResourceToken,
				Metadata: map[string]any{
					"client_id": e.ClientID,
					"token_id":  e.TokenID,
					"scopes":    e.Scopes,
				},
			})
		},
	}

	handler := transportHTTP.NewHandler(engine, clients, tokens, users, auditLogger, cfg.OAuth2.Prefix, cfg.OAuth2.PersonalAccessClient)
	rateLimiter := transportHTTP.NewRateLimiter(cfg.OAuth2.RateLimitAuthorize, cfg.OAuth2.RateLimitToken)
	router := transportHTTP.NewRouter(handler, rateLimiter)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n, err := codes.Prune(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to prune authorization codes", logger.Error(err))
			} else if n > 0 {
				slog.InfoContext(ctx, "pruned authorization codes", "count", n)
			}
			if n, err := tokens.Prune(ctx, cfg.OAuth2.PruneRevokedAfter); err != nil {
				slog.ErrorContext(ctx, "failed to prune tokens", logger.Error(err))
			} else if n > 0 {
				slog.InfoContext(ctx, "pruned tokens", "count", n)
			}
		}
	}()

	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

// auditTypeFor maps a protocol event name to the audit vocabulary, or ""
// if the event has no audit-worthy counterpart.
func auditTypeFor(eventType string) string {
	switch eventType {
	case oauth2.EventCodeIssued:
		return audit.TypeCodeIssued
	case oauth2.EventTokenIssued:
		return audit.TypeTokenIssued
	case oauth2.EventTokenRefreshed:
		return audit.TypeTokenRefreshed
	case oauth2.EventTokenRevoked:
		return audit.TypeTokenRevoked
	default:
		return ""
	}
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
