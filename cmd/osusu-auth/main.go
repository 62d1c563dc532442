package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adapterhandler "osusu-auth/internal/adapter/handler"
	"osusu-auth/internal/adapter/gateway"
	"osusu-auth/internal/domain"
	"osusu-auth/internal/infrastructure/credstore"
	infratoken "osusu-auth/internal/infrastructure/token"
	"osusu-auth/internal/lifecycle"

	"osusu-auth/config"
	appmiddleware "osusu-auth/middleware"
	"osusu-auth/utils/logger"
	"osusu-auth/utils/otel"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Handle healthcheck subcommand (for Docker healthcheck in distroless image)
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		if err := runHealthcheck(); err != nil {
			fmt.Fprintf(os.Stderr, "Healthcheck failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize OpenTelemetry
	otelCfg := otel.ConfigFromEnv()
	otelShutdown, err := otel.InitProvider(ctx, otelCfg)
	if err != nil {
		slog.Warn("failed to initialize OpenTelemetry, continuing without tracing", "error", err)
		otelCfg.Enabled = false
	}

	// Initialize structured logger
	logger.Init(otelCfg.Enabled)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.InfoContext(ctx, "configuration loaded",
		"provider", cfg.Provider,
		"port", cfg.Port,
		"request_timeout", cfg.RequestTimeout)

	// Infrastructure
	creds := credstore.NewFileStore(cfg.CredentialFile)

	var identity domain.IdentityService
	switch cfg.Provider {
	case config.ProviderKratos:
		identity = gateway.NewKratosGateway(cfg.KratosURL, cfg.RequestTimeout, creds)
		slog.InfoContext(ctx, "kratos gateway initialized", "base_url", cfg.KratosURL)
	default:
		identity = gateway.NewAppwriteGateway(cfg.AppwriteEndpoint, cfg.AppwriteProject, cfg.RequestTimeout, creds)
		slog.InfoContext(ctx, "appwrite gateway initialized",
			"endpoint", cfg.AppwriteEndpoint,
			"project", cfg.AppwriteProject)
	}

	jwtIssuer := infratoken.NewJWTIssuer(infratoken.JWTConfig{
		Secret:   cfg.AppTokenSecret,
		Issuer:   cfg.AppTokenIssuer,
		Audience: cfg.AppTokenAudience,
		TTL:      cfg.AppTokenTTL,
	})

	// The lifecycle manager is the single long-lived instance owning auth state.
	manager := lifecycle.NewManager(identity, slog.Default())

	// Resolve any prior session before serving traffic. Restore never fails
	// the startup: a dead credential just means starting unauthenticated.
	restoreCtx, cancelRestore := context.WithTimeout(ctx, cfg.RequestTimeout)
	if err := manager.RestoreSession(restoreCtx); err != nil {
		slog.WarnContext(ctx, "startup restore skipped", "error", err)
	}
	cancelRestore()
	slog.InfoContext(ctx, "startup restore completed", "phase", manager.State().Phase.String())

	// Handlers
	lifecycleHandler := adapterhandler.NewLifecycleHandler(manager, jwtIssuer)
	sessionHandler := adapterhandler.NewSessionHandler(manager, lifecycleHandler)
	accountHandler := adapterhandler.NewAccountHandler(manager, lifecycleHandler)
	healthHandler := adapterhandler.NewHealthHandler()

	// Setup Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Security middleware
	e.Use(appmiddleware.SecurityHeaders())

	// OpenTelemetry tracing
	if otelCfg.Enabled {
		e.Use(otelecho.Middleware(otelCfg.ServiceName))
	}

	// Request logging
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/health"
		},
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			rctx := c.Request().Context()
			if v.Error == nil {
				slog.InfoContext(rctx, "request completed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds())
			} else {
				slog.ErrorContext(rctx, "request failed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds(),
					"error", v.Error.Error())
			}
			return nil
		},
	}))

	e.Use(middleware.Recover())

	// Credential endpoints get tight per-IP limits
	signInRL := appmiddleware.NewRateLimiter(10.0/60.0, 5)  // 10 req/min
	registerRL := appmiddleware.NewRateLimiter(5.0/60.0, 3) // 5 req/min
	stateRL := appmiddleware.NewRateLimiter(120.0/60.0, 20) // 120 req/min

	// Public routes
	e.GET("/v1/lifecycle", lifecycleHandler.HandleState, stateRL.Middleware())
	e.POST("/v1/sessions", sessionHandler.HandleSignIn, signInRL.Middleware())
	e.DELETE("/v1/sessions/current", sessionHandler.HandleSignOut)
	e.POST("/v1/accounts", accountHandler.HandleRegister, registerRL.Middleware())
	e.GET("/health", healthHandler.Handle)

	// Operational restore trigger, protected by shared secret when configured
	restoreRoute := e.Group("/v1/lifecycle")
	if cfg.InternalSecret != "" {
		restoreRoute.Use(appmiddleware.InternalAuth(cfg.InternalSecret))
	}
	restoreRoute.POST("/restore", lifecycleHandler.HandleRestore)

	// Start server with errgroup for graceful shutdown
	address := fmt.Sprintf(":%s", cfg.Port)
	slog.InfoContext(ctx, "starting osusu-auth server", "address", address)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return otelShutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited properly")
}

// runHealthcheck performs a health check against the local server.
func runHealthcheck() error {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8890"
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%s/health", port))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned status: %d", resp.StatusCode)
	}
	return nil
}
