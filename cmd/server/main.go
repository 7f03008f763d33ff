package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/api"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/app"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/auth"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/config"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/logging"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/mcp"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/tls"
)

var version = "dev"

func main() {
	ctx := context.Background()

	// Parse command line flags
	configFile := flag.String("config", "", "Path to config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger := logging.New(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"store", cfg.Store.Backend,
		"oracle", cfg.Oracle.URL,
		"transfer_url", cfg.Transfer.URL,
		"okta_domain", cfg.Auth.OktaDomain,
	)

	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger client id matches the backend client id; PKCE login from /docs will fail if the backend is a confidential client")
	}

	logger.Info("Starting Verifiable Agent Workflow Service", "version", version)

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize runtime", "error", err)
		log.Fatalf("Runtime initialization failed: %v", err)
	}
	defer rt.Close()

	logger.Info("Service layer initialized")

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("verifiable-agent"))

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		log.Fatalf("auth initialization failed: %v", err)
	}
	if authz.Bypassed() {
		logger.Warn("Authentication bypassed; every request acts as " + auth.DevOperator)
	}
	requireAuth := echo.WrapMiddleware(authz.RequireAuth)

	// Register auth handlers
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))
	e.GET("/health", echo.WrapHandler(http.HandlerFunc(api.NewHandler(version).HandleHealth)))

	// Mount REST API handlers
	apiGroup := e.Group("/api/v1", requireAuth)
	api.NewServer(rt.Service, rt.Recorder, rt.Wallet).Register(apiGroup)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(rt.Service, version)
	e.Any("/mcp/*", echo.WrapHandler(mcp.HTTPHandler(mcpServer.GetMCPServer())), requireAuth)

	logger.Info("MCP protocol handlers mounted")

	// expose OpenAPI spec (with runtime substitution) and Swagger UI
	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.OktaDomain, cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(api.OAuthRedirectHandler)))

	// No WriteTimeout: wait=true runs and MCP SSE streams are long-lived.
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		if !cfg.TLS.Enable {
			serverErrors <- server.ListenAndServe()
			return
		}
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			serverErrors <- errors.New("TLS enabled but cert/key file not provided")
			return
		}
		if len(cfg.TLS.Hostnames) > 0 {
			created, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
			if err != nil {
				serverErrors <- err
				return
			}
			if created {
				logger.Info("Generated self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
			}
		}
		serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			rt.Close()
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}
		if err := rt.Service.Shutdown(ctx); err != nil {
			logger.Warn("In-flight workflows were cancelled", "error", err)
		}

		logger.Info("Server stopped gracefully")
	}
}
