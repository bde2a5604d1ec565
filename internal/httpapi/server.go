// Package httpapi serves the credits API over HTTP with gin behind TAuth session cookies.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/roomledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/roomledger/internal/orchestrator"
	"github.com/MarkoPoloResearchLab/roomledger/internal/payments"
	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey     = "auth_claims"
	idempotencyKeyHeader = "Idempotency-Key"
	maxWebhookBodyBytes  = 1 << 20
	shutdownTimeout      = 5 * time.Second
)

// Config holds the HTTP-facing settings.
type Config struct {
	ListenAddr        string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	WebhookSecret     string
	RequestTimeout    time.Duration
	MetricsEnabled    bool
}

// Dependencies are the services the handlers call into.
type Dependencies struct {
	Ledger       *ledger.Service
	Orchestrator *orchestrator.Orchestrator
	Payments     *payments.Service
	Profiles     ledger.ProfileStore
	Prices       ledger.PriceTable
	Metrics      *metrics.Collectors
	Logger       *zap.Logger
}

// NewSessionMiddleware validates TAuth session cookies and stores their claims on the context.
func NewSessionMiddleware(cfg Config) (gin.HandlerFunc, error) {
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	return validator.GinMiddleware(claimsContextKey), nil
}

// NewRouter builds the gin engine. session guards every /api route.
func NewRouter(cfg Config, deps Dependencies, session gin.HandlerFunc) *gin.Engine {
	handler := newHTTPHandler(cfg, deps)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", idempotencyKeyHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	router.POST("/webhooks/payments", handler.handlePaymentWebhook)

	api := router.Group("/api")
	api.Use(session)
	api.GET("/session", handler.handleSession)
	api.GET("/credits", handler.handleBalance)
	api.GET("/credits/history", handler.handleHistory)
	api.GET("/prices", handler.handlePrices)
	api.GET("/packages", handler.handlePackages)
	api.POST("/gate", handler.handleGate)
	api.POST("/listings", handler.handlePublishListing)
	api.POST("/actions/:action", handler.handleAction)
	api.PUT("/profile", handler.handleProfile)
	api.POST("/admin/grants", handler.handleGrant)

	return router
}

// Serve runs router on cfg.ListenAddr until ctx is cancelled.
func Serve(ctx context.Context, cfg Config, router http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("http server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
