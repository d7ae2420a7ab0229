// Command gateway serves a payment-gated HTTP resource. It wires the
// environment configuration into a gate, picks a replay guard backend, and
// exposes a priced endpoint plus an operator surface.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openx402/x402-go/auth"
	"github.com/openx402/x402-go/config"
	"github.com/openx402/x402-go/core"
	"github.com/openx402/x402-go/gate"
	"github.com/openx402/x402-go/middleware/ginx402"
	"github.com/openx402/x402-go/replay"
	"github.com/openx402/x402-go/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	log := config.Logger(cfg.LogLevel)
	defer log.Sync()

	guard, closeGuard, err := buildGuard(cfg)
	if err != nil {
		log.Fatal("failed to initialize replay guard", zap.Error(err))
	}
	defer closeGuard()

	processor := core.NewSolanaProcessor(core.SolanaProcessorConfig{
		RPCURL: cfg.RPCURL,
		Logger: log,
	})
	defer processor.Close()

	g, err := gate.New(gate.Config{
		PaymentAddress: cfg.PaymentAddress,
		AssetAddress:   cfg.AssetAddress,
		AssetType:      types.AssetTypeSPL,
		Network:        cfg.Network,
		RequestTTL:     cfg.RequestTTL,
		ReplayTTL:      cfg.ReplayTTL,
		AutoVerify:     cfg.AutoVerify,
		Verifier:       processor,
		Guard:          guard,
		Logger:         log,
	})
	if err != nil {
		log.Fatal("failed to initialize payment gate", zap.Error(err))
	}

	authenticator, closeAuth, err := buildAuthenticator(cfg)
	if err != nil {
		log.Fatal("failed to initialize authenticator", zap.Error(err))
	}
	defer closeAuth()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	price := gate.Price{Amount: cfg.Price, Description: "Access to premium content"}
	router.GET("/premium", ginx402.PaymentRequired(g, price), func(c *gin.Context) {
		authz := ginx402.GetPaymentAuthorization(c)
		c.JSON(http.StatusOK, gin.H{
			"message":    "premium content",
			"payment_id": authz.PaymentID,
		})
	})

	if authenticator != nil {
		admin := router.Group("/admin", requireAPIKey(authenticator))
		admin.GET("/config", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"network":       cfg.Network,
				"asset_address": cfg.AssetAddress,
				"price":         cfg.Price,
				"auto_verify":   cfg.AutoVerify,
			})
		})
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("gateway listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}

// buildGuard selects the replay guard backend from the configuration. Redis
// wins over Bolt; the in-process guard is the fallback for single-instance
// development deployments.
func buildGuard(cfg config.Config) (replay.Guard, func(), error) {
	switch {
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return replay.NewRedisGuard(client), func() { client.Close() }, nil
	case cfg.BoltPath != "":
		g, err := replay.NewBoltGuard(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return g, func() { g.Close() }, nil
	default:
		return replay.NewMemoryGuard(), func() {}, nil
	}
}

// buildAuthenticator builds the operator authenticator, or nil when no
// credentials are configured and the admin surface stays disabled.
func buildAuthenticator(cfg config.Config) (*auth.Authenticator, func(), error) {
	switch {
	case cfg.StaticAPIKey != "":
		a, err := auth.NewStatic(cfg.StaticAPIKey)
		return a, func() {}, err
	case cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		a, err := auth.NewDatabase(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return a, func() { db.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

func requireAPIKey(a *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.Authenticate(c.Request); err != nil {
			status := http.StatusUnauthorized
			var se interface{ Status() int }
			if errors.As(err, &se) {
				status = se.Status()
			}
			c.AbortWithStatusJSON(status, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
