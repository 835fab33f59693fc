package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/bluesignal/creditengine/internal/exchange"
	"github.com/bluesignal/creditengine/pkg/messaging"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8003"
	}

	db, err := sql.Open("postgres", os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:            os.Getenv("NATS_URL"),
		Name:           "exchange-service",
		ReconnectWait:  time.Second,
		MaxReconnects:  5,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}

	var endpoints []string
	if raw := os.Getenv("ETCD_ENDPOINTS"); raw != "" {
		endpoints = strings.Split(raw, ",")
	}

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	registry, err := exchange.LoadRegistry(loadCtx, endpoints, os.Getenv("BASIN_REGISTRY_KEY"))
	loadCancel()
	if err != nil {
		log.Fatalf("Failed to load basin registry: %v", err)
	}

	store := exchange.NewStore(db, registry, natsClient)

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	r.GET("/api/v1/basins", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"basins": registry.Basins()})
	})

	r.GET("/api/v1/basins/:code", func(c *gin.Context) {
		basin, ok := registry.Basin(c.Param("code"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Basin not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"basin": basin})
	})

	r.POST("/api/v1/trades/validate", func(c *gin.Context) {
		var req struct {
			SourceBasin    string `json:"source_basin" binding:"required"`
			DestBasin      string `json:"dest_basin" binding:"required"`
			SourceType     string `json:"source_type" binding:"required"`
			Pollutant      string `json:"pollutant"`
			Quantity       string `json:"quantity" binding:"required"`
			CashSettlement bool   `json:"cash_settlement"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		quantity, err := decimal.NewFromString(req.Quantity)
		if err != nil || !quantity.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be a positive number"})
			return
		}

		quote, err := registry.Settle(req.SourceBasin, req.DestBasin, req.SourceType, quantity)
		if errors.Is(err, exchange.ErrInvalidBasinPath) {
			if req.CashSettlement {
				value, fundErr := registry.OffsetFundQuote(req.Pollutant, quantity)
				if fundErr != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": fundErr.Error()})
					return
				}
				c.JSON(http.StatusOK, gin.H{
					"valid":             false,
					"offset_fund":       true,
					"offset_fund_value": value,
					"error":             err.Error(),
				})
				return
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"valid": false, "error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"valid": true, "quote": quote})
	})

	r.POST("/api/v1/trades/settle", func(c *gin.Context) {
		var req struct {
			CreditID   string `json:"credit_id" binding:"required"`
			DestBasin  string `json:"dest_basin" binding:"required"`
			SourceType string `json:"source_type" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		buyerID := c.GetHeader("X-User-ID")
		if buyerID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
			return
		}

		creditID, err := uuid.Parse(req.CreditID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credit id"})
			return
		}

		settlement, err := store.Settle(c.Request.Context(), creditID, buyerID, req.DestBasin, req.SourceType)
		switch {
		case errors.Is(err, exchange.ErrCreditNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Credit not found"})
		case errors.Is(err, exchange.ErrInvalidBasinPath):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, exchange.ErrCreditNotTradable), errors.Is(err, exchange.ErrInsufficientCredit):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, settlement)
		}
	})

	r.POST("/api/v1/credits/:credit_id/listing", func(c *gin.Context) {
		var req struct {
			Listed bool `json:"listed"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ownerID := c.GetHeader("X-User-ID")
		if ownerID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
			return
		}

		creditID, err := uuid.Parse(c.Param("credit_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credit id"})
			return
		}

		if req.Listed {
			err = store.List(c.Request.Context(), creditID, ownerID)
		} else {
			err = store.Unlist(c.Request.Context(), creditID, ownerID)
		}
		switch {
		case errors.Is(err, exchange.ErrCreditNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Credit not found"})
		case errors.Is(err, exchange.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "You don't own this credit"})
		case errors.Is(err, exchange.ErrCreditNotTradable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"listed": req.Listed})
		}
	})

	srv := &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	natsClient.Drain()
}
