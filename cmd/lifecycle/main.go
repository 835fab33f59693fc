package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/bluesignal/creditengine/internal/lifecycle"
	"github.com/bluesignal/creditengine/pkg/messaging"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8004"
	}

	db, err := sql.Open("postgres", os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:            os.Getenv("NATS_URL"),
		Name:           "lifecycle-service",
		ReconnectWait:  time.Second,
		MaxReconnects:  5,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}

	store := lifecycle.NewStore(db, natsClient)

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	r.POST("/api/v1/devices/:device_id/lifecycle", func(c *gin.Context) {
		var req struct {
			Lifecycle string `json:"lifecycle" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		deviceID := c.Param("device_id")
		actor := c.GetHeader("X-User-ID")

		applied, err := store.TransitionDevice(c.Request.Context(), deviceID, req.Lifecycle, actor)
		var illegal *lifecycle.IllegalTransitionError
		switch {
		case errors.Is(err, lifecycle.ErrDeviceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		case errors.Is(err, lifecycle.ErrUnknownState):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.As(err, &illegal):
			c.JSON(http.StatusConflict, gin.H{"error": illegal.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"device_id": deviceID, "lifecycle": applied})
		}
	})

	r.POST("/api/v1/orders/:order_id/status", func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		orderID := c.Param("order_id")

		applied, stage, err := store.TransitionOrder(c.Request.Context(), orderID, req.Status)
		var illegal *lifecycle.IllegalTransitionError
		switch {
		case errors.Is(err, lifecycle.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		case errors.Is(err, lifecycle.ErrUnknownState):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, lifecycle.ErrPaymentPending):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.As(err, &illegal):
			c.JSON(http.StatusConflict, gin.H{"error": illegal.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": applied, "crm_stage": stage})
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
