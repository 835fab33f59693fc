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
	"github.com/redis/go-redis/v9"

	"github.com/bluesignal/creditengine/internal/minting"
	"github.com/bluesignal/creditengine/internal/notify"
	"github.com/bluesignal/creditengine/internal/readings"
	"github.com/bluesignal/creditengine/pkg/messaging"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8002"
	}

	db, err := sql.Open("postgres", os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:            os.Getenv("NATS_URL"),
		Name:           "minting-service",
		ReconnectWait:  time.Second,
		MaxReconnects:  5,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}

	var rdb *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	store := readings.NewStore(readings.Config{
		URL:    os.Getenv("INFLUXDB_URL"),
		Token:  os.Getenv("INFLUXDB_TOKEN"),
		Org:    os.Getenv("INFLUXDB_ORG"),
		Bucket: os.Getenv("INFLUXDB_BUCKET"),
	})
	defer store.Close()

	monitor := notify.NewMonitor(db, natsClient)
	engine := minting.NewEngine(db, rdb, natsClient, monitor)
	consumer := minting.NewConsumer(engine, natsClient)

	if err := consumer.Start(); err != nil {
		log.Fatalf("Failed to start reading consumer: %v", err)
	}

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "nats": natsClient.IsConnected()})
	})

	r.POST("/api/v1/credits/calculate", func(c *gin.Context) {
		var req minting.RecomputeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "enrollmentId is required"})
			return
		}

		result, err := engine.Recompute(c.Request.Context(), store, req)
		if errors.Is(err, minting.ErrEnrollmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Enrollment not found"})
			return
		}
		if errors.Is(err, minting.ErrProgramNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Trading program not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, result)
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

	// Let in-flight mints finish before dropping the subscription.
	natsClient.Drain()
}
