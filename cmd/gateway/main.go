package main

import (
	"log"
	"os"
	"time"

	"github.com/bluesignal/creditengine/internal/auth"
	"github.com/bluesignal/creditengine/internal/gateway"
	"github.com/bluesignal/creditengine/pkg/messaging"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:            os.Getenv("NATS_URL"),
		Name:           "gateway",
		ReconnectWait:  time.Second,
		MaxReconnects:  5,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}

	authSvc := auth.NewService(jwtSecret, 24*time.Hour)

	g := gateway.NewGateway(
		gateway.Config{
			RateLimitMax:    300,
			RateLimitWindow: time.Minute,
		},
		authSvc,
		natsClient,
		gateway.Services{
			Readings:  os.Getenv("READINGS_URL"),
			Minting:   os.Getenv("MINTING_URL"),
			Exchange:  os.Getenv("EXCHANGE_URL"),
			Lifecycle: os.Getenv("LIFECYCLE_URL"),
		},
	)

	if err := g.Start(":" + port); err != nil {
		log.Fatalf("Gateway failed: %v", err)
	}
}
