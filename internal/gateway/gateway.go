package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/bluesignal/creditengine/internal/auth"
	"github.com/bluesignal/creditengine/pkg/circuit"
	"github.com/bluesignal/creditengine/pkg/messaging"
)

// Services holds the downstream base URLs.
type Services struct {
	Readings  string
	Minting   string
	Exchange  string
	Lifecycle string
}

// Config holds gateway configuration.
type Config struct {
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Gateway fronts the credit engine services: authentication, rate
// limiting, circuit-breaker protected proxying, and a WebSocket
// stream of user notifications.
type Gateway struct {
	router   *gin.Engine
	auth     *auth.Service
	nats     *messaging.Client
	breakers *circuit.Group
	client   *http.Client
	services Services
	limiter  *RateLimiter
	upgrader websocket.Upgrader

	wsMu      sync.RWMutex
	wsClients map[string][]*wsClient
}

type wsClient struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// NewGateway creates the gateway and registers its routes.
func NewGateway(cfg Config, authSvc *auth.Service, natsClient *messaging.Client, services Services) *Gateway {
	g := &Gateway{
		router: gin.Default(),
		auth:   authSvc,
		nats:   natsClient,
		breakers: circuit.NewGroup(circuit.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 3,
		}),
		client:    &http.Client{Timeout: 15 * time.Second},
		services:  services,
		limiter:   NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		wsClients: make(map[string][]*wsClient),
	}

	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())

	g.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "nats": g.nats.IsConnected()})
	})

	v1 := g.router.Group("/api/v1")
	{
		// Readings ingress
		v1.POST("/readings/:device_id", g.authMiddleware(), g.proxy("readings", func(s Services) string { return s.Readings }))

		// Administrative recompute (read-only)
		v1.POST("/credits/calculate", g.authMiddleware(), g.proxy("minting", func(s Services) string { return s.Minting }))

		// Basin exchange
		v1.GET("/basins", g.proxy("exchange", func(s Services) string { return s.Exchange }))
		v1.GET("/basins/:code", g.proxy("exchange", func(s Services) string { return s.Exchange }))
		v1.POST("/trades/validate", g.authMiddleware(), g.proxy("exchange", func(s Services) string { return s.Exchange }))
		v1.POST("/trades/settle", g.authMiddleware(), g.proxy("exchange", func(s Services) string { return s.Exchange }))
		v1.POST("/credits/:credit_id/listing", g.authMiddleware(), g.proxy("exchange", func(s Services) string { return s.Exchange }))

		// Lifecycle
		v1.POST("/devices/:device_id/lifecycle", g.authMiddleware(), g.proxy("lifecycle", func(s Services) string { return s.Lifecycle }))
		v1.POST("/orders/:order_id/status", g.authMiddleware(), g.proxy("lifecycle", func(s Services) string { return s.Lifecycle }))

		// Notification stream
		v1.GET("/ws", g.authMiddleware(), g.handleWebSocket)
	}
}

// Start subscribes the notification fan-out and serves HTTP.
func (g *Gateway) Start(addr string) error {
	if err := g.nats.Subscribe(messaging.EventTypeNotificationCreated, g.fanOutNotification); err != nil {
		return err
	}
	return g.router.Run(addr)
}

// Router exposes the underlying gin engine, mainly for tests.
func (g *Gateway) Router() *gin.Engine {
	return g.router
}

func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := g.auth.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// proxy forwards the request to a downstream service under that
// service's circuit breaker, stamping the authenticated principal.
func (g *Gateway) proxy(name string, target func(Services) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		base := target(g.services)
		if base == "" {
			c.JSON(http.StatusBadGateway, gin.H{"error": name + " service not configured"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		var status int
		var respBody []byte
		err = g.breakers.Get(name).Execute(func() error {
			url := base + c.Request.URL.Path
			if c.Request.URL.RawQuery != "" {
				url += "?" + c.Request.URL.RawQuery
			}

			req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", c.GetHeader("Content-Type"))
			if userID, ok := c.Get("user_id"); ok {
				req.Header.Set("X-User-ID", userID.(string))
			}
			if role, ok := c.Get("role"); ok {
				req.Header.Set("X-User-Role", role.(string))
			}

			resp, err := g.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			status = resp.StatusCode
			respBody, err = io.ReadAll(resp.Body)
			return err
		})

		if err == circuit.ErrCircuitOpen || err == circuit.ErrTooManyRequests {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": name + " service unavailable"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		c.Data(status, "application/json", respBody)
	}
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	userID := c.GetString("user_id")

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, 16),
	}

	g.wsMu.Lock()
	g.wsClients[userID] = append(g.wsClients[userID], client)
	g.wsMu.Unlock()

	go g.writePump(client)
	g.readPump(client)
}

func (g *Gateway) writePump(client *wsClient) {
	for msg := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump exists to notice disconnects; inbound frames are ignored.
func (g *Gateway) readPump(client *wsClient) {
	defer g.dropClient(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) dropClient(client *wsClient) {
	g.wsMu.Lock()
	clients := g.wsClients[client.userID]
	for i, c := range clients {
		if c == client {
			g.wsClients[client.userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	g.wsMu.Unlock()

	close(client.send)
	client.conn.Close()
}

// fanOutNotification pushes a notification event to every open socket
// belonging to its user. Slow clients are skipped, not waited on.
func (g *Gateway) fanOutNotification(msg *nats.Msg) {
	var event messaging.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Printf("gateway: dropping malformed notification event: %v", err)
		return
	}

	notification, err := messaging.ParseEventData[messaging.NotificationEvent](&event)
	if err != nil {
		log.Printf("gateway: dropping notification with bad payload: %v", err)
		return
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return
	}

	g.wsMu.RLock()
	defer g.wsMu.RUnlock()
	for _, client := range g.wsClients[notification.UserID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
