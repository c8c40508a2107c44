package api

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/saviobatista/dongle-pairing/internal/devices"
	"github.com/saviobatista/dongle-pairing/internal/gateway"
	"github.com/saviobatista/dongle-pairing/internal/pairing"
	"github.com/saviobatista/dongle-pairing/internal/redis"
	"github.com/saviobatista/dongle-pairing/internal/types"
	"github.com/sirupsen/logrus"
)

// Pairing starts and polls pairing sessions
type Pairing interface {
	Start(ctx context.Context, orgID string, deviceID *string) (*types.PairingSession, error)
	Status(ctx context.Context, orgID, sessionID string) (*pairing.StatusResult, error)
}

// DeviceSyncer applies manual GPS updates
type DeviceSyncer interface {
	SyncGPS(ctx context.Context, orgID, deviceID string, req devices.SyncRequest) (*devices.SyncResult, error)
}

// Gateway is the ingestion side the API exposes
type Gateway interface {
	Inject(ctx context.Context) (*types.RawSample, types.GpsFix)
	Status(ctx context.Context) gateway.Status
	LastSample(ctx context.Context) (*redis.LastSample, error)
}

// Pinger reports store health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the HTTP handlers' collaborators
type Server struct {
	pairing Pairing
	devices DeviceSyncer
	gateway Gateway
	store   Pinger
	auth    *Authenticator
}

// NewServer creates a Server
func NewServer(p Pairing, d DeviceSyncer, g Gateway, store Pinger, auth *Authenticator) *Server {
	return &Server{pairing: p, devices: d, gateway: g, store: store, auth: auth}
}

// Router builds the gin engine with every route
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Authorization", "Content-Type"},
	}))

	router.GET("/health", s.health)

	authed := router.Group("/")
	authed.Use(s.auth.Middleware())
	{
		authed.POST("/pair/start", s.startPairing)
		authed.GET("/pair/status/:sessionId", s.pairingStatus)
		authed.POST("/devices/test-dongle", s.testDongle)
		authed.POST("/devices/:deviceId/gps-sync", s.gpsSync)
		authed.GET("/dongle/status", s.dongleStatus)
	}

	return router
}

// RequestLogger logs every request with its status and duration
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("HTTP request")
	}
}
