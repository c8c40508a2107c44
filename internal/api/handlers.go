package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/saviobatista/dongle-pairing/internal/devices"
	"github.com/saviobatista/dongle-pairing/internal/pairing"
	"github.com/saviobatista/dongle-pairing/internal/types"
	"github.com/sirupsen/logrus"
)

type startRequest struct {
	DeviceID *string `json:"deviceId"`
}

type deviceSummary struct {
	ID            string   `json:"id"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	Altitude      *float64 `json:"altitude"`
	GPSConfigured bool     `json:"gpsConfigured"`
}

func (s *Server) startPairing(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.DeviceID != nil && *req.DeviceID == "" {
		req.DeviceID = nil
	}

	session, err := s.pairing.Start(c.Request.Context(), orgID(c), req.DeviceID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": session.ID,
		"status":    session.Status,
	})
}

func (s *Server) pairingStatus(c *gin.Context) {
	result, err := s.pairing.Status(c.Request.Context(), orgID(c), c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}

	body := gin.H{"status": result.Status}
	if result.Status == types.PairingPaired {
		if result.Session.ResultDeviceID != nil {
			body["deviceId"] = *result.Session.ResultDeviceID
		}
		if result.GpsData != nil {
			body["gpsData"] = result.GpsData
			body["imuData"] = result.IMUData
			body["dongleBatchId"] = result.DongleBatchID
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) gpsSync(c *gin.Context) {
	var req devices.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.devices.SyncGPS(c.Request.Context(), orgID(c), c.Param("deviceId"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	d := result.Device
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"device": deviceSummary{
			ID:            d.ID,
			Latitude:      d.Latitude,
			Longitude:     d.Longitude,
			Altitude:      d.Altitude,
			GPSConfigured: d.GPSConfigured,
		},
		"logId": result.LogID,
	})
}

func (s *Server) testDongle(c *gin.Context) {
	sample, fix := s.gateway.Inject(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"gpsData":       fix,
		"dongleBatchId": sample.BatchID,
	})
}

func (s *Server) dongleStatus(c *gin.Context) {
	body := gin.H{"gateway": s.gateway.Status(c.Request.Context())}

	last, err := s.gateway.LastSample(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Warn("Failed to read last dongle sample")
	}
	if last != nil {
		body["lastSample"] = last
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) health(c *gin.Context) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps domain errors to HTTP statuses
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pairing.ErrSessionNotFound),
		errors.Is(err, pairing.ErrDeviceNotFound),
		errors.Is(err, devices.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, devices.ErrInvalidCoordinates),
		errors.Is(err, devices.ErrInvalidSyncMethod):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
