// Package http exposes the local control surface: session status plus the
// join/disconnect controls. All retry decisions stay with the operator.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Boseong0902/webRtc-poc/internal/app"
	"github.com/Boseong0902/webRtc-poc/internal/config"
	"github.com/Boseong0902/webRtc-poc/internal/core"
	"github.com/Boseong0902/webRtc-poc/internal/domain"
)

type JoinRequest struct {
	RoomID string `json:"room_id"`
}

func SetupRouter(cfg *config.Config, coord *app.Coordinator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, coord.Status())
	})

	api.POST("/join", func(c *gin.Context) {
		var req JoinRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid room_id"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("room", req.RoomID).Msg("join requested")

		if err := coord.Join(c.Request.Context(), domain.RoomID(req.RoomID)); err != nil {
			c.JSON(joinErrorStatus(err), gin.H{"error": err.Error(), "status": coord.Status()})
			return
		}
		c.JSON(http.StatusOK, coord.Status())
	})

	api.POST("/leave", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Msg("disconnect requested")
		coord.Disconnect(c.Request.Context())
		c.JSON(http.StatusOK, coord.Status())
	})

	return r
}

func joinErrorStatus(err error) int {
	switch {
	case core.IsRoomFull(err):
		return http.StatusConflict
	case errors.Is(err, core.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, core.ErrDirectoryUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrMediaUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
