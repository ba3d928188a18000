package controller

import (
	"strconv"

	"ctfboard/internal/broadcast"
	"ctfboard/pkg/utils/logger"
	"ctfboard/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MonitorController streams live game events over websocket.
type MonitorController struct {
	hub *broadcast.Hub
}

// NewMonitorController creates a new MonitorController.
func NewMonitorController(hub *broadcast.Hub) *MonitorController {
	return &MonitorController{hub: hub}
}

// Register mounts the monitor route.
func (h *MonitorController) Register(r gin.IRouter) {
	r.GET("/games/:gameId/monitor", h.Stream)
}

// Stream upgrades the connection and relays events until it closes.
func (h *MonitorController) Stream(c *gin.Context) {
	gameID, err := strconv.ParseInt(c.Param("gameId"), 10, 64)
	if err != nil || gameID <= 0 {
		response.BadRequest(c, "Invalid game id")
		return
	}
	if err := h.hub.ServeWS(c.Writer, c.Request, broadcast.GameChannel(gameID)); err != nil {
		logger.Warn(c.Request.Context(), "monitor stream ended", zap.Int64("game_id", gameID), zap.Error(err))
	}
}
