package controller

import (
	"strconv"

	"ctfboard/internal/scoreboard/service"
	"ctfboard/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ScoreboardController serves scoreboard endpoints.
type ScoreboardController struct {
	scoreboardService *service.ScoreboardService
}

// NewScoreboardController creates a new ScoreboardController.
func NewScoreboardController(scoreboardService *service.ScoreboardService) *ScoreboardController {
	return &ScoreboardController{scoreboardService: scoreboardService}
}

// Register mounts the scoreboard routes.
func (h *ScoreboardController) Register(r gin.IRouter) {
	r.GET("/games/:gameId/scoreboard", h.Get)
	r.POST("/games/:gameId/scoreboard/invalidate", h.Invalidate)
}

// Get returns the filtered scoreboard of a game.
func (h *ScoreboardController) Get(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	view, err := h.scoreboardService.GetScoreboard(
		c.Request.Context(),
		gameID,
		c.Query("organization"),
		c.Query("title"),
		c.Query("category"),
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// Invalidate drops the cached scoreboard of a game.
func (h *ScoreboardController) Invalidate(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	if err := h.scoreboardService.InvalidateScoreboard(c.Request.Context(), gameID); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Scoreboard invalidated", nil)
}

func gameIDParam(c *gin.Context) (int64, bool) {
	gameID, err := strconv.ParseInt(c.Param("gameId"), 10, 64)
	if err != nil || gameID <= 0 {
		response.BadRequest(c, "Invalid game id")
		return 0, false
	}
	return gameID, true
}
