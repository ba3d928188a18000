package controller

import (
	"context"
	"strconv"

	"ctfboard/internal/common/http/middleware"
	"ctfboard/internal/submit/service"
	"ctfboard/pkg/utils/contextkey"
	"ctfboard/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmitRequest is the flag submission payload.
type SubmitRequest struct {
	Answer string `json:"answer" binding:"required"`
}

// SubmitController serves flag submissions.
type SubmitController struct {
	submitService *service.SubmitService
}

func NewSubmitController(submitService *service.SubmitService) *SubmitController {
	return &SubmitController{submitService: submitService}
}

// Register mounts the submission routes.
func (h *SubmitController) Register(r gin.IRouter) {
	r.POST("/games/:gameId/challenges/:challengeId/submissions", h.Create)
}

// Create verifies one answer for the calling team.
func (h *SubmitController) Create(c *gin.Context) {
	gameID, ok := pathID(c, "gameId")
	if !ok {
		response.BadRequest(c, "Invalid game id")
		return
	}
	challengeID, ok := pathID(c, "challengeId")
	if !ok {
		response.BadRequest(c, "Invalid challenge id")
		return
	}
	teamID, hasTeam := middleware.Int64FromContext(c, middleware.TeamIDContextKey)
	userID, hasUser := middleware.Int64FromContext(c, middleware.UserIDContextKey)
	if !hasTeam || !hasUser {
		response.Unauthorized(c, "Team and user identity required")
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	ctx := context.WithValue(c.Request.Context(), contextkey.GameID, gameID)
	result, err := h.submitService.Submit(ctx, service.SubmitInput{
		GameID:      gameID,
		ChallengeID: challengeID,
		TeamID:      teamID,
		UserID:      userID,
		Answer:      req.Answer,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}
