package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "timetracker/internal/errors"
	"timetracker/internal/repository"
	"timetracker/internal/service"
)

type AdminHandler struct {
	trackerService *service.TrackerService
	userRepo       *repository.UserRepository
}

type adminSession struct {
	service.SessionOverview
	Email string `json:"email,omitempty"`
}

func NewAdminHandler(trackerService *service.TrackerService, userRepo *repository.UserRepository) *AdminHandler {
	return &AdminHandler{trackerService: trackerService, userRepo: userRepo}
}

func (h *AdminHandler) ListSessions(c *gin.Context) {
	overviews, apiErr := h.trackerService.AllSessions(c.Request.Context())
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}

	emails := map[string]string{}
	if h.userRepo != nil {
		users, err := h.userRepo.List(c.Request.Context())
		if err != nil {
			writeError(c, apperrors.Internal("failed to list users"))
			return
		}
		for _, user := range users {
			emails[user.ID] = user.Email
		}
	}

	sessions := make([]adminSession, 0, len(overviews))
	for _, overview := range overviews {
		sessions = append(sessions, adminSession{SessionOverview: overview, Email: emails[overview.UserID]})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}
