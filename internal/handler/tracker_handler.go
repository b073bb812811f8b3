package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "timetracker/internal/errors"
	"timetracker/internal/middleware"
	"timetracker/internal/model"
	"timetracker/internal/service"
)

const eventStreamBuffer = 32

type TrackerHandler struct {
	trackerService *service.TrackerService
	keepAlive      time.Duration
}

type breakRequest struct {
	Kind string `json:"kind"`
}

type eyeCareRequest struct {
	Enabled *bool `json:"enabled"`
}

type intervalRequest struct {
	Minutes *float64 `json:"minutes"`
}

func NewTrackerHandler(trackerService *service.TrackerService) *TrackerHandler {
	return &TrackerHandler{trackerService: trackerService, keepAlive: 25 * time.Second}
}

func (h *TrackerHandler) GetState(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	state, apiErr := h.trackerService.State(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TrackerHandler) ClockIn(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	state, apiErr := h.trackerService.ClockIn(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TrackerHandler) ClockOut(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	state, apiErr := h.trackerService.ClockOut(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TrackerHandler) StartBreak(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req breakRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidJSON(c)
		return
	}
	state, apiErr := h.trackerService.StartBreak(c.Request.Context(), userID, model.BreakKind(req.Kind))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TrackerHandler) EndBreak(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	state, apiErr := h.trackerService.EndBreak(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TrackerHandler) GetHistory(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	sessions, apiErr := h.trackerService.History(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *TrackerHandler) SetEyeCare(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req eyeCareRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		writeInvalidJSON(c)
		return
	}
	state, apiErr := h.trackerService.ToggleEyeCare(c.Request.Context(), userID, *req.Enabled)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

// SetEyeCareInterval answers 200 with the unchanged state for non-positive values.
func (h *TrackerHandler) SetEyeCareInterval(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req intervalRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Minutes == nil {
		writeInvalidJSON(c)
		return
	}
	state, apiErr := h.trackerService.SetEyeCareInterval(c.Request.Context(), userID, *req.Minutes)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TrackerHandler) SkipEyeCare(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	state, apiErr := h.trackerService.SkipEyeCare(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TrackerHandler) CompleteEyeCare(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	state, apiErr := h.trackerService.CompleteEyeCare(c.Request.Context(), userID)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TrackerHandler) RefreshPermission(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	granted := h.trackerService.RefreshPermission(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{"granted": granted})
}

// Events streams the user's toasts as server-sent events named by kind.
func (h *TrackerHandler) Events(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	events, cancel := h.trackerService.Events(userID, eventStreamBuffer)
	defer cancel()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-events:
			if !open {
				return false
			}
			c.SSEvent(string(event.Kind), event)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func requireUser(c *gin.Context) (string, bool) {
	userID := middleware.UserID(c)
	if userID == "" {
		writeError(c, apperrors.Unauthorized(""))
		return "", false
	}
	return userID, true
}
