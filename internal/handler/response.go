package handler

import (
	"github.com/gin-gonic/gin"

	apperrors "timetracker/internal/errors"
)

func writeError(c *gin.Context, apiErr *apperrors.APIError) {
	if apiErr == nil {
		apiErr = apperrors.Internal("")
	}
	c.JSON(apiErr.Status, apperrors.Envelope{Error: apiErr})
}

func writeInvalidJSON(c *gin.Context) {
	writeError(c, apperrors.BadRequest("invalid_json", "invalid request body"))
}
