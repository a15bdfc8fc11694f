package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/examples/internal/repository"
	"github.com/toncenter/examples/internal/services"
)

// respondWithError unified error response function
func respondWithError(c *gin.Context, statusCode int, errorType, message string, details interface{}) {
	response := gin.H{
		"success": false,
		"error":   errorType,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.JSON(statusCode, response)
}

// respondWithServiceError maps engine errors onto HTTP statuses
func respondWithServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		respondWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, repository.ErrNotFound):
		respondWithError(c, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, services.ErrNotReleasable):
		respondWithError(c, http.StatusConflict, "NOT_RELEASABLE", err.Error(), nil)
	case errors.Is(err, repository.ErrBatchConflict):
		respondWithError(c, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		logrus.WithFields(logrus.Fields{
			"path":  c.Request.URL.Path,
			"error": err.Error(),
		}).Error("❌ Request failed")
		respondWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}
