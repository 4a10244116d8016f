package httpapi

import (
	"errors"
	"net/http"

	"fitclub_comms/internal/app"
	"fitclub_comms/internal/domain/communication"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const internalMessage = "internal server error"

func abortError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// statusFor maps application errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, app.ErrNotStaff):
		return http.StatusForbidden
	case errors.Is(err, communication.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrInvalidTransition), errors.Is(err, app.ErrAlreadySending):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": ...}. Internal errors are logged and hidden.
func respondError(c *gin.Context, log *logrus.Entry, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		abortError(c, status, internalMessage)
		return
	}
	abortError(c, status, err.Error())
}
