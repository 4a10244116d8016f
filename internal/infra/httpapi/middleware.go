package httpapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fitclub_comms/internal/app"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const callerKey = "caller"

// AuthMiddleware validates the HS256 bearer token and resolves its subject
// into a staff caller.
func AuthMiddleware(staff *app.StaffService, secret []byte, log *logrus.Entry) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return func(c *gin.Context) {
		tokenString, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || tokenString == "" {
			abortError(c, http.StatusUnauthorized, "unauthorized")
			return
		}

		token, err := parser.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected method: %s", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			log.WithError(err).Debug("Rejected bearer token")
			abortError(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			abortError(c, http.StatusUnauthorized, "unauthorized")
			return
		}

		caller, err := staff.Authorize(c.Request.Context(), sub)
		switch {
		case errors.Is(err, app.ErrUnauthenticated):
			abortError(c, http.StatusUnauthorized, "unauthorized")
			return
		case errors.Is(err, app.ErrNotStaff):
			abortError(c, http.StatusForbidden, "forbidden: staff only")
			return
		case err != nil:
			log.WithError(err).WithField("user_id", sub).Error("Caller lookup failed")
			abortError(c, http.StatusInternalServerError, internalMessage)
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

// CronSecretMiddleware guards external trigger routes with a shared secret.
func CronSecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Cron-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			abortError(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request failed")
			return
		}
		entry.Debug("Request served")
	}
}

func callerFrom(c *gin.Context) *app.Caller {
	v, _ := c.Get(callerKey)
	caller, _ := v.(*app.Caller)
	return caller
}
