package httpapi

import (
	"net/http"
	"time"

	"fitclub_comms/internal/app"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Service        *app.Service
	Watchdog       *app.Watchdog
	Staff          *app.StaffService
	JWTSecret      string
	CronSecret     string
	AllowedOrigins []string
	Log            *logrus.Entry
}

// NewRouter builds the gin engine with every route.
func NewRouter(d Deps) *gin.Engine {
	log := d.Log.WithField("component", "http")

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	corsCfg.MaxAge = 12 * time.Hour
	if len(d.AllowedOrigins) == 0 || (len(d.AllowedOrigins) == 1 && d.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = d.AllowedOrigins
		corsCfg.AllowCredentials = true
	}
	router.Use(cors.New(corsCfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	comms := NewCommunicationHandler(d.Service, d.Watchdog, log)
	staff := router.Group("/api/communications")
	staff.Use(AuthMiddleware(d.Staff, []byte(d.JWTSecret), log))
	{
		staff.GET("/list", comms.List)
		staff.GET("/list-athletes", comms.ListAthletes)
		staff.POST("/count-recipients", comms.CountRecipients)
		staff.POST("/check-stuck", comms.CheckStuck)

		staff.POST("", comms.Create)
		staff.GET("/:id", comms.Get)
		staff.PATCH("/:id", comms.Update)
		staff.POST("/:id/schedule", comms.Schedule)
		staff.POST("/:id/unschedule", comms.Unschedule)
		staff.POST("/:id/send", comms.Send)
		staff.POST("/:id/cancel", comms.Cancel)
		staff.GET("/:id/attempts", comms.Attempts)
	}

	if d.CronSecret != "" {
		cron := NewCronHandler(d.Service, d.Watchdog, log)
		triggers := router.Group("/api/cron")
		triggers.Use(CronSecretMiddleware(d.CronSecret))
		{
			triggers.POST("/dispatch-due", cron.DispatchDue)
			triggers.POST("/check-stuck", cron.CheckStuck)
		}
	}

	return router
}
