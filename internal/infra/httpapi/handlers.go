package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"fitclub_comms/internal/app"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CommunicationHandler serves the staff communication endpoints.
type CommunicationHandler struct {
	svc      *app.Service
	watchdog *app.Watchdog
	log      *logrus.Entry
}

func NewCommunicationHandler(svc *app.Service, watchdog *app.Watchdog, log *logrus.Entry) *CommunicationHandler {
	return &CommunicationHandler{svc: svc, watchdog: watchdog, log: log}
}

func (h *CommunicationHandler) List(c *gin.Context) {
	in := app.ListInput{Status: c.Query("status"), Type: c.Query("type")}
	var err error
	if in.Limit, err = queryInt(c, "limit"); err != nil {
		abortError(c, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if in.Offset, err = queryInt(c, "offset"); err != nil {
		abortError(c, http.StatusBadRequest, "offset must be an integer")
		return
	}
	if c.Query("limit") != "" && in.Limit == 0 {
		abortError(c, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}

	list, total, err := h.svc.List(c.Request.Context(), callerFrom(c), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toViews(list), "count": total})
}

func (h *CommunicationHandler) ListAthletes(c *gin.Context) {
	athletes, err := h.svc.ListAthletes(c.Request.Context(), callerFrom(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"athletes": toAthletes(athletes)})
}

type countRequest struct {
	Filter json.RawMessage `json:"filter"`
	Type   string          `json:"type"`
}

func (h *CommunicationHandler) CountRecipients(c *gin.Context) {
	var req countRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := h.svc.CountRecipients(c.Request.Context(), callerFrom(c), req.Filter, req.Type)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type checkStuckRequest struct {
	CommunicationID string `json:"communicationId"`
}

func (h *CommunicationHandler) CheckStuck(c *gin.Context) {
	var req checkStuckRequest
	// The body is optional.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rep, err := h.watchdog.CheckStuck(c.Request.Context(), app.StuckQuery{
		OrgID:           callerFrom(c).OrgID,
		CommunicationID: req.CommunicationID,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *CommunicationHandler) Create(c *gin.Context) {
	var in app.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		abortError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	comm, err := h.svc.Create(c.Request.Context(), callerFrom(c), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": toView(comm)})
}

func (h *CommunicationHandler) Get(c *gin.Context) {
	comm, err := h.svc.Get(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toView(comm)})
}

func (h *CommunicationHandler) Update(c *gin.Context) {
	var in app.UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		abortError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	comm, err := h.svc.Update(c.Request.Context(), callerFrom(c), c.Param("id"), in)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toView(comm)})
}

type scheduleRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (h *CommunicationHandler) Schedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ScheduledAt == nil {
		abortError(c, http.StatusBadRequest, "scheduled_at is required")
		return
	}
	comm, err := h.svc.Schedule(c.Request.Context(), callerFrom(c), c.Param("id"), *req.ScheduledAt)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toView(comm)})
}

func (h *CommunicationHandler) Unschedule(c *gin.Context) {
	comm, err := h.svc.Unschedule(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toView(comm)})
}

// Send starts delivery in the background and answers 202. With ?wait=true it
// blocks until the send is finalized and returns the outcome.
func (h *CommunicationHandler) Send(c *gin.Context) {
	ctx, caller, id := c.Request.Context(), callerFrom(c), c.Param("id")

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		res, err := h.svc.SendNow(ctx, caller, id)
		if errors.Is(err, app.ErrAlreadySending) {
			c.JSON(http.StatusOK, gin.H{"message": "already being sent"})
			return
		}
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": dispatchView{
			CommunicationID: res.CommunicationID,
			Status:          res.Status,
			Summary:         res.Summary,
			Dropped:         res.Dropped,
			Unreachable:     res.Unreachable,
			CancelRequested: res.CancelRequested,
		}})
		return
	}

	comm, err := h.svc.StartSend(ctx, caller, id)
	if errors.Is(err, app.ErrAlreadySending) {
		c.JSON(http.StatusOK, gin.H{"message": "already being sent"})
		return
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": toView(comm)})
}

func (h *CommunicationHandler) Cancel(c *gin.Context) {
	comm, err := h.svc.Cancel(c.Request.Context(), callerFrom(c), c.Param("id"))
	if errors.Is(err, app.ErrSendInProgress) {
		c.JSON(http.StatusAccepted, gin.H{"message": err.Error(), "data": toView(comm)})
		return
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toView(comm)})
}

func (h *CommunicationHandler) Attempts(c *gin.Context) {
	rep, err := h.svc.Attempts(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toAttemptsView(rep))
}

// CronHandler serves the external trigger endpoints.
type CronHandler struct {
	svc      *app.Service
	watchdog *app.Watchdog
	log      *logrus.Entry
}

func NewCronHandler(svc *app.Service, watchdog *app.Watchdog, log *logrus.Entry) *CronHandler {
	return &CronHandler{svc: svc, watchdog: watchdog, log: log}
}

func (h *CronHandler) DispatchDue(c *gin.Context) {
	rep, err := h.svc.DispatchDue(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *CronHandler) CheckStuck(c *gin.Context) {
	rep, err := h.watchdog.CheckStuck(c.Request.Context(), app.StuckQuery{})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
