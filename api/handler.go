// Package api exposes the command orchestrator and the unified state over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"Genset-DataBridge/command"
	"Genset-DataBridge/ingest"
	"Genset-DataBridge/store"
)

// Commander is the part of the orchestrator the API drives.
type Commander interface {
	IssueCommand(ctx context.Context, deviceID, action string) command.Result
	Resume(ctx context.Context, deviceID string) error
	Suspended(deviceID string) bool
}

// SuspensionLister lists the suspended devices.
type SuspensionLister interface {
	List() []store.Suspension
}

// Handler serves the /api/v1 routes.
type Handler struct {
	cmd         Commander
	state       *ingest.State
	suspensions SuspensionLister
	logger      *zap.Logger

	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHandler creates the handler. Commands to one device are limited to
// perSecond with the given burst; perSecond <= 0 disables the limit.
func NewHandler(cmd Commander, state *ingest.State, suspensions SuspensionLister, perSecond float64, burst int, logger *zap.Logger) *Handler {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Handler{
		cmd:         cmd,
		state:       state,
		suspensions: suspensions,
		logger:      logger.Named("api"),
		limit:       limit,
		burst:       burst,
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/devices/:id/commands", h.IssueCommand)
	g.POST("/devices/:id/resume", h.Resume)
	g.GET("/devices/:id/state", h.State)
	g.GET("/suspensions", h.ListSuspensions)
}

func (h *Handler) limiter(deviceID string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[deviceID]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.limiters[deviceID] = l
	}
	return l
}

type commandRequest struct {
	Action string `json:"action" binding:"required"`
}

// IssueCommand handles POST /devices/:id/commands {"action": "start"}.
func (h *Handler) IssueCommand(c *gin.Context) {
	deviceID := c.Param("id")
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, command.Result{Error: "invalid request: " + err.Error()})
		return
	}
	if !h.limiter(deviceID).Allow() {
		c.JSON(http.StatusTooManyRequests, command.Result{Error: "too many commands for device"})
		return
	}

	res := h.cmd.IssueCommand(c.Request.Context(), deviceID, req.Action)
	if !res.Success {
		h.logger.Warn("command rejected",
			zap.String("device_id", deviceID), zap.String("action", req.Action), zap.Error(res.Err))
	}
	c.JSON(statusFor(res), res)
}

// Resume handles POST /devices/:id/resume.
func (h *Handler) Resume(c *gin.Context) {
	deviceID := c.Param("id")
	if err := h.cmd.Resume(c.Request.Context(), deviceID); err != nil {
		c.JSON(statusFor(command.Result{Err: err}), command.Result{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, command.Result{Success: true})
}

// State handles GET /devices/:id/state.
func (h *Handler) State(c *gin.Context) {
	deviceID := c.Param("id")
	snap, ok := h.state.Snapshot(deviceID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no state for device"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deviceId":  snap.DeviceID,
		"timestamp": snap.Timestamp,
		"fields":    snap.Fields,
		"suspended": h.cmd.Suspended(deviceID),
	})
}

// ListSuspensions handles GET /suspensions.
func (h *Handler) ListSuspensions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"suspensions": h.suspensions.List()})
}

func statusFor(res command.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case errors.Is(res.Err, command.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(res.Err, command.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(res.Err, command.ErrTransportDisconnected):
		return http.StatusServiceUnavailable
	case errors.Is(res.Err, command.ErrInternal):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
