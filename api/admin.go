package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"propmarket/services"
)

type transitionRequest struct {
	NewStatus        json.RawMessage `json:"newStatus"`
	Note             string          `json:"note"`
	NotificationLink string          `json:"notificationLink"`
}

// status hands newStatus to the service as text. A value that is not a JSON
// string is passed through raw so it is rejected after the listing lookup.
func (r transitionRequest) status() *string {
	raw := bytes.TrimSpace(r.NewStatus)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	return &s
}

// PUT /api/admin/listings/:id/status
// The acting admin comes from the X-Actor-ID header.
func (h *Handler) TransitionStatus(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}

	l, err := h.Status.Transition(c.Request.Context(), services.TransitionRequest{
		ListingID:        c.Param("id"),
		NewStatus:        req.status(),
		Note:             req.Note,
		ActorID:          actorID(c),
		NotificationLink: req.NotificationLink,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// POST /api/admin/cleanup?dryRun=true
func (h *Handler) RunCleanup(c *gin.Context) {
	dryRun, _ := strconv.ParseBool(c.DefaultQuery("dryRun", "false"))

	result, err := h.Cleanup.Run(c.Request.Context(), "api", dryRun)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GET /api/admin/cleanup/runs?limit=...
func (h *Handler) CleanupRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.Cleanup.Runs(limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}
