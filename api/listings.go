package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"propmarket/models"
	"propmarket/schema"
	"propmarket/services"
	"propmarket/storage"
)

// createListingRequest is a listing plus the media already uploaded to staging
type createListingRequest struct {
	models.Listing
	StagingID string   `json:"stagingId"`
	Media     []string `json:"media"`
}

// updateExtras are the non-column keys a generic update may carry
type updateExtras struct {
	Media            []string `json:"media"`
	StagingID        string   `json:"stagingId"`
	Note             string   `json:"note"`
	NotificationLink string   `json:"notificationLink"`
}

var updatePassthrough = []string{"media", "stagingId", "note", "notificationLink"}

// GET /api/listings?status=...&owner=...&limit=...&offset=...
func (h *Handler) ListListings(c *gin.Context) {
	var f storage.ListFilter
	if v := c.Query("status"); v != "" {
		status, err := models.ParsePostingStatus(v)
		if err != nil {
			writeError(c, err)
			return
		}
		f.Status = &status
	}
	f.OwnerID = c.Query("owner")
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "0"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	list, err := h.Listings.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// POST /api/listings
func (h *Handler) CreateListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}

	l, err := h.Listings.Create(c.Request.Context(), services.CreateRequest{
		Listing:   req.Listing,
		StagingID: req.StagingID,
		Media:     req.Media,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

// GET /api/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	l, err := h.Listings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// PUT /api/listings/:id
// The body is a partial listing in camelCase. postingStatus, when present,
// goes through the status machine; media is the full desired list.
func (h *Handler) UpdateListing(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "failed to read body")
		return
	}

	patch, err := schema.DecodePatch(raw, updatePassthrough...)
	if err != nil {
		writeError(c, err)
		return
	}
	var extras updateExtras
	if err := json.Unmarshal(raw, &extras); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}

	l, err := h.Listings.Update(c.Request.Context(), c.Param("id"), services.UpdateRequest{
		Patch:            patch,
		Media:            extras.Media,
		StagingID:        extras.StagingID,
		Note:             extras.Note,
		ActorID:          actorID(c),
		NotificationLink: extras.NotificationLink,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// DELETE /api/listings/:id
func (h *Handler) DeleteListing(c *gin.Context) {
	if err := h.Listings.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/listings/:id/history
func (h *Handler) ListingHistory(c *gin.Context) {
	changes, err := h.Status.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if changes == nil {
		changes = []models.StatusChange{}
	}
	c.JSON(http.StatusOK, changes)
}

// GET /api/users/:id/notifications?limit=...
func (h *Handler) UserNotifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	notes, err := h.Status.Notifications(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if notes == nil {
		notes = []models.Notification{}
	}
	c.JSON(http.StatusOK, notes)
}

// POST /api/listings/:id/media (multipart, field "file")
func (h *Handler) UploadListingMedia(c *gin.Context) {
	file, header, ok := formFile(c)
	if !ok {
		return
	}
	defer file.Close()

	m, err := h.Media.UploadToListing(c.Request.Context(), c.Param("id"), header.Filename, file, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// POST /api/staging/:stagingId/media (multipart, field "file")
func (h *Handler) UploadStagingMedia(c *gin.Context) {
	file, header, ok := formFile(c)
	if !ok {
		return
	}
	defer file.Close()

	stagingID := c.Param("stagingId")
	name, key, err := h.Media.UploadToStaging(c.Request.Context(), stagingID, header.Filename, file, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"stagingId": stagingID, "filename": name, "storageKey": key})
}

func actorID(c *gin.Context) *string {
	if v := c.GetHeader("X-Actor-ID"); v != "" {
		return &v
	}
	return nil
}
