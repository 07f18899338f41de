package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"propmarket/logging"
	"propmarket/services"
)

const maxUploadBytes = 25 << 20

// Handler serves the marketplace HTTP API
type Handler struct {
	Listings *services.ListingService
	Status   *services.StatusService
	Media    *services.MediaAttacher
	Cleanup  *services.CleanupService
	Ping     func(ctx context.Context) error // nil skips the database check
}

// NewRouter builds the gin engine with every route registered
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.MaxMultipartMemory = 8 << 20

	r.GET("/healthz", h.Health)
	h.RegisterRoutes(r.Group("/api"))
	return r
}

// RegisterRoutes registers the listing, upload and admin routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/listings", h.ListListings)
	rg.POST("/listings", h.CreateListing)
	rg.GET("/listings/:id", h.GetListing)
	rg.PUT("/listings/:id", h.UpdateListing)
	rg.DELETE("/listings/:id", h.DeleteListing)
	rg.GET("/listings/:id/history", h.ListingHistory)

	rg.POST("/listings/:id/media", h.UploadListingMedia)
	rg.POST("/staging/:stagingId/media", h.UploadStagingMedia)

	rg.GET("/users/:id/notifications", h.UserNotifications)

	admin := rg.Group("/admin")
	admin.PUT("/listings/:id/status", h.TransitionStatus)
	admin.POST("/cleanup", h.RunCleanup)
	admin.GET("/cleanup/runs", h.CleanupRuns)
}

// GET /healthz
func (h *Handler) Health(c *gin.Context) {
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debugf("[API] %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
