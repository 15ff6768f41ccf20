// Package http provides HTTP API handlers.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"asisaid.cn/versync/internal/common/errors"
	"asisaid.cn/versync/internal/metrics"
	"asisaid.cn/versync/internal/service"
	"asisaid.cn/versync/internal/version/model"
)

// Handler provides HTTP handlers for the metadata API.
type Handler struct {
	svc         *service.MetadataService
	metrics     *metrics.Metrics
	metricsPath string
}

// NewHandler creates a new Handler. Metrics are served on metricsPath when
// both are set.
func NewHandler(svc *service.MetadataService, m *metrics.Metrics, metricsPath string) *Handler {
	return &Handler{
		svc:         svc,
		metrics:     m,
		metricsPath: metricsPath,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		// Replica metadata, also read by peers
		api.GET("/index", h.GetIndex)
		api.GET("/objects/:hash", h.GetObject)
		api.GET("/paths/*path", h.GetPath)
		api.GET("/children/*path", h.ListChildren)

		// Maintenance
		api.POST("/sync", h.Sync)
		api.POST("/merge", h.Merge)
		api.GET("/peers", h.ListPeers)

		// Sharing
		api.PUT("/sharers/*path", h.AddSharer)
		api.DELETE("/sharers/*path", h.RemoveSharer)
		api.PUT("/owner/*path", h.SetOwner)

		// Health check
		api.GET("/health", h.HealthCheck)
	}

	if h.metrics != nil && h.metricsPath != "" {
		r.GET(h.metricsPath, gin.WrapH(h.metrics.Handler()))
	}
}

// GetIndex returns the index as stored.
// GET /api/v1/index
func (h *Handler) GetIndex(c *gin.Context) {
	idx, err := h.svc.Index(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	data, err := idx.Encode()
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// GetObject returns the record stored under a hash.
// GET /api/v1/objects/:hash
func (h *Handler) GetObject(c *gin.Context) {
	obj, err := h.svc.Object(c.Request.Context(), c.Param("hash"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeRecord(c, obj)
}

// GetPath returns the record of a path.
// GET /api/v1/paths/*path
func (h *Handler) GetPath(c *gin.Context) {
	obj, err := h.svc.Path(c.Request.Context(), model.CleanPath(c.Param("path")))
	if err != nil {
		writeError(c, err)
		return
	}
	writeRecord(c, obj)
}

// ListChildren lists the records below a path.
// GET /api/v1/children/*path
func (h *Handler) ListChildren(c *gin.Context) {
	path := model.CleanPath(c.Param("path"))

	children, err := h.svc.Children(c.Request.Context(), path)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"path":    path,
		"entries": children,
	})
}

// SyncRequest is the body of a sync request.
type SyncRequest struct {
	Path   string   `json:"path"`
	Ignore []string `json:"ignore"`
}

// Sync rescans the root, or a single path when one is given.
// POST /api/v1/sync
func (h *Handler) Sync(c *gin.Context) {
	var req SyncRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var err error
	if req.Path != "" {
		err = h.svc.SyncFile(c.Request.Context(), req.Path)
	} else {
		err = h.svc.Sync(c.Request.Context(), req.Ignore...)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// MergeRequest is the body of a merge request.
type MergeRequest struct {
	Peer string `json:"peer" binding:"required"`
}

// Merge merges the metadata of a peer into this replica.
// POST /api/v1/merge
func (h *Handler) Merge(c *gin.Context) {
	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.svc.Merge(c.Request.Context(), req.Peer)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListPeers returns the known peers and their health.
// GET /api/v1/peers
func (h *Handler) ListPeers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"peers": h.svc.Peers().List(),
	})
}

// SharerRequest is the body of a sharing request.
type SharerRequest struct {
	Username   string `json:"username" binding:"required"`
	AccessType string `json:"accessType" binding:"required"`
}

// AddSharer grants a user access to a path.
// PUT /api/v1/sharers/*path
func (h *Handler) AddSharer(c *gin.Context) {
	var req SharerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	path := model.CleanPath(c.Param("path"))
	if err := h.svc.Share(c.Request.Context(), path, req.Username, req.AccessType); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// RemoveSharer revokes the access of a user.
// DELETE /api/v1/sharers/*path?username=
func (h *Handler) RemoveSharer(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	path := model.CleanPath(c.Param("path"))
	if err := h.svc.Unshare(c.Request.Context(), path, username); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// OwnerRequest is the body of an owner change. An empty owner removes it.
type OwnerRequest struct {
	Owner string `json:"owner"`
}

// SetOwner sets or removes the owner of a path.
// PUT /api/v1/owner/*path
func (h *Handler) SetOwner(c *gin.Context) {
	var req OwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	path := model.CleanPath(c.Param("path"))
	if err := h.svc.SetOwner(c.Request.Context(), path, req.Owner); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// HealthCheck handles health check requests.
// GET /api/v1/health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"root":   h.svc.Store().RootDir(),
	})
}

func writeRecord(c *gin.Context, obj *model.PathObject) {
	data, err := obj.Encode()
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// writeError maps an error kind to a status code.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidInput), errors.Is(err, errors.ErrSharerNotFound):
		status = http.StatusBadRequest
	case errors.IsTypeMismatch(err):
		status = http.StatusConflict
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
	})
}
