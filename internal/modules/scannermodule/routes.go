package scannermodule

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ferrite-media/ferrite/internal/database"
)

// RegisterRoutes mounts the library and scan endpoints.
func (m *Manager) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/libraries", m.handleListLibraries)
		api.POST("/libraries", m.handleCreateLibrary)
		api.GET("/libraries/:id", m.handleGetLibrary)
		api.DELETE("/libraries/:id", m.handleDeleteLibrary)
		api.POST("/libraries/:id/scan", m.handleStartScan)
		api.GET("/libraries/:id/scan/status", m.handleScanStatus)
	}
}

func (m *Manager) handleListLibraries(c *gin.Context) {
	var libraries []database.Library
	if err := m.db.Find(&libraries).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list libraries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"libraries": libraries})
}

func (m *Manager) handleCreateLibrary(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
		Path string `json:"path" binding:"required"`
		Kind string `json:"kind" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lib, err := m.CreateLibrary(req.Name, req.Path, req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, lib)
}

func (m *Manager) handleGetLibrary(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var lib database.Library
	if err := m.db.First(&lib, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "library not found"})
		return
	}
	count, _ := database.CountMediaItems(m.db, lib.ID)
	c.JSON(http.StatusOK, gin.H{"library": lib, "item_count": count})
}

func (m *Manager) handleDeleteLibrary(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := m.DeleteLibrary(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (m *Manager) handleStartScan(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := m.StartScan(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scanning"})
}

func (m *Manager) handleScanStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	snap, ok := m.ScanStatus(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no scan recorded for library"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}
