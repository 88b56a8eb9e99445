package collector

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	modelClient "mmcagent/internal/model/client"
	"mmcagent/internal/pkg/logger"
)

// Handler 收集端接口处理器
type Handler struct {
	registry *Registry
}

// NewHandler 创建处理器
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterClient POST /stat/reg_client
func (h *Handler) RegisterClient(c *gin.Context) {
	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}

	raw, ok := body["deploy_time"]
	if !ok || string(raw) == "null" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deploy_time is required"})
		return
	}

	var deployTime interface{}
	if err := json.Unmarshal(raw, &deployTime); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deploy_time"})
		return
	}

	id := h.registry.Register(deployTime)
	logger.LogTelemetryEvent("register", "success", "client registered",
		map[string]interface{}{"client_uuid": id, "deploy_time": deployTime})

	c.JSON(http.StatusOK, modelClient.RegisterResponse{MMCUUID: id})
}

// ClientHeartbeat POST /stat/client_heartbeat
func (h *Handler) ClientHeartbeat(c *gin.Context) {
	id := c.GetHeader(modelClient.HeaderClientUUID)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Client-UUID header is required"})
		return
	}

	var snapshot modelClient.SystemInfoSnapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}

	if !h.registry.Heartbeat(id, c.GetHeader("User-Agent"), &snapshot) {
		logger.LogTelemetryEvent("heartbeat", "failed", "unknown client id",
			map[string]interface{}{"client_uuid": id})
		c.JSON(http.StatusForbidden, gin.H{"error": "unknown client"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ListClients GET /stat/clients
func (h *Handler) ListClients(c *gin.Context) {
	clients := h.registry.List()
	c.JSON(http.StatusOK, gin.H{"total": len(clients), "clients": clients})
}

// RevokeClient DELETE /stat/clients/:uuid
func (h *Handler) RevokeClient(c *gin.Context) {
	id := c.Param("uuid")
	if !h.registry.Revoke(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("client %s not found", id)})
		return
	}
	c.Status(http.StatusNoContent)
}
