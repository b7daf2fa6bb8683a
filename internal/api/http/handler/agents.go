package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TomBuge/openclaw-mission-control/internal/agents"
	"github.com/TomBuge/openclaw-mission-control/internal/api/http/dto"
)

const AgentTokenHeader = "X-Agent-Token"

type AgentsHandler struct {
	agentService *agents.Service
}

func NewAgentsHandler(agentService *agents.Service) *AgentsHandler {
	return &AgentsHandler{
		agentService: agentService,
	}
}

// ListAgents returns all agents with their effective status
// GET /agents
func (h *AgentsHandler) ListAgents(c *gin.Context) {
	agentList, err := h.agentService.List(c.Request.Context())
	if err != nil {
		respondError(c, err, "list agents")
		return
	}

	responses := make([]dto.AgentResponse, len(agentList))
	for i := range agentList {
		responses[i] = dto.AgentFromModel(&agentList[i])
	}

	c.JSON(http.StatusOK, dto.ListAgentsResponse{Agents: responses, Count: len(responses)})
}

// CreateAgent registers an agent
// POST /agents
func (h *AgentsHandler) CreateAgent(c *gin.Context) {
	var req dto.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.agentService.Create(c.Request.Context(), agents.CreateInput{
		Name:            req.Name,
		Status:          req.Status,
		BoardID:         req.BoardID,
		HeartbeatConfig: req.HeartbeatConfig.ToModel(),
		IdentityProfile: req.IdentityProfile.ToModel(),
	})
	if err != nil {
		respondError(c, err, "create agent", "name", req.Name)
		return
	}

	c.JSON(http.StatusCreated, dto.AgentFromModel(agent))
}

// GetAgent returns one agent
// GET /agents/:id
func (h *AgentsHandler) GetAgent(c *gin.Context) {
	agentID := c.Param("id")

	agent, err := h.agentService.Get(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err, "get agent", "agent_id", agentID)
		return
	}

	c.JSON(http.StatusOK, dto.AgentFromModel(agent))
}

// UpdateAgent applies an admin edit
// PATCH /agents/:id
func (h *AgentsHandler) UpdateAgent(c *gin.Context) {
	agentID := c.Param("id")

	var req dto.UpdateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.agentService.Update(c.Request.Context(), agentID, agents.UpdateInput{
		Name:            req.Name,
		Status:          req.Status,
		BoardID:         req.BoardID,
		HeartbeatConfig: req.HeartbeatConfig.ToModel(),
		IdentityProfile: req.IdentityProfile.ToModel(),
	})
	if err != nil {
		respondError(c, err, "update agent", "agent_id", agentID)
		return
	}

	c.JSON(http.StatusOK, dto.AgentFromModel(agent))
}

// DeleteAgent hard-deletes an agent
// DELETE /agents/:id
func (h *AgentsHandler) DeleteAgent(c *gin.Context) {
	agentID := c.Param("id")

	if err := h.agentService.Delete(c.Request.Context(), agentID); err != nil {
		respondError(c, err, "delete agent", "agent_id", agentID)
		return
	}

	c.JSON(http.StatusOK, dto.OkResponse{Ok: true})
}

// Heartbeat records a check-in on behalf of an agent
// POST /agents/:id/heartbeat
func (h *AgentsHandler) Heartbeat(c *gin.Context) {
	agentID := c.Param("id")

	var req dto.HeartbeatRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.agentService.Heartbeat(c.Request.Context(), agentID, req.Status)
	if err != nil {
		respondError(c, err, "record heartbeat", "agent_id", agentID)
		return
	}

	c.JSON(http.StatusOK, dto.AgentFromModel(agent))
}

// HeartbeatOrCreate records a check-in by name, registering unknown agents
// POST /agents/heartbeat
func (h *AgentsHandler) HeartbeatOrCreate(c *gin.Context) {
	var req dto.HeartbeatCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.agentService.HeartbeatOrCreate(c.Request.Context(), req.Name, req.Status)
	if err != nil {
		respondError(c, err, "record heartbeat", "name", req.Name)
		return
	}

	c.JSON(http.StatusOK, dto.AgentFromModel(agent))
}

// RotateToken issues a new agent credential
// POST /agents/:id/token
func (h *AgentsHandler) RotateToken(c *gin.Context) {
	agentID := c.Param("id")

	agent, token, err := h.agentService.RotateToken(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err, "rotate agent token", "agent_id", agentID)
		return
	}

	c.JSON(http.StatusOK, dto.AgentTokenResponse{
		Agent: dto.AgentFromModel(agent),
		Token: token, // Only shown once!
	})
}

// SelfHeartbeat is called by agents authenticating with their own token
// POST /agent/heartbeat
func (h *AgentsHandler) SelfHeartbeat(c *gin.Context) {
	token := c.GetHeader(AgentTokenHeader)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing agent token"})
		return
	}

	var req dto.HeartbeatRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.agentService.HeartbeatWithToken(c.Request.Context(), token, req.Status)
	if err != nil {
		respondError(c, err, "record heartbeat", "client_ip", c.ClientIP())
		return
	}

	c.JSON(http.StatusOK, dto.AgentFromModel(agent))
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(v)
}
