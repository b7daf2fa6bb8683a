package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TomBuge/openclaw-mission-control/internal/api/http/dto"
	"github.com/TomBuge/openclaw-mission-control/internal/gateways"
)

type GatewaysHandler struct {
	gatewayService *gateways.Service
}

func NewGatewaysHandler(gatewayService *gateways.Service) *GatewaysHandler {
	return &GatewaysHandler{
		gatewayService: gatewayService,
	}
}

// ListGateways returns gateways newest first
// GET /gateways
func (h *GatewaysHandler) ListGateways(c *gin.Context) {
	var page dto.PageQuery
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	list, err := h.gatewayService.List(c.Request.Context(), page.Limit, page.Offset)
	if err != nil {
		respondError(c, err, "list gateways")
		return
	}

	items := make([]dto.GatewayResponse, len(list))
	for i := range list {
		items[i] = dto.GatewayFromModel(&list[i])
	}

	c.JSON(http.StatusOK, dto.ListGatewaysResponse{Items: items, Limit: page.Limit, Offset: page.Offset})
}

// CreateGateway stores a gateway and provisions its main agent
// POST /gateways
func (h *GatewaysHandler) CreateGateway(c *gin.Context) {
	var req dto.CreateGatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.gatewayService.Create(c.Request.Context(), gateways.CreateInput{
		Name:           req.Name,
		URL:            req.URL,
		Token:          req.Token,
		MainSessionKey: req.MainSessionKey,
	}, actor(c))
	if err != nil {
		respondError(c, err, "create gateway", "name", req.Name)
		return
	}

	c.JSON(http.StatusCreated, gatewayResult(res))
}

// GetGateway returns one gateway
// GET /gateways/:id
func (h *GatewaysHandler) GetGateway(c *gin.Context) {
	gatewayID := c.Param("id")

	gateway, err := h.gatewayService.Get(c.Request.Context(), gatewayID)
	if err != nil {
		respondError(c, err, "get gateway", "gateway_id", gatewayID)
		return
	}

	c.JSON(http.StatusOK, dto.GatewayFromModel(gateway))
}

// UpdateGateway edits a gateway and re-reconciles its main agent
// PATCH /gateways/:id
func (h *GatewaysHandler) UpdateGateway(c *gin.Context) {
	gatewayID := c.Param("id")

	var req dto.UpdateGatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.gatewayService.Update(c.Request.Context(), gatewayID, gateways.UpdateInput{
		Name:           req.Name,
		URL:            req.URL,
		Token:          req.Token,
		MainSessionKey: req.MainSessionKey,
	}, actor(c))
	if err != nil {
		respondError(c, err, "update gateway", "gateway_id", gatewayID)
		return
	}

	c.JSON(http.StatusOK, gatewayResult(res))
}

// DeleteGateway removes a gateway
// DELETE /gateways/:id
func (h *GatewaysHandler) DeleteGateway(c *gin.Context) {
	gatewayID := c.Param("id")

	if err := h.gatewayService.Delete(c.Request.Context(), gatewayID); err != nil {
		respondError(c, err, "delete gateway", "gateway_id", gatewayID)
		return
	}

	c.JSON(http.StatusOK, dto.OkResponse{Ok: true})
}

func gatewayResult(res *gateways.Result) dto.GatewayWithAgentResponse {
	out := dto.GatewayWithAgentResponse{Gateway: dto.GatewayFromModel(res.Gateway)}
	if res.MainAgent != nil {
		agent := dto.AgentFromModel(res.MainAgent)
		out.MainAgent = &agent
	}
	return out
}

// actor names the authenticated operator for audit purposes.
func actor(c *gin.Context) string {
	return c.GetString("actor")
}
