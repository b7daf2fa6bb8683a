package http

import (
	"github.com/gin-gonic/gin"

	"github.com/TomBuge/openclaw-mission-control/internal/agents"
	"github.com/TomBuge/openclaw-mission-control/internal/api/http/handler"
	"github.com/TomBuge/openclaw-mission-control/internal/api/http/middleware"
	"github.com/TomBuge/openclaw-mission-control/internal/auth"
	"github.com/TomBuge/openclaw-mission-control/internal/gateways"
	"github.com/TomBuge/openclaw-mission-control/internal/store"
)

type Services struct {
	Agents      *agents.Service
	Gateways    *gateways.Service
	Activity    store.ActivityStore
	DB          handler.Pinger
	AdminAPIKey string
	JWT         auth.Config
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.DB)
	engine.GET("/health", healthHandler.Check)

	v1 := engine.Group("/api/v1")

	authHandler := handler.NewAuthHandler(srvs.AdminAPIKey, srvs.JWT)
	v1.POST("/auth/token", authHandler.IssueToken)

	agentsHandler := handler.NewAgentsHandler(srvs.Agents)
	v1.POST("/agent/heartbeat", agentsHandler.SelfHeartbeat)

	admin := v1.Group("")
	admin.Use(middleware.AdminAuth(middleware.AdminAuthConfig{
		APIKey:    srvs.AdminAPIKey,
		JWTSecret: srvs.JWT.Secret,
	}))

	agentRoutes := admin.Group("/agents")
	{
		agentRoutes.GET("", agentsHandler.ListAgents)
		agentRoutes.POST("", agentsHandler.CreateAgent)
		agentRoutes.POST("/heartbeat", agentsHandler.HeartbeatOrCreate)
		agentRoutes.GET("/:id", agentsHandler.GetAgent)
		agentRoutes.PATCH("/:id", agentsHandler.UpdateAgent)
		agentRoutes.DELETE("/:id", agentsHandler.DeleteAgent)
		agentRoutes.POST("/:id/heartbeat", agentsHandler.Heartbeat)
		agentRoutes.POST("/:id/token", agentsHandler.RotateToken)
	}

	gatewaysHandler := handler.NewGatewaysHandler(srvs.Gateways)
	gatewayRoutes := admin.Group("/gateways")
	{
		gatewayRoutes.GET("", gatewaysHandler.ListGateways)
		gatewayRoutes.POST("", gatewaysHandler.CreateGateway)
		gatewayRoutes.GET("/:id", gatewaysHandler.GetGateway)
		gatewayRoutes.PATCH("/:id", gatewaysHandler.UpdateGateway)
		gatewayRoutes.DELETE("/:id", gatewaysHandler.DeleteGateway)
	}

	activityHandler := handler.NewActivityHandler(srvs.Activity)
	admin.GET("/activity", activityHandler.ListActivity)
}
