package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/testgen/internal/http/handler"
	"basegraph.app/testgen/internal/http/handler/webhook"
	"basegraph.app/testgen/internal/queue"
)

type RouterConfig struct {
	TraceHeader    string
	DefaultProject string
	// GitLab webhook routes are only mounted when a secret is configured.
	GitLab webhook.GitLabConfig
}

func SetupRoutes(router *gin.Engine, producer queue.Producer, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		runHandler := handler.NewRunHandler(producer, cfg.TraceHeader, cfg.DefaultProject)
		RunRouter(v1.Group("/runs"), runHandler)
	}

	if cfg.GitLab.Secret != "" {
		gitlabHandler := webhook.NewGitLabWebhookHandler(producer, cfg.GitLab)
		WebhookRouter(router.Group("/webhooks"), gitlabHandler)
	}
}

func RunRouter(rg *gin.RouterGroup, h *handler.RunHandler) {
	rg.POST("", h.Create)
}

func WebhookRouter(rg *gin.RouterGroup, h *webhook.GitLabWebhookHandler) {
	rg.POST("/gitlab", h.HandleEvent)
}
