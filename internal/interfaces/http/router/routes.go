// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, handlers Handlers) {
	// 流式对话
	v1.POST("/chat", handlers.Chat.Chat) // SSE

	// 频道广播
	channels := v1.Group("/channels")
	{
		channels.POST("/broadcast", handlers.Channel.Broadcast)
	}

	// 账户查询
	accounts := v1.Group("/accounts")
	{
		accounts.GET("/:id", handlers.Account.Get)
		accounts.GET("/:id/usage", handlers.Account.Usage)
	}
}
