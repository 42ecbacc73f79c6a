package approuters

import (
	"Palaver/internal/configuration"

	"github.com/gin-gonic/gin"
)

func ChatRouters(router *gin.Engine, container *configuration.Container) {
	chatRoute := router.Group("/pv/api/chat")
	{
		chatRoute.GET("/conversations", container.ChatHandler.GetConversations)
		chatRoute.GET("/conversations/:conversationId/messages", container.ChatHandler.GetConversationMessages)
		chatRoute.GET("/contacts", container.ChatHandler.GetContacts)
	}
}
