package handlers

import (
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.chatroom/internal/chat"
	"uk.co.dudmesh.chatroom/internal/render"
)

type Deps struct {
	Room        *chat.Room
	Paginator   Paginator
	Renderer    *render.Template
	Origins     []string
	ConnOptions chat.ConnOptions
}

func Register(server *echo.Echo, deps Deps) {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     CheckOrigin(deps.Origins),
	}

	server.Renderer = deps.Renderer
	server.GET("/healthz", Health())
	server.GET("/chat", Chat(deps.Room, upgrader, deps.ConnOptions))

	pages := server.Group("", Identity())
	pages.GET("/", Home(deps.Room))
	pages.GET("/messages", History(deps.Paginator, deps.Renderer))
	pages.GET("/username", GetUsername())
	pages.GET("/change_username", GetUsernameForm())
	pages.POST("/change_username", ChangeUsername())
}
