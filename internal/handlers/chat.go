package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.chatroom/internal/chat"
	"uk.co.dudmesh.chatroom/internal/model"
	"uk.co.dudmesh.chatroom/internal/render"
)

type Presence interface {
	Online() int
}

func Home(room Presence) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Render(http.StatusOK, "app.html", render.Page{
			Presence: room.Online(),
			Username: UsernameFrom(c.Request()),
		})
	}
}

// Chat upgrades the request to a websocket and runs it as a chat session
// until the client goes away.
func Chat(room *chat.Room, upgrader *websocket.Upgrader, opts chat.ConnOptions) echo.HandlerFunc {
	return func(c echo.Context) error {
		username := UsernameFrom(c.Request())
		if username == "" {
			username = model.NewUsername()
		}

		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// the upgrader has already written the error response
			log.Warnf("websocket upgrade failed: %v", err)
			return nil
		}

		conn := chat.NewConn(ws, c.RealIP(), opts)
		log.Infof("client %s connected as %s", conn.Addr(), username)
		room.Serve(c.Request().Context(), conn, func() string {
			return username
		})
		return nil
	}
}

func Health() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}
}
