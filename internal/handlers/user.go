package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func GetUsername() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Render(http.StatusOK, "current_user", UsernameFrom(c.Request()))
	}
}

func GetUsernameForm() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.Render(http.StatusOK, "username_form", UsernameFrom(c.Request()))
	}
}

// ChangeUsername stores the new name in the client's cookie and asks htmx to
// reload the page so the chat connection picks it up.
func ChangeUsername() echo.HandlerFunc {
	return func(c echo.Context) error {
		username := sanitizeUsername(c.FormValue("new_username"))
		if username == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "username must not be empty")
		}

		c.SetCookie(usernameCookie(username))
		c.Response().Header().Set("HX-Redirect", "/")
		return c.NoContent(http.StatusOK)
	}
}
