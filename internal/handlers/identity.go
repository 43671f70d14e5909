package handlers

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.chatroom/internal/model"
)

const (
	UsernameCookie    = "username"
	maxUsernameLength = 64
)

// Identity makes sure every page request carries a username cookie,
// redirecting back to the same URL after assigning one.
func Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if UsernameFrom(c.Request()) != "" {
				return next(c)
			}
			c.SetCookie(usernameCookie(model.NewUsername()))
			return c.Redirect(http.StatusTemporaryRedirect, c.Request().URL.String())
		}
	}
}

func UsernameFrom(r *http.Request) string {
	cookie, err := r.Cookie(UsernameCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func usernameCookie(username string) *http.Cookie {
	return &http.Cookie{
		Name:     UsernameCookie,
		Value:    username,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func sanitizeUsername(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if runes := []rune(name); len(runes) > maxUsernameLength {
		name = string(runes[:maxUsernameLength])
	}
	return name
}
