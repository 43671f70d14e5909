package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"uk.co.dudmesh.chatroom/internal/history"
	"uk.co.dudmesh.chatroom/internal/model"
)

type Paginator interface {
	Page(ctx context.Context, cursor model.Cursor) (history.Page, error)
}

type HistoryRenderer interface {
	History(messages []model.Message, next model.Cursor) ([]byte, error)
}

// History serves the page of messages older than last_id, or the most
// recent page when last_id is absent.
func History(paginator Paginator, renderer HistoryRenderer) echo.HandlerFunc {
	return func(c echo.Context) error {
		cursor, err := parseCursor(c.QueryParam("last_id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "last_id must be an integer")
		}

		page, err := paginator.Page(c.Request().Context(), cursor)
		if err != nil {
			return fmt.Errorf("serving history: %w", err)
		}

		body, err := renderer.History(page.Messages, page.NextCursor)
		if err != nil {
			return fmt.Errorf("serving history: %w", err)
		}
		return c.HTMLBlob(http.StatusOK, body)
	}
}

func parseCursor(raw string) (model.Cursor, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing cursor: %w", err)
	}
	return model.CursorFrom(id), nil
}
