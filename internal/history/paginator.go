package history

import (
	"context"
	"fmt"

	"uk.co.dudmesh.chatroom/internal/model"
)

// PageSize is the number of messages returned per history request.
const PageSize = 30

type Store interface {
	RangeBefore(ctx context.Context, cursor model.Cursor, limit int) ([]model.Message, error)
}

type Page struct {
	Messages   []model.Message
	NextCursor model.Cursor
}

type Paginator struct {
	store Store
}

func New(store Store) *Paginator {
	return &Paginator{store: store}
}

// Page returns the messages older than cursor, newest first. NextCursor is
// the oldest id in the page, or nil once history is exhausted.
func (p *Paginator) Page(ctx context.Context, cursor model.Cursor) (Page, error) {
	messages, err := p.store.RangeBefore(ctx, cursor, PageSize)
	if err != nil {
		return Page{}, fmt.Errorf("loading history page: %w", err)
	}

	page := Page{Messages: messages}
	if len(messages) > 0 {
		page.NextCursor = model.CursorFrom(messages[len(messages)-1].ID)
	}
	return page, nil
}
