package model

import "time"

type MessageID = int64

// Cursor is the exclusive upper bound of a history page. A nil cursor means
// the most recent page.
type Cursor *MessageID

type Message struct {
	ID        MessageID `db:"id"`
	Author    string    `db:"author"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

func CursorFrom(id MessageID) Cursor {
	return &id
}
