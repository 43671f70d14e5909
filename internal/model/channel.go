package model

import "context"

//go:generate mockgen -destination=../mocks/channel.go -package=mocks uk.co.dudmesh.chatroom/internal/model Channel

// Channel pushes a rendered payload to one connected client. Implementations
// must be comparable so they can be held in a set.
type Channel interface {
	Send(ctx context.Context, payload []byte) error
}
