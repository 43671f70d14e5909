package model

import (
	"github.com/btcsuite/btcutil/base58"
	"github.com/google/uuid"
)

const usernamePrefix = "guest-"

func CreateID() string {
	uuid, _ := uuid.NewRandom()
	return base58.Encode(uuid[:])
}

// NewUsername returns a short random display name for clients arriving
// without an identity cookie.
func NewUsername() string {
	id := CreateID()
	if len(id) > 8 {
		id = id[:8]
	}
	return usernamePrefix + id
}
