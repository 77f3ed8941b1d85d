// Package domain contains the records shared by the hub and the call
// controller, without logic beyond validation.
package domain

import (
	"errors"
	"time"
)

const MaxUserIDLen = 64

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

type UserID string

func (id UserID) Validate() error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

// Presence mirrors the isOnline/lastSeen fields the web app keeps on the
// user document. The relay writes them, it does not own them.
type Presence struct {
	UserID   UserID    `json:"userId" bson:"-"`
	IsOnline bool      `json:"isOnline" bson:"isOnline"`
	LastSeen time.Time `json:"lastSeen" bson:"lastSeen"`
}
