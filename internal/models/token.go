package models

import (
	"time"
)

// Service token issued to a front-end client (the chat bot)
type IssuedToken struct {
	Value     string
	Subject   string
	ExpiresAt time.Time
}
