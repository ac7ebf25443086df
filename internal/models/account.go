package models

import (
	"time"
)

// Account holds the metered uses of a chat user.
// Both credit counters are kept non-negative by the database.
type Account struct {
	UserID           int64
	FreeCredits      int64
	PurchasedCredits int64
	LifetimeUses     int64
	CreatedAt        time.Time
}

// Credits left to spend, free and purchased together
func (a Account) Available() int64 {
	return a.FreeCredits + a.PurchasedCredits
}
