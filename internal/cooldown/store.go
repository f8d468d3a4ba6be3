// Package cooldown rate-limits chat commands per user.
package cooldown

import (
	"context"
	"time"
)

// Store defines the interface for command cooldowns.
type Store interface {
	// Allow consumes the key's slot if it is free. When it is not, it
	// returns false and how long until it frees up.
	Allow(ctx context.Context, key string) (bool, time.Duration)
	// Sweep forgets expired keys and returns how many went.
	Sweep(ctx context.Context) int
}

// Key builds the cooldown key for one user's use of one command.
func Key(command, userID string) string {
	return command + ":" + userID
}
