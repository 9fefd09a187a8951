package database

import (
	"database/sql"
	"time"
)

// Message roles as stored in the messages table.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents one entry of a user's conversation log. Entries are
// immutable once written; ordering by (timestamp, id) reconstructs the
// conversation.
type Message struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Role      string    `db:"role"`
	Content   string    `db:"content"`
	Timestamp time.Time `db:"timestamp"` // Assigned by the store, not the caller.
}

// UserProfile represents a user's durable record of attributes collected
// during onboarding. Empty string fields mean "not collected yet".
type UserProfile struct {
	UserID          int64        `db:"user_id"`
	Name            string       `db:"name"`
	Age             string       `db:"age"`
	Interests       string       `db:"interests"`
	LastRequestTime sql.NullTime `db:"last_request_time"`
}

// ProfilePatch carries a merge-patch for a user profile. Nil fields are
// left untouched by UpdateUserProfile.
type ProfilePatch struct {
	Name      *string
	Age       *string
	Interests *string
}
