package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts. All
// operations are safe to call concurrently for different users; callers
// are responsible for serializing operations for the same user.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetUserProfile retrieves a user profile by user ID. Returns nil, nil if not found.
	GetUserProfile(ctx context.Context, userID int64) (*UserProfile, error)

	// UpdateUserProfile inserts the user row if absent, then applies the
	// non-nil fields of the patch, leaving omitted fields untouched.
	UpdateUserProfile(ctx context.Context, userID int64, patch ProfilePatch) error

	// TouchLastRequest stamps the user's last_request_time with the store clock.
	TouchLastRequest(ctx context.Context, userID int64) error

	// AppendExchange appends a user entry and the matching assistant entry
	// to the message log in a single transaction.
	AppendExchange(ctx context.Context, userID int64, userText, assistantText string) error

	// GetMessageHistory retrieves up to 'limit' of the user's most recent
	// log entries, returned in conversation order (oldest first).
	GetMessageHistory(ctx context.Context, userID int64, limit int) ([]Message, error)

	// CountUserMessagesToday counts the user's user-authored entries within
	// the store's current calendar day.
	CountUserMessagesToday(ctx context.Context, userID int64) (int, error)

	// DailyUsage returns today's user-authored entry count per user ID.
	DailyUsage(ctx context.Context) (map[int64]int, error)

	// DeleteUserData removes the user's messages and profile in a single transaction.
	DeleteUserData(ctx context.Context, userID int64) error

	// RunMaintenance performs database maintenance tasks like VACUUM.
	RunMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUserProfile retrieves a user profile by user ID. Returns nil, nil if not found.
func (s *sqlxStore) GetUserProfile(ctx context.Context, userID int64) (*UserProfile, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user_id cannot be zero")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var profile UserProfile
	query := `SELECT user_id, name, age, interests, last_request_time
	          FROM users WHERE user_id = ?`

	err := s.db.GetContext(ctx, &profile, query, userID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Not found is expected for first-time users, not an error
		s.logger.DebugContext(ctx, "No user profile found", "user_id", userID)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching user profile",
			"user_id", userID, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user profile", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get user profile for user ID %d: %w", userID, err)
	}

	s.logger.DebugContext(ctx, "Successfully retrieved user profile", "user_id", userID)
	return &profile, nil
}

// UpdateUserProfile inserts the user row if absent and applies the non-nil
// patch fields via COALESCE, so omitted fields keep their stored value.
func (s *sqlxStore) UpdateUserProfile(ctx context.Context, userID int64, patch ProfilePatch) error {
	if userID == 0 {
		return fmt.Errorf("user_id cannot be zero")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for profile update",
			"user_id", userID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (user_id) VALUES (?) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		s.logger.ErrorContext(ctx, "Error inserting user row", "user_id", userID, "error", err)
		return fmt.Errorf("failed to insert user row for user ID %d: %w", userID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET
			name = COALESCE(?, name),
			age = COALESCE(?, age),
			interests = COALESCE(?, interests)
		WHERE user_id = ?`,
		patch.Name, patch.Age, patch.Interests, userID); err != nil {
		s.logger.ErrorContext(ctx, "Error updating user profile", "user_id", userID, "error", err)
		return fmt.Errorf("failed to update user profile for user ID %d: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit profile update", "user_id", userID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "User profile updated", "user_id", userID)
	return nil
}

// TouchLastRequest stamps the user's last_request_time with the store clock.
func (s *sqlxStore) TouchLastRequest(ctx context.Context, userID int64) error {
	if userID == 0 {
		return fmt.Errorf("user_id cannot be zero")
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_request_time = CURRENT_TIMESTAMP WHERE user_id = ?`, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating last request time", "user_id", userID, "error", err)
		return fmt.Errorf("failed to update last request time for user ID %d: %w", userID, err)
	}
	return nil
}

// AppendExchange appends a user entry and the matching assistant entry in a
// single transaction. Either both entries become visible or neither does.
func (s *sqlxStore) AppendExchange(ctx context.Context, userID int64, userText, assistantText string) error {
	if userID == 0 {
		return fmt.Errorf("user_id cannot be zero")
	}
	if userText == "" || assistantText == "" {
		return fmt.Errorf("exchange entries must have non-empty content")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for exchange append",
			"user_id", userID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	// Timestamps come from the table default, not the caller
	query := `INSERT INTO messages (user_id, role, content) VALUES (?, ?, ?)`

	if _, err := tx.ExecContext(ctx, query, userID, RoleUser, userText); err != nil {
		s.logger.ErrorContext(ctx, "Error appending user entry", "user_id", userID, "error", err)
		return fmt.Errorf("failed to append user entry for user ID %d: %w", userID, err)
	}
	if _, err := tx.ExecContext(ctx, query, userID, RoleAssistant, assistantText); err != nil {
		s.logger.ErrorContext(ctx, "Error appending assistant entry", "user_id", userID, "error", err)
		return fmt.Errorf("failed to append assistant entry for user ID %d: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit exchange append", "user_id", userID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Exchange appended", "user_id", userID)
	return nil
}

// GetMessageHistory retrieves up to 'limit' of the user's most recent log
// entries and returns them oldest first, ordered by (timestamp, id).
func (s *sqlxStore) GetMessageHistory(ctx context.Context, userID int64, limit int) ([]Message, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user_id cannot be zero")
	}
	if limit <= 0 {
		limit = 20
		s.logger.DebugContext(ctx, "Invalid limit provided, using default", "user_id", userID, "default_limit", limit)
	} else if limit > 200 {
		limit = 200
		s.logger.DebugContext(ctx, "Limit exceeded maximum value, capping", "user_id", userID, "capped_limit", limit)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var messages []Message
	query := `
        SELECT id, user_id, role, content, timestamp
        FROM (
            SELECT id, user_id, role, content, timestamp
            FROM messages
            WHERE user_id = ?
            ORDER BY timestamp DESC, id DESC
            LIMIT ?
        )
        ORDER BY timestamp ASC, id ASC;
    `

	err := s.db.SelectContext(ctx, &messages, query, userID, limit)

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching history",
			"user_id", userID, "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting message history", "user_id", userID, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get message history for user ID %d: %w", userID, err)
	}

	s.logger.DebugContext(ctx, "Fetched message history", "user_id", userID, "count", len(messages))
	return messages, nil
}

// CountUserMessagesToday counts the user's user-authored entries within the
// store's current calendar day. The comparison uses the store clock so all
// replicas agree on when the day rolls over.
func (s *sqlxStore) CountUserMessagesToday(ctx context.Context, userID int64) (int, error) {
	if userID == 0 {
		return 0, fmt.Errorf("user_id cannot be zero")
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	var count int
	query := `SELECT COUNT(*) FROM messages
	          WHERE user_id = ? AND role = ? AND DATE(timestamp) = DATE(CURRENT_TIMESTAMP)`

	if err := s.db.GetContext(ctx, &count, query, userID, RoleUser); err != nil {
		s.logger.ErrorContext(ctx, "Error counting today's messages", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to count today's messages for user ID %d: %w", userID, err)
	}

	return count, nil
}

// DailyUsage returns today's user-authored entry count per user ID.
func (s *sqlxStore) DailyUsage(ctx context.Context) (map[int64]int, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	rows := []struct {
		UserID int64 `db:"user_id"`
		Count  int   `db:"count"`
	}{}
	query := `SELECT user_id, COUNT(*) AS count FROM messages
	          WHERE role = ? AND DATE(timestamp) = DATE(CURRENT_TIMESTAMP)
	          GROUP BY user_id`

	if err := s.db.SelectContext(ctx, &rows, query, RoleUser); err != nil {
		s.logger.ErrorContext(ctx, "Error fetching daily usage", "error", err)
		return nil, fmt.Errorf("failed to fetch daily usage: %w", err)
	}

	usage := make(map[int64]int, len(rows))
	for _, r := range rows {
		usage[r.UserID] = r.Count
	}
	return usage, nil
}

// DeleteUserData removes the user's messages and profile in a single
// transaction. Either all data is deleted or none is.
func (s *sqlxStore) DeleteUserData(ctx context.Context, userID int64) error {
	if userID == 0 {
		return fmt.Errorf("user_id cannot be zero")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for user data deletion",
			"user_id", userID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE user_id = ?`, userID); err != nil {
		s.logger.ErrorContext(ctx, "Error deleting user messages", "user_id", userID, "error", err)
		return fmt.Errorf("failed to delete messages for user ID %d: %w", userID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID); err != nil {
		s.logger.ErrorContext(ctx, "Error deleting user profile", "user_id", userID, "error", err)
		return fmt.Errorf("failed to delete profile for user ID %d: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit user data deletion", "user_id", userID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.InfoContext(ctx, "Deleted user messages and profile", "user_id", userID)
	return nil
}

// RunMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}
