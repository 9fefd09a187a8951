package session

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/tutorgram/mashabot/internal/database"
)

// Options configures a Manager.
type Options struct {
	// MaxDailyMessages is the inclusive per-day budget of user-authored
	// chat messages.
	MaxDailyMessages int

	// MaxHistoryMessages caps the logged history handed to the generator.
	MaxHistoryMessages int

	// GenerationTimeout bounds a single generator call; expiry is treated
	// as a transient generation failure.
	GenerationTimeout time.Duration
}

// Manager owns all conversation sessions and drives the state machine.
type Manager struct {
	store    database.Store
	gen      Generator
	logger   *slog.Logger
	opts     Options
	sessions sessions
}

// NewManager creates a session manager backed by the given store and
// reply generator.
func NewManager(store database.Store, gen Generator, logger *slog.Logger, opts Options) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxDailyMessages <= 0 {
		opts.MaxDailyMessages = 30
	}
	if opts.MaxHistoryMessages <= 0 {
		opts.MaxHistoryMessages = 50
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 2 * time.Minute
	}
	return &Manager{
		store:    store,
		gen:      gen,
		logger:   logger.With("component", "session_manager"),
		opts:     opts,
		sessions: sessions{m: make(map[int64]*userSession)},
	}
}

// HandleMessage runs one inbound message through the state machine and
// returns the outbound replies. The caller has already applied the access
// policy. Typed failures: ErrRateLimited, ErrBusy, *GenerationError,
// *PersistenceError.
func (m *Manager) HandleMessage(ctx context.Context, userID int64, text string) ([]Reply, error) {
	log := m.logger.With("user_id", userID)

	s := m.sessions.get(userID)
	s.mu.Lock()

	if err := m.ensureInitialized(ctx, s, userID); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	log.DebugContext(ctx, "Dispatching message", "state", s.state.String())

	switch s.state {
	case StateNew:
		// The first accepted message only starts onboarding; its content
		// is not interpreted. An empty patch creates the profile row, so a
		// restart resumes at the name question instead of replaying this.
		if err := m.store.UpdateUserProfile(ctx, userID, database.ProfilePatch{}); err != nil {
			s.mu.Unlock()
			return nil, &PersistenceError{Op: "create profile", Err: err}
		}
		s.state = StateAwaitingName
		s.mu.Unlock()
		return keyed(KeyOnboardingIntro, KeyAskName), nil

	case StateAwaitingName:
		if err := m.store.UpdateUserProfile(ctx, userID, database.ProfilePatch{Name: &text}); err != nil {
			s.mu.Unlock()
			return nil, &PersistenceError{Op: "persist name", Err: err}
		}
		s.state = StateAwaitingAge
		s.mu.Unlock()
		return keyed(KeyAskAge), nil

	case StateAwaitingAge:
		if err := m.store.UpdateUserProfile(ctx, userID, database.ProfilePatch{Age: &text}); err != nil {
			s.mu.Unlock()
			return nil, &PersistenceError{Op: "persist age", Err: err}
		}
		s.state = StateAwaitingInterests
		s.mu.Unlock()
		return keyed(KeyAskInterests), nil

	case StateAwaitingInterests:
		if err := m.store.UpdateUserProfile(ctx, userID, database.ProfilePatch{Interests: &text}); err != nil {
			s.mu.Unlock()
			return nil, &PersistenceError{Op: "persist interests", Err: err}
		}
		s.state = StateChatting
		s.mu.Unlock()
		return keyed(KeyChatIntro), nil

	case StateChatting:
		return m.handleChat(ctx, s, userID, text)

	default:
		s.mu.Unlock()
		log.ErrorContext(ctx, "Session in unknown state", "state", int(s.state))
		return nil, &PersistenceError{Op: "dispatch", Err: errUnknownState}
	}
}

// handleChat processes a steady-state question. It is entered with the
// session lock held and releases it for the duration of the generator
// call so unrelated messages never queue behind a slow model.
func (m *Manager) handleChat(ctx context.Context, s *userSession, userID int64, text string) ([]Reply, error) {
	log := m.logger.With("user_id", userID)

	if s.busy {
		s.mu.Unlock()
		log.InfoContext(ctx, "Rejecting message, generation already in flight")
		return nil, ErrBusy
	}

	count, err := m.store.CountUserMessagesToday(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return nil, &PersistenceError{Op: "count today's messages", Err: err}
	}
	if count >= m.opts.MaxDailyMessages {
		s.mu.Unlock()
		log.InfoContext(ctx, "Daily message limit reached", "count", count, "limit", m.opts.MaxDailyMessages)
		return nil, ErrRateLimited
	}

	profile, err := m.store.GetUserProfile(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return nil, &PersistenceError{Op: "read profile", Err: err}
	}

	history, err := m.store.GetMessageHistory(ctx, userID, m.opts.MaxHistoryMessages)
	if err != nil {
		s.mu.Unlock()
		return nil, &PersistenceError{Op: "read history", Err: err}
	}

	s.busy = true
	s.mu.Unlock()

	genCtx, cancel := context.WithTimeout(ctx, m.opts.GenerationTimeout)
	replyText, genErr := m.gen.GenerateReply(genCtx, profile, history, text)
	cancel()

	s.mu.Lock()
	s.busy = false

	if genErr != nil {
		// Nothing was written: no orphan user entry, no state change.
		s.mu.Unlock()
		log.WarnContext(ctx, "Reply generation failed", "error", genErr)
		return nil, &GenerationError{Err: genErr}
	}

	// Both log entries commit together, after generation succeeded.
	if err := m.store.AppendExchange(ctx, userID, text, replyText); err != nil {
		s.mu.Unlock()
		return nil, &PersistenceError{Op: "append exchange", Err: err}
	}
	if err := m.store.TouchLastRequest(ctx, userID); err != nil {
		// The exchange is committed; a stale activity stamp is tolerable.
		log.WarnContext(ctx, "Failed to update last request time", "error", err)
	}
	s.mu.Unlock()

	return []Reply{{Text: replyText}}, nil
}

// Restart puts the user back at the start of onboarding, as the /start
// command does. Stored profile fields are overwritten as the user
// re-answers; unanswered ones keep their old values.
func (m *Manager) Restart(ctx context.Context, userID int64) ([]Reply, error) {
	s := m.sessions.get(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, ErrBusy
	}

	s.initialized = true
	s.state = StateAwaitingName
	m.logger.InfoContext(ctx, "Session restarted", "user_id", userID)
	return keyed(KeyOnboardingIntro, KeyAskName), nil
}

// Reset deletes the user's messages and profile and drops the in-memory
// session, as the /reset command does. The wipe runs under the session
// lock and fails with ErrBusy while a generation is in flight, so an
// in-flight exchange can never commit after the data is gone.
func (m *Manager) Reset(ctx context.Context, userID int64) error {
	s := m.sessions.get(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return ErrBusy
	}

	if err := m.store.DeleteUserData(ctx, userID); err != nil {
		return &PersistenceError{Op: "delete user data", Err: err}
	}

	// Messages already waiting on this record re-derive their state from
	// the now-empty store instead of trusting the stale one.
	s.initialized = false
	s.state = StateNew
	m.sessions.drop(userID)

	m.logger.InfoContext(ctx, "User data reset", "user_id", userID)
	return nil
}

// StateOf reports the user's current state, deriving it from the store if
// the session is not initialized yet.
func (m *Manager) StateOf(ctx context.Context, userID int64) (State, error) {
	s := m.sessions.get(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := m.ensureInitialized(ctx, s, userID); err != nil {
		return StateNew, err
	}
	return s.state, nil
}

// ensureInitialized derives the session state from the Profile Store on
// first use. Must be called with the session lock held.
func (m *Manager) ensureInitialized(ctx context.Context, s *userSession, userID int64) error {
	if s.initialized {
		return nil
	}

	profile, err := m.store.GetUserProfile(ctx, userID)
	if err != nil {
		return &PersistenceError{Op: "recover session state", Err: err}
	}

	s.state = deriveState(profile)
	s.initialized = true
	m.logger.DebugContext(ctx, "Session state recovered from store",
		"user_id", userID, "state", s.state.String())
	return nil
}
