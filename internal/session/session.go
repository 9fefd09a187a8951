// Package session implements the per-user conversation state machine: it
// decides which state an inbound message finds the user in, performs the
// associated profile and message-log mutations, and produces the outbound
// replies. All read-modify-write sequences for one user are serialized by
// a per-user lock; different users proceed fully in parallel.
package session

import (
	"context"
	"sync"

	"github.com/tutorgram/mashabot/internal/database"
)

// State identifies the user's position in the conversation flow.
type State int

const (
	// StateNew means no session activity yet for this process lifetime.
	StateNew State = iota
	// StateAwaitingName means the next message is stored as the user's name.
	StateAwaitingName
	// StateAwaitingAge means the next message is stored as the user's age.
	StateAwaitingAge
	// StateAwaitingInterests means the next message is stored as the user's interests.
	StateAwaitingInterests
	// StateChatting is the steady state: messages are questions for the tutor.
	StateChatting
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAwaitingName:
		return "awaiting_name"
	case StateAwaitingAge:
		return "awaiting_age"
	case StateAwaitingInterests:
		return "awaiting_interests"
	case StateChatting:
		return "chatting"
	default:
		return "unknown"
	}
}

// deriveState recovers onboarding progress from the durable profile, so a
// restart never re-asks questions whose answers were already persisted.
func deriveState(profile *database.UserProfile) State {
	switch {
	case profile == nil:
		return StateNew
	case profile.Name == "":
		return StateAwaitingName
	case profile.Age == "":
		return StateAwaitingAge
	case profile.Interests == "":
		return StateAwaitingInterests
	default:
		return StateChatting
	}
}

// Generator is the reply-generation capability consumed by the state
// machine. Implementations may be slow and may fail transiently; the
// state machine never holds a user's lock across a Generate call.
type Generator interface {
	GenerateReply(ctx context.Context, profile *database.UserProfile, history []database.Message, message string) (string, error)
}

// Reply is one outbound message. Either Key names a translation looked up
// by the transport layer, or Text carries literal (generated) content.
type Reply struct {
	Key  string
	Text string
}

func keyed(keys ...string) []Reply {
	replies := make([]Reply, 0, len(keys))
	for _, k := range keys {
		replies = append(replies, Reply{Key: k})
	}
	return replies
}

// Reply translation keys produced by the state machine.
const (
	KeyOnboardingIntro = "onboarding_intro"
	KeyAskName         = "ask_name"
	KeyAskAge          = "ask_age"
	KeyAskInterests    = "ask_interests"
	KeyChatIntro       = "chat_intro"
)

// userSession is the transient per-user record. It is never persisted;
// authoritative onboarding progress lives in the Profile Store.
type userSession struct {
	mu          sync.Mutex
	initialized bool
	state       State
	busy        bool
}

// sessions is a process-wide map of user id to session record, guarded by
// its own lock so different users never contend on each other's sessions.
type sessions struct {
	mu sync.Mutex
	m  map[int64]*userSession
}

func (s *sessions) get(userID int64) *userSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	us, ok := s.m[userID]
	if !ok {
		us = &userSession{}
		s.m[userID] = us
	}
	return us
}

func (s *sessions) drop(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, userID)
}
