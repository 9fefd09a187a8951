package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tutorgram/mashabot/internal/database"
)

// fakeStore is an in-memory Store implementation for state machine tests.
type fakeStore struct {
	mu       sync.Mutex
	profiles map[int64]*database.UserProfile
	messages []database.Message
	nextID   int64
	now      time.Time // clock stamped on new entries

	ageUpdates int // number of patches that set the age field

	failUpdates   bool
	failExchanges bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: make(map[int64]*database.UserProfile),
		now:      time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

var errStoreDown = errors.New("store unavailable")

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetUserProfile(_ context.Context, userID int64) (*database.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, userID int64, patch database.ProfilePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdates {
		return errStoreDown
	}
	p, ok := f.profiles[userID]
	if !ok {
		p = &database.UserProfile{UserID: userID}
		f.profiles[userID] = p
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Age != nil {
		p.Age = *patch.Age
		f.ageUpdates++
	}
	if patch.Interests != nil {
		p.Interests = *patch.Interests
	}
	return nil
}

func (f *fakeStore) TouchLastRequest(context.Context, int64) error { return nil }

func (f *fakeStore) AppendExchange(_ context.Context, userID int64, userText, assistantText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failExchanges {
		return errStoreDown
	}
	for _, entry := range []struct{ role, content string }{
		{database.RoleUser, userText},
		{database.RoleAssistant, assistantText},
	} {
		f.nextID++
		f.messages = append(f.messages, database.Message{
			ID:        f.nextID,
			UserID:    userID,
			Role:      entry.role,
			Content:   entry.content,
			Timestamp: f.now,
		})
	}
	return nil
}

func (f *fakeStore) GetMessageHistory(_ context.Context, userID int64, limit int) ([]database.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Message
	for _, m := range f.messages {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) CountUserMessagesToday(_ context.Context, userID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	y, mo, d := f.now.Date()
	for _, m := range f.messages {
		my, mmo, md := m.Timestamp.Date()
		if m.UserID == userID && m.Role == database.RoleUser && my == y && mmo == mo && md == d {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) DailyUsage(context.Context) (map[int64]int, error) {
	return map[int64]int{}, nil
}

func (f *fakeStore) DeleteUserData(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.profiles, userID)
	kept := f.messages[:0]
	for _, m := range f.messages {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	f.messages = kept
	return nil
}

func (f *fakeStore) RunMaintenance(context.Context) error { return nil }

func (f *fakeStore) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// fakeGenerator implements Generator with a configurable function.
type fakeGenerator struct {
	fn func(ctx context.Context, profile *database.UserProfile, history []database.Message, message string) (string, error)
}

func (g *fakeGenerator) GenerateReply(ctx context.Context, profile *database.UserProfile, history []database.Message, message string) (string, error) {
	if g.fn != nil {
		return g.fn(ctx, profile, history, message)
	}
	return "echo: " + message, nil
}

func newTestManager(store database.Store, gen Generator) *Manager {
	return NewManager(store, gen, nil, Options{
		MaxDailyMessages:   3,
		MaxHistoryMessages: 10,
		GenerationTimeout:  5 * time.Second,
	})
}

func replyKeys(replies []Reply) []string {
	keys := make([]string, 0, len(replies))
	for _, r := range replies {
		keys = append(keys, r.Key)
	}
	return keys
}

func TestOnboardingOrder(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	mgr := newTestManager(store, &fakeGenerator{})
	ctx := context.Background()
	const userID = int64(100)

	steps := []struct {
		input    string
		wantKeys []string
	}{
		{"hello there", []string{KeyOnboardingIntro, KeyAskName}},
		{"Vanya", []string{KeyAskAge}},
		{"12", []string{KeyAskInterests}},
		{"football", []string{KeyChatIntro}},
	}

	for i, step := range steps {
		replies, err := mgr.HandleMessage(ctx, userID, step.input)
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		got := replyKeys(replies)
		if len(got) != len(step.wantKeys) {
			t.Fatalf("step %d: got %d replies %v, want %v", i, len(got), got, step.wantKeys)
		}
		for j, key := range step.wantKeys {
			if got[j] != key {
				t.Errorf("step %d reply %d: got key %q, want %q", i, j, got[j], key)
			}
		}
	}

	profile, err := store.GetUserProfile(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error reading profile: %v", err)
	}
	if profile == nil {
		t.Fatal("expected profile to exist after onboarding")
	}
	if profile.Name != "Vanya" || profile.Age != "12" || profile.Interests != "football" {
		t.Errorf("profile = %q/%q/%q, want Vanya/12/football", profile.Name, profile.Age, profile.Interests)
	}

	state, err := mgr.StateOf(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error reading state: %v", err)
	}
	if state != StateChatting {
		t.Errorf("final state = %v, want %v", state, StateChatting)
	}

	// Onboarding answers never reach the message log
	if n := store.messageCount(); n != 0 {
		t.Errorf("message log has %d entries after onboarding, want 0", n)
	}
}

func TestIdempotentResume(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	const userID = int64(101)
	store.profiles[userID] = &database.UserProfile{UserID: userID, Name: "Olya"}

	mgr := newTestManager(store, &fakeGenerator{})
	ctx := context.Background()

	replies, err := mgr.HandleMessage(ctx, userID, "13")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replies) != 1 || replies[0].Key != KeyAskInterests {
		t.Fatalf("got replies %v, want [%s]: a profile with name set must resume at the age question, not re-ask the name", replyKeys(replies), KeyAskInterests)
	}

	profile, _ := store.GetUserProfile(ctx, userID)
	if profile.Name != "Olya" {
		t.Errorf("name overwritten on resume: got %q, want Olya", profile.Name)
	}
	if profile.Age != "13" {
		t.Errorf("age = %q, want 13", profile.Age)
	}
}

func TestReturningUserShortcut(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	const userID = int64(102)
	store.profiles[userID] = &database.UserProfile{
		UserID: userID, Name: "Petya", Age: "14", Interests: "chess",
	}

	mgr := newTestManager(store, &fakeGenerator{})
	ctx := context.Background()

	replies, err := mgr.HandleMessage(ctx, userID, "what is a gambit?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(replies) != 1 || replies[0].Text != "echo: what is a gambit?" {
		t.Fatalf("got replies %+v, want the generated answer: a complete profile must land directly in chatting", replies)
	}
}

func TestRateLimitBoundary(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	const userID = int64(103)
	store.profiles[userID] = &database.UserProfile{
		UserID: userID, Name: "Dasha", Age: "11", Interests: "drawing",
	}

	mgr := newTestManager(store, &fakeGenerator{}) // limit 3
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := mgr.HandleMessage(ctx, userID, fmt.Sprintf("question %d", i)); err != nil {
			t.Fatalf("message %d: unexpected error: %v", i, err)
		}
	}

	before := store.messageCount()
	_, err := mgr.HandleMessage(ctx, userID, "question 4")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("4th message: got err %v, want ErrRateLimited", err)
	}
	if after := store.messageCount(); after != before {
		t.Errorf("rejected message changed the log: %d -> %d entries", before, after)
	}

	// Day rolls over: the budget resets
	store.mu.Lock()
	store.now = store.now.Add(24 * time.Hour)
	store.mu.Unlock()

	if _, err := mgr.HandleMessage(ctx, userID, "question 5"); err != nil {
		t.Fatalf("message after day rollover: unexpected error: %v", err)
	}
}

func TestConcurrentSameUserOnboarding(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	const userID = int64(104)
	store.profiles[userID] = &database.UserProfile{UserID: userID, Name: "Kostya"}

	mgr := newTestManager(store, &fakeGenerator{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, text := range []string{"15", "16"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			if _, err := mgr.HandleMessage(ctx, userID, text); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(text)
	}
	wg.Wait()

	store.mu.Lock()
	ageUpdates := store.ageUpdates
	store.mu.Unlock()
	if ageUpdates != 1 {
		t.Errorf("age was updated %d times, want exactly 1", ageUpdates)
	}

	profile, _ := store.GetUserProfile(ctx, userID)
	if profile.Age != "15" && profile.Age != "16" {
		t.Errorf("age = %q, want one of the two delivered messages", profile.Age)
	}
	// The second message was consumed by the next onboarding step, not
	// replayed against awaiting_age
	if profile.Interests == "" {
		t.Error("second concurrent message was lost instead of advancing onboarding")
	}
}

func TestGeneratorFailureLeavesLogUntouched(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	const userID = int64(105)
	store.profiles[userID] = &database.UserProfile{
		UserID: userID, Name: "Lena", Age: "10", Interests: "cats",
	}

	gen := &fakeGenerator{
		fn: func(context.Context, *database.UserProfile, []database.Message, string) (string, error) {
			return "", errors.New("model unavailable")
		},
	}
	mgr := newTestManager(store, gen)
	ctx := context.Background()

	before := store.messageCount()
	_, err := mgr.HandleMessage(ctx, userID, "why do cats purr?")

	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("got err %v, want *GenerationError", err)
	}
	if after := store.messageCount(); after != before {
		t.Errorf("failed generation changed the log: %d -> %d entries", before, after)
	}

	state, _ := mgr.StateOf(ctx, userID)
	if state != StateChatting {
		t.Errorf("state = %v after failure, want %v", state, StateChatting)
	}

	// Retry on the next message succeeds
	gen.fn = nil
	replies, err := mgr.HandleMessage(ctx, userID, "why do cats purr?")
	if err != nil {
		t.Fatalf("retry: unexpected error: %v", err)
	}
	if len(replies) != 1 || replies[0].Text == "" {
		t.Fatalf("retry: got replies %+v, want a generated answer", replies)
	}
}

func TestBusyRejectsConcurrentChatMessage(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	const userID = int64(106)
	store.profiles[userID] = &database.UserProfile{
		UserID: userID, Name: "Misha", Age: "12", Interests: "lego",
	}

	started := make(chan struct{})
	release := make(chan struct{})
	gen := &fakeGenerator{
		fn: func(_ context.Context, _ *database.UserProfile, _ []database.Message, message string) (string, error) {
			close(started)
			<-release
			return "answer to " + message, nil
		},
	}
	mgr := newTestManager(store, gen)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := mgr.HandleMessage(ctx, userID, "first question")
		done <- err
	}()

	<-started
	_, err := mgr.HandleMessage(ctx, userID, "second question")
	if !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent chat message: got err %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first message: unexpected error: %v", err)
	}
	if n := store.messageCount(); n != 2 {
		t.Errorf("message log has %d entries, want 2 (one committed exchange)", n)
	}
}

func TestPersistenceFailureSurfaces(t *testing.T) {
	t.Parallel()

	t.Run("profile write failure", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		mgr := newTestManager(store, &fakeGenerator{})
		ctx := context.Background()
		const userID = int64(107)

		if _, err := mgr.HandleMessage(ctx, userID, "hi"); err != nil {
			t.Fatalf("first message: unexpected error: %v", err)
		}

		store.mu.Lock()
		store.failUpdates = true
		store.mu.Unlock()

		_, err := mgr.HandleMessage(ctx, userID, "Sveta")
		var persistErr *PersistenceError
		if !errors.As(err, &persistErr) {
			t.Fatalf("got err %v, want *PersistenceError", err)
		}

		// The failed transition must not advance state
		state, stateErr := mgr.StateOf(ctx, userID)
		if stateErr != nil {
			t.Fatalf("unexpected error reading state: %v", stateErr)
		}
		if state != StateAwaitingName {
			t.Errorf("state = %v after failed write, want %v", state, StateAwaitingName)
		}
	})

	t.Run("exchange write failure", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore()
		store.failExchanges = true
		const userID = int64(108)
		store.profiles[userID] = &database.UserProfile{
			UserID: userID, Name: "Yura", Age: "13", Interests: "space",
		}

		mgr := newTestManager(store, &fakeGenerator{})
		_, err := mgr.HandleMessage(context.Background(), userID, "how far is Mars?")
		var persistErr *PersistenceError
		if !errors.As(err, &persistErr) {
			t.Fatalf("got err %v, want *PersistenceError", err)
		}
	})
}

func TestRestart(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	const userID = int64(109)
	store.profiles[userID] = &database.UserProfile{
		UserID: userID, Name: "Ira", Age: "14", Interests: "music",
	}

	mgr := newTestManager(store, &fakeGenerator{})
	ctx := context.Background()

	replies, err := mgr.Restart(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := replyKeys(replies)
	if len(got) != 2 || got[0] != KeyOnboardingIntro || got[1] != KeyAskName {
		t.Fatalf("got replies %v, want intro and name question", got)
	}

	// Re-answering overwrites stored fields one by one
	if _, err := mgr.HandleMessage(ctx, userID, "Irina"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	profile, _ := store.GetUserProfile(ctx, userID)
	if profile.Name != "Irina" {
		t.Errorf("name = %q after restart answer, want Irina", profile.Name)
	}
	if profile.Age != "14" {
		t.Errorf("age = %q, want untouched 14", profile.Age)
	}
}

func TestResetClearsUserData(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	const userID = int64(110)
	store.profiles[userID] = &database.UserProfile{
		UserID: userID, Name: "Tanya", Age: "12", Interests: "books",
	}

	mgr := newTestManager(store, &fakeGenerator{})
	ctx := context.Background()

	if _, err := mgr.HandleMessage(ctx, userID, "what is 2+2?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state, _ := mgr.StateOf(ctx, userID); state != StateChatting {
		t.Fatalf("state = %v, want %v", state, StateChatting)
	}

	if err := mgr.Reset(ctx, userID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	profile, err := store.GetUserProfile(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile != nil {
		t.Errorf("profile still present after reset: %+v", profile)
	}
	if n := store.messageCount(); n != 0 {
		t.Errorf("message log has %d entries after reset, want 0", n)
	}

	state, err := mgr.StateOf(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != StateNew {
		t.Errorf("state = %v after reset, want %v", state, StateNew)
	}
}

func TestResetDuringGenerationRejected(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	const userID = int64(111)
	store.profiles[userID] = &database.UserProfile{
		UserID: userID, Name: "Zhenya", Age: "13", Interests: "robots",
	}

	started := make(chan struct{})
	release := make(chan struct{})
	gen := &fakeGenerator{
		fn: func(_ context.Context, _ *database.UserProfile, _ []database.Message, message string) (string, error) {
			close(started)
			<-release
			return "answer to " + message, nil
		},
	}
	mgr := newTestManager(store, gen)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := mgr.HandleMessage(ctx, userID, "how do motors work?")
		done <- err
	}()

	<-started
	if err := mgr.Reset(ctx, userID); !errors.Is(err, ErrBusy) {
		t.Errorf("reset during generation: got err %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("in-flight message: unexpected error: %v", err)
	}

	// The rejected reset left the exchange intact: committed entries still
	// have their profile row, no orphans
	profile, err := store.GetUserProfile(ctx, userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile == nil {
		t.Fatal("profile missing after rejected reset")
	}
	if n := store.messageCount(); n != 2 {
		t.Errorf("message log has %d entries, want 2", n)
	}
}
