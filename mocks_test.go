package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockProfileStore implements ProfileStore
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) FindByIdentity(ctx context.Context, identityID string) (*Profile, error) {
	args := m.Called(ctx, identityID)
	profile, _ := args.Get(0).(*Profile)
	return profile, args.Error(1)
}

func (m *MockProfileStore) Insert(ctx context.Context, profile *Profile) (*Profile, error) {
	args := m.Called(ctx, profile)
	created, _ := args.Get(0).(*Profile)
	return created, args.Error(1)
}

// memoryProfiles is an in memory ProfileStore.
type memoryProfiles struct {
	mu        sync.Mutex
	records   map[string]*Profile
	insertErr error
	findErr   error
	finds     int
}

func newMemoryProfiles() *memoryProfiles {
	return &memoryProfiles{records: map[string]*Profile{}}
}

func (s *memoryProfiles) FindByIdentity(ctx context.Context, identityID string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.records[identityID], nil
}

func (s *memoryProfiles) Insert(ctx context.Context, profile *Profile) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	if _, ok := s.records[profile.IdentityID]; ok {
		return nil, errors.New("UNIQUE constraint failed: service_providers.user_id")
	}
	cp := *profile
	s.records[profile.IdentityID] = &cp
	return &cp, nil
}

func (s *memoryProfiles) findCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds
}

// fakeBackend is an IdentityBackend driven by the test. Like the local
// identity backend it emits signed_in and signed_out events for its own
// operations; eventDelay delivers them asynchronously.
type fakeBackend struct {
	mu           sync.Mutex
	current      *Session
	currentErr   error
	authErr      error
	endErr       error
	subscribeErr error
	autoSession  bool
	identities   map[string]*Identity
	passwords    map[string]string
	createErr    error
	createCalls  int
	authCalls    int
	endCalls     int
	events       chan SessionEvent
	eventDelay   time.Duration
	tokens       atomic.Uint64
	now          func() time.Time
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		identities: map[string]*Identity{},
		passwords:  map[string]string{},
		events:     make(chan SessionEvent, 16),
		now:        time.Now,
	}
}

func (b *fakeBackend) CreateIdentity(ctx context.Context, email, password string, attrs IdentityAttributes) (*Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createCalls++
	if b.createErr != nil {
		return nil, b.createErr
	}
	if _, ok := b.identities[email]; ok {
		return nil, errors.New("User already registered")
	}

	identity := &Identity{
		ID:         "id-" + strings.Split(email, "@")[0],
		Email:      email,
		Attributes: attrs,
		CreatedAt:  b.now(),
	}
	b.identities[email] = identity
	b.passwords[email] = password

	if b.autoSession {
		identity.Session = b.sessionFor(identity)
		b.current = identity.Session
		b.emit(SessionEvent{Kind: SessionEventSignedIn, Session: identity.Session.Clone()})
	}
	return identity, nil
}

func (b *fakeBackend) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authCalls++
	if b.authErr != nil {
		return nil, b.authErr
	}
	identity, ok := b.identities[email]
	if !ok || b.passwords[email] != password {
		return nil, errors.New("Invalid login credentials")
	}
	b.current = b.sessionFor(identity)
	b.emit(SessionEvent{Kind: SessionEventSignedIn, Session: b.current.Clone()})
	return b.current.Clone(), nil
}

func (b *fakeBackend) EndSession(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endCalls++
	if b.endErr != nil {
		return b.endErr
	}
	if b.current != nil {
		b.current = nil
		b.emit(SessionEvent{Kind: SessionEventSignedOut})
	}
	return nil
}

func (b *fakeBackend) CurrentSession(ctx context.Context) (*Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.currentErr != nil {
		return nil, b.currentErr
	}
	return b.current.Clone(), nil
}

func (b *fakeBackend) Subscribe(ctx context.Context) (<-chan SessionEvent, error) {
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	return b.events, nil
}

func (b *fakeBackend) sessionFor(identity *Identity) *Session {
	return &Session{
		IdentityID:  identity.ID,
		Email:       identity.Email,
		Attributes:  identity.Attributes,
		IssuedAt:    b.now(),
		AccessToken: "token-" + identity.ID + "-" + strconv.FormatUint(b.tokens.Add(1), 10),
	}
}

// emit queues event without blocking; nobody reads the channel unless the
// manager was started.
func (b *fakeBackend) emit(event SessionEvent) {
	send := func() {
		select {
		case b.events <- event:
		default:
		}
	}
	if b.eventDelay <= 0 {
		send()
		return
	}
	go func() {
		time.Sleep(b.eventDelay)
		send()
	}()
}

func (b *fakeBackend) addIdentity(email, password string) *Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	identity := &Identity{ID: "id-" + strings.Split(email, "@")[0], Email: email}
	b.identities[email] = identity
	b.passwords[email] = password
	return identity
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
}

func (n *recordingNotifier) last() (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notifications) == 0 {
		return Notification{}, false
	}
	return n.notifications[len(n.notifications)-1], true
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notifications))
	for _, notification := range n.notifications {
		out = append(out, notification.Message)
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []ActivityEvent
	err    error
}

func (s *recordingSink) Record(_ context.Context, event ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) types() []ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActivityEventType, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.EventType)
	}
	return out
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) listen(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *stateRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
