package auth

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SessionManager owns the process wide view of who is signed in and with
// what role. State is mutated only by the manager, in response to backend
// events or to SignIn, SignUp and SignOut; everyone else reads snapshots.
//
// Every change is tagged with a generation. Role derivations started for an
// older generation are cancelled and their results dropped, so a slow lookup
// can never overwrite the role of a newer session.
type SessionManager struct {
	backend        IdentityBackend
	resolver       *RoleResolver
	provisioner    *Provisioner
	register       *RegisterAccountHandler
	notifier       Notifier
	activitySink   ActivitySink
	logger         Logger
	loggerProvider LoggerProvider
	now            func() time.Time

	stateMu sync.RWMutex
	state   State

	// publishMu serializes publication and listener delivery.
	publishMu  sync.Mutex
	generation atomic.Uint64

	// tokensMu guards endedTokens and lastToken. Snapshots carrying an
	// ended token are published as signed out.
	tokensMu    sync.Mutex
	endedTokens []string
	lastToken   string

	derivationMu     sync.Mutex
	cancelDerivation context.CancelFunc

	listenersMu    sync.Mutex
	listeners      map[uint64]StateListener
	nextListenerID uint64

	lifecycleMu sync.Mutex
	started     bool
	stop        context.CancelFunc
	done        chan struct{}
}

// SessionManagerOption customizes a SessionManager.
type SessionManagerOption func(*SessionManager)

// WithSessionManagerLogger overrides the logger.
func WithSessionManagerLogger(logger Logger) SessionManagerOption {
	return func(m *SessionManager) {
		m.loggerProvider, m.logger = ResolveLogger("auth.session_manager", nil, logger)
	}
}

// WithSessionManagerLoggerProvider resolves scoped loggers from provider.
func WithSessionManagerLoggerProvider(provider LoggerProvider) SessionManagerOption {
	return func(m *SessionManager) {
		m.loggerProvider, m.logger = ResolveLogger("auth.session_manager", provider, m.logger)
	}
}

// WithSessionManagerNotifier sets where user visible notifications go.
func WithSessionManagerNotifier(notifier Notifier) SessionManagerOption {
	return func(m *SessionManager) {
		m.notifier = normalizeNotifier(notifier)
	}
}

// WithSessionManagerActivitySink sets the ActivitySink used to publish auth events.
func WithSessionManagerActivitySink(sink ActivitySink) SessionManagerOption {
	return func(m *SessionManager) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithSessionManagerClock injects a custom clock (useful for tests).
func WithSessionManagerClock(clock func() time.Time) SessionManagerOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithSessionManagerProvisioner overrides the Provisioner used by SignUp.
func WithSessionManagerProvisioner(p *Provisioner) SessionManagerOption {
	return func(m *SessionManager) {
		m.provisioner = p
	}
}

// NewSessionManager returns a manager in the initializing phase. Call Start
// (or Initialize) to resolve the first session.
func NewSessionManager(backend IdentityBackend, profiles ProfileStore, opts ...SessionManagerOption) *SessionManager {
	loggerProvider, logger := ResolveLogger("auth.session_manager", nil, nil)
	m := &SessionManager{
		backend:        backend,
		notifier:       noopNotifier{},
		activitySink:   noopActivitySink{},
		logger:         logger,
		loggerProvider: loggerProvider,
		now:            time.Now,
		state:          InitialState(),
		listeners:      map[uint64]StateListener{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	_, resolverLogger := ResolveLogger("auth.role_resolver", m.loggerProvider, m.logger)
	m.resolver = NewRoleResolver(profiles, resolverLogger)

	if m.provisioner == nil {
		m.provisioner = NewProvisioner(backend, profiles,
			WithProvisionerLoggerProvider(m.loggerProvider),
			WithProvisionerActivitySink(m.activitySink),
			WithProvisionerClock(m.now),
		)
	}
	m.register = NewRegisterAccountHandler(m.provisioner)

	return m
}

// State returns a snapshot of the current state.
func (m *SessionManager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state.clone()
}

// Subscribe registers listener for every published snapshot and returns the
// function that removes it. Listeners run synchronously in publication order
// and must not call SignIn, SignUp or SignOut from within the callback.
func (m *SessionManager) Subscribe(listener StateListener) (unsubscribe func()) {
	if listener == nil {
		return func() {}
	}

	m.listenersMu.Lock()
	id := m.nextListenerID
	m.nextListenerID++
	m.listeners[id] = listener
	m.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenersMu.Lock()
			delete(m.listeners, id)
			m.listenersMu.Unlock()
		})
	}
}

// Start subscribes to backend session events, resolves the initial session
// and then processes events one at a time until Close is called or ctx is
// done. Start returns once the initial session has been resolved.
func (m *SessionManager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	if m.started {
		m.lifecycleMu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	events, err := m.backend.Subscribe(runCtx)
	if err != nil {
		m.lifecycleMu.Unlock()
		cancel()
		m.logger.Error("error setting up session listener", "error", err)
		m.Initialize(ctx)
		return wrapError(ErrSessionLookup, err, map[string]any{"operation": "subscribe"})
	}

	m.started = true
	m.stop = cancel
	m.done = make(chan struct{})
	done := m.done
	m.lifecycleMu.Unlock()

	ready := make(chan struct{})
	go m.run(runCtx, events, ready, done)

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Close releases the backend subscription and waits for the event loop.
func (m *SessionManager) Close() error {
	m.lifecycleMu.Lock()
	if !m.started {
		m.lifecycleMu.Unlock()
		return nil
	}
	m.started = false
	stop, done := m.stop, m.done
	m.lifecycleMu.Unlock()

	stop()
	<-done

	m.derivationMu.Lock()
	if m.cancelDerivation != nil {
		m.cancelDerivation()
		m.cancelDerivation = nil
	}
	m.derivationMu.Unlock()

	return nil
}

func (m *SessionManager) run(ctx context.Context, events <-chan SessionEvent, ready, done chan struct{}) {
	defer close(done)

	// Events queued while the initial lookup runs are newer than its result,
	// so they are applied after it.
	m.Initialize(ctx)
	close(ready)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ctx, event)
		}
	}
}

// Initialize resolves the session the backend already holds (page reload or
// resume) and moves the manager to the ready phase. A failing backend lookup
// still ends in the ready phase, signed out.
func (m *SessionManager) Initialize(ctx context.Context) State {
	session, err := m.backend.CurrentSession(ctx)
	if err != nil {
		lookupErr := wrapError(ErrSessionLookup, err, nil)
		m.logger.Error("error retrieving session", "error", err)
		m.notify(ctx, NotificationError, msgBackendUnavailable, lookupErr)
		session = nil
	}

	if session.IsExpired(m.now()) {
		m.logger.Info("stored session expired", "identity_id", session.IdentityID)
		session = nil
	}

	state, _ := m.apply(ctx, session)
	return state
}

func (m *SessionManager) handleEvent(ctx context.Context, event SessionEvent) {
	session := event.Session
	switch event.Kind {
	case SessionEventSignedOut, SessionEventExpired:
		session = nil
	}

	expired := event.Kind == SessionEventExpired
	if session.IsExpired(m.now()) {
		session = nil
		expired = true
	}

	current := m.State()
	switch event.Kind {
	case SessionEventSignedIn, SessionEventInitial:
		if session != nil && current.Session != nil && session.AccessToken == current.Session.AccessToken {
			m.logger.Debug("session event already applied", "kind", event.Kind, "identity_id", session.IdentityID)
			return
		}
	case SessionEventTokenRefreshed, SessionEventUserUpdated:
		if session != nil && current.Session == nil {
			m.logger.Debug("ignoring session event while signed out", "kind", event.Kind, "identity_id", session.IdentityID)
			return
		}
	}

	m.logger.Debug("session event", "kind", event.Kind, "signed_in", session != nil)
	m.apply(ctx, session)

	if expired {
		m.notify(ctx, NotificationInfo, msgSessionExpired, nil)
	}
}

// SignIn authenticates against the backend and publishes the new session
// together with its derived role.
func (m *SessionManager) SignIn(ctx context.Context, email, password string) (State, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	var err error
	switch {
	case email == "":
		err = validationError("email", "is required")
	case password == "":
		err = validationError("password", "is required")
	}
	if err != nil {
		m.notify(ctx, NotificationError, msgSignInFailure, err)
		return m.State(), err
	}

	session, err := m.backend.Authenticate(ctx, email, password)
	if err == nil && session == nil {
		err = wrapError(ErrAuthentication, nil, map[string]any{"reason": "backend returned no session"})
	}
	if err != nil {
		authErr := classifyAuthenticationError(err, email)
		m.logger.Error("sign in failed", "email", email, "error", err)
		m.notify(ctx, NotificationError, msgSignInFailure, authErr)
		m.record(ctx, ActivityEvent{
			EventType: ActivityEventSignInFailure,
			Email:     email,
			Metadata:  map[string]any{"error": authErr.Error()},
		})
		return m.State(), authErr
	}

	m.setLastToken(session.AccessToken)

	state, ok := m.apply(ctx, session)
	if !ok {
		state = m.signedInState(ctx, session)
	}
	m.notify(ctx, NotificationSuccess, msgSignInSuccess, nil)
	m.record(ctx, ActivityEvent{
		EventType:  ActivityEventSignInSuccess,
		IdentityID: session.IdentityID,
		Email:      email,
		Role:       state.Role,
	})

	return state, nil
}

// SignUp registers a new account. When the backend signs the new identity in
// right away the session is published before SignUp returns; otherwise the
// caller has to SignIn explicitly.
func (m *SessionManager) SignUp(ctx context.Context, req RegistrationRequest) (*RegistrationResult, error) {
	msg := &RegisterAccountMessage{Request: req}
	err := m.register.Execute(ctx, msg)
	result := msg.Result

	switch {
	case err == nil && result != nil && result.Session != nil:
		m.notify(ctx, NotificationSuccess, msgSignUpSignedIn, nil)
	case err == nil:
		m.notify(ctx, NotificationSuccess, msgSignUpSuccess, nil)
	case IsProfileCreationPartialFailure(err):
		m.notify(ctx, NotificationError, msgProfileNotSaved, err)
	case IsValidationError(err):
		m.notify(ctx, NotificationError, msgInvalidRegistration, err)
	case IsEmailAlreadyRegistered(err):
		m.notify(ctx, NotificationError, msgEmailAlreadyInUse, err)
	default:
		m.notify(ctx, NotificationError, msgSignUpFailure, err)
	}

	if result != nil && result.Session != nil {
		m.setLastToken(result.Session.AccessToken)
		m.apply(ctx, result.Session)
	}

	return result, err
}

// SignOut ends the backend session. Local state is cleared even when the
// backend call fails; that failure is still returned.
func (m *SessionManager) SignOut(ctx context.Context) error {
	previous := m.State()
	if previous.Session != nil {
		m.endToken(previous.Session.AccessToken)
	}
	m.endToken(m.takeLastToken())

	backendErr := m.backend.EndSession(ctx)

	m.apply(ctx, nil)

	if backendErr != nil {
		err := wrapError(ErrSignOut, backendErr, map[string]any{"identity_id": previous.IdentityID()})
		m.logger.Error("sign out failed, local session cleared", "identity_id", previous.IdentityID(), "error", backendErr)
		m.notify(ctx, NotificationError, msgSignOutFailure, err)
		m.record(ctx, ActivityEvent{
			EventType:  ActivityEventSignOutFailure,
			IdentityID: previous.IdentityID(),
			Role:       previous.Role,
			Metadata:   map[string]any{"error": backendErr.Error()},
		})
		return err
	}

	m.notify(ctx, NotificationSuccess, msgSignOutSuccess, nil)
	m.record(ctx, ActivityEvent{
		EventType:  ActivityEventSignOut,
		IdentityID: previous.IdentityID(),
		Role:       previous.Role,
	})
	return nil
}

// apply replaces the session and publishes it with its role as one snapshot.
// The boolean is false when a newer change superseded this one.
func (m *SessionManager) apply(ctx context.Context, session *Session) (State, bool) {
	generation, derivationCtx, cancel := m.beginDerivation(ctx)
	defer cancel()

	next := State{
		Session: session.Clone(),
		Role:    RoleClient,
		Phase:   PhaseReady,
	}

	if next.Session != nil {
		next.Role = m.resolver.Resolve(derivationCtx, next.Session.IdentityID)
	}

	published, changed, ok := m.publish(generation, next)
	if !ok {
		m.logger.Debug("discarded stale role derivation", "generation", generation, "identity_id", next.IdentityID())
		return m.State(), false
	}

	if changed && published.Session != nil {
		m.record(ctx, ActivityEvent{
			EventType:  ActivityEventRoleDerived,
			IdentityID: published.Session.IdentityID,
			Email:      published.Session.Email,
			Role:       published.Role,
		})
	}

	return published.clone(), true
}

// signedInState is the SignIn result when a newer change won the
// publication. The role is resolved again because the superseded derivation
// was cancelled.
func (m *SessionManager) signedInState(ctx context.Context, session *Session) State {
	current := m.State()
	if current.IdentityID() == session.IdentityID || m.tokenEnded(session.AccessToken) {
		return current
	}
	return State{
		Session: session.Clone(),
		Role:    m.resolver.Resolve(ctx, session.IdentityID),
		Phase:   PhaseReady,
	}
}

func (m *SessionManager) beginDerivation(ctx context.Context) (uint64, context.Context, context.CancelFunc) {
	m.derivationMu.Lock()
	defer m.derivationMu.Unlock()

	if m.cancelDerivation != nil {
		m.cancelDerivation()
	}

	generation := m.generation.Add(1)
	derivationCtx, cancel := context.WithCancel(ctx)
	m.cancelDerivation = cancel

	return generation, derivationCtx, cancel
}

func (m *SessionManager) publish(generation uint64, next State) (State, bool, bool) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	if generation != m.generation.Load() {
		return State{}, false, false
	}

	if next.Session != nil && m.tokenEnded(next.Session.AccessToken) {
		m.logger.Debug("session was ended locally, publishing signed out", "identity_id", next.IdentityID())
		next = State{Role: RoleClient, Phase: PhaseReady}
	}

	m.stateMu.Lock()
	changed := !sameSnapshot(m.state, next)
	m.state = next
	m.stateMu.Unlock()

	if !changed {
		return next, false, true
	}

	m.listenersMu.Lock()
	listeners := make([]StateListener, 0, len(m.listeners))
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}
	m.listenersMu.Unlock()

	for _, listener := range listeners {
		listener(next.clone())
	}

	return next, true, true
}

const maxEndedTokens = 16

func (m *SessionManager) endToken(token string) {
	if token == "" {
		return
	}
	m.tokensMu.Lock()
	defer m.tokensMu.Unlock()
	if slices.Contains(m.endedTokens, token) {
		return
	}
	m.endedTokens = append(m.endedTokens, token)
	if len(m.endedTokens) > maxEndedTokens {
		m.endedTokens = slices.Delete(m.endedTokens, 0, len(m.endedTokens)-maxEndedTokens)
	}
}

func (m *SessionManager) tokenEnded(token string) bool {
	if token == "" {
		return false
	}
	m.tokensMu.Lock()
	defer m.tokensMu.Unlock()
	return slices.Contains(m.endedTokens, token)
}

func (m *SessionManager) setLastToken(token string) {
	m.tokensMu.Lock()
	m.lastToken = token
	m.tokensMu.Unlock()
}

func (m *SessionManager) takeLastToken() string {
	m.tokensMu.Lock()
	defer m.tokensMu.Unlock()
	token := m.lastToken
	m.lastToken = ""
	return token
}

func (m *SessionManager) notify(ctx context.Context, level NotificationLevel, message string, err error) {
	m.notifier.Notify(ctx, Notification{
		Level:   level,
		Message: message,
		Err:     err,
	})
}

func (m *SessionManager) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, m.activitySink, m.logger, m.now, event)
}

func sameSnapshot(a, b State) bool {
	if a.Phase != b.Phase || a.Role != b.Role {
		return false
	}
	if a.Session == nil || b.Session == nil {
		return a.Session == nil && b.Session == nil
	}
	return a.Session.IdentityID == b.Session.IdentityID &&
		a.Session.AccessToken == b.Session.AccessToken &&
		a.Session.IssuedAt.Equal(b.Session.IssuedAt)
}
