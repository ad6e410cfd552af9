// Package identity is a local, bun backed identity service. Credentials are
// stored as bcrypt hashes and sessions are HS256 tokens. Session changes are
// fanned out to subscribers in the order they happen.
package identity

import (
	"context"
	"crypto/rand"
	"database/sql"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-marketplace-auth"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTokenTTL is the session lifetime when none is configured.
	DefaultTokenTTL = 24 * time.Hour
	// subscriberBuffer is the number of events queued per subscriber before
	// emitters wait.
	subscriberBuffer = 16
)

// Backend implements auth.IdentityBackend for a single signed in identity per
// process, the way a client side SDK holds its session.
type Backend struct {
	db         *bun.DB
	records    repository.Repository[*Record]
	tokens     *TokenIssuer
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   []string
	hashCost   int
	autoSignIn bool
	useHashid  bool
	logger     auth.Logger
	now        func() time.Time

	sessionMu sync.Mutex
	current   *auth.Session

	subsMu  sync.Mutex
	subs    map[uint64]*subscriber
	nextSub uint64
}

type subscriber struct {
	ch   chan auth.SessionEvent
	done <-chan struct{}
}

var _ auth.IdentityBackend = (*Backend)(nil)

// Option customizes a Backend.
type Option func(*Backend)

// WithSigningKey sets the HS256 key used for session tokens.
func WithSigningKey(key []byte) Option {
	return func(b *Backend) {
		if len(key) > 0 {
			b.signingKey = append([]byte(nil), key...)
		}
	}
}

// WithTokenTTL sets the session lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// WithIssuer sets the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(b *Backend) {
		b.issuer = issuer
	}
}

// WithAudience sets the token audience claim.
func WithAudience(audience ...string) Option {
	return func(b *Backend) {
		b.audience = append([]string(nil), audience...)
	}
}

// WithHashCost sets the bcrypt cost. Values outside bcrypt's range are ignored.
func WithHashCost(cost int) Option {
	return func(b *Backend) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			b.hashCost = cost
		}
	}
}

// WithAutoSignIn makes CreateIdentity sign the new identity in.
func WithAutoSignIn(enabled bool) Option {
	return func(b *Backend) {
		b.autoSignIn = enabled
	}
}

// WithHashidIDs derives identity ids from the email address so the same
// email always maps to the same id.
func WithHashidIDs(enabled bool) Option {
	return func(b *Backend) {
		b.useHashid = enabled
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(b *Backend) {
		_, b.logger = auth.ResolveLogger("identity.backend", nil, logger)
	}
}

// WithLoggerProvider resolves the logger from provider.
func WithLoggerProvider(provider auth.LoggerProvider) Option {
	return func(b *Backend) {
		_, b.logger = auth.ResolveLogger("identity.backend", provider, b.logger)
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(b *Backend) {
		if clock != nil {
			b.now = clock
		}
	}
}

// NewBackend returns a Backend storing identities in db. Without a signing
// key an ephemeral one is generated and sessions do not survive a restart.
func NewBackend(db *bun.DB, opts ...Option) *Backend {
	_, logger := auth.ResolveLogger("identity.backend", nil, nil)
	b := &Backend{
		db:       db,
		ttl:      DefaultTokenTTL,
		hashCost: passwordHashCost(),
		logger:   logger,
		now:      time.Now,
		subs:     map[uint64]*subscriber{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	if len(b.signingKey) == 0 {
		b.logger.Warn("no signing key configured, using an ephemeral key")
		b.signingKey = ephemeralKey()
	}

	b.records = NewRecordsRepository(db)
	b.tokens = NewTokenIssuer(b.signingKey, b.ttl, b.issuer, b.audience, b.now)

	return b
}

// NewBackendFromConfig returns a Backend using the token and sign up settings
// of cfg. opts are applied after the configured values.
func NewBackendFromConfig(db *bun.DB, cfg auth.Config, opts ...Option) *Backend {
	if cfg == nil {
		return NewBackend(db, opts...)
	}

	base := []Option{
		WithSigningKey([]byte(cfg.GetSigningKey())),
		WithTokenTTL(time.Duration(cfg.GetTokenExpiration()) * time.Hour),
		WithIssuer(cfg.GetIssuer()),
		WithAudience(cfg.GetAudience()...),
		WithAutoSignIn(cfg.GetAutoSignIn()),
	}
	return NewBackend(db, append(base, opts...)...)
}

// NewRecordsRepository returns the identity records repository, keyed by email.
func NewRecordsRepository(db *bun.DB) repository.Repository[*Record] {
	return repository.NewRepository[*Record](db, repository.ModelHandlers[*Record]{
		NewRecord: func() *Record { return &Record{} },
		GetID: func(r *Record) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *Record, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})
}

// Migrate creates the identities table when missing.
func (b *Backend) Migrate(ctx context.Context) error {
	_, err := b.db.NewCreateTable().
		Model((*Record)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// CreateIdentity stores a new identity. With auto sign in enabled the
// returned Identity carries the new session.
func (b *Backend) CreateIdentity(ctx context.Context, email, password string, attrs auth.IdentityAttributes) (*auth.Identity, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, goerrors.New("email and password are required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	existing, err := b.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken.Clone().WithMetadata(map[string]any{"email": email})
	}

	hash, err := HashPassword(password, b.hashCost)
	if err != nil {
		return nil, err
	}

	record := &Record{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		FullName:     attrs.FullName,
		Phone:        attrs.Phone,
	}
	if b.useHashid {
		if id, err := hashid.NewUUID(email); err == nil {
			record.ID = id
		}
	}

	created, err := b.records.Create(ctx, record)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return nil, ErrEmailTaken.Clone().WithMetadata(map[string]any{"email": email})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create identity")
	}
	if created == nil {
		created = record
	}

	identity := &auth.Identity{
		ID:         created.ID.String(),
		Email:      created.Email,
		Attributes: attributesOf(created),
		CreatedAt:  b.now(),
	}

	b.logger.Info("identity created", "identity_id", identity.ID, "auto_sign_in", b.autoSignIn)

	if b.autoSignIn {
		session, err := b.startSession(created, auth.SessionEventSignedIn)
		if err != nil {
			b.logger.Warn("auto sign in failed", "identity_id", identity.ID, "error", err)
		} else {
			identity.Session = session
		}
	}

	return identity, nil
}

// Authenticate checks the credentials and starts a session. Unknown emails
// and wrong passwords fail the same way.
func (b *Backend) Authenticate(ctx context.Context, email, password string) (*auth.Session, error) {
	email = normalizeEmail(email)

	record, err := b.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrInvalidLogin
	}

	if err := ComparePasswordAndHash(password, record.PasswordHash); err != nil {
		b.trackAttempt(ctx, record)
		return nil, ErrInvalidLogin
	}

	b.trackLogin(ctx, record)
	return b.startSession(record, auth.SessionEventSignedIn)
}

// EndSession signs the current identity out. It is a no op when nobody is
// signed in.
func (b *Backend) EndSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.sessionMu.Lock()
	previous := b.current
	b.current = nil
	b.sessionMu.Unlock()

	if previous != nil {
		b.emit(auth.SessionEvent{Kind: auth.SessionEventSignedOut})
	}
	return nil
}

// CurrentSession returns the active session. An expired session is dropped,
// reported to subscribers, and nil is returned.
func (b *Backend) CurrentSession(ctx context.Context) (*auth.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.sessionMu.Lock()
	session := b.current
	if session == nil {
		b.sessionMu.Unlock()
		return nil, nil
	}

	if _, err := b.tokens.Parse(session.AccessToken); err != nil {
		b.current = nil
		b.sessionMu.Unlock()

		if goerrors.Is(err, ErrSessionExpired) {
			b.logger.Info("session expired", "identity_id", session.IdentityID)
			b.emit(auth.SessionEvent{Kind: auth.SessionEventExpired})
			return nil, nil
		}
		return nil, err
	}
	b.sessionMu.Unlock()

	return session.Clone(), nil
}

// Restore resumes a session from a previously issued token, as after a page
// reload. Subscribers receive an initial_session event.
func (b *Backend) Restore(ctx context.Context, token string) (*auth.Session, error) {
	claims, err := b.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	record, err := b.findByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrTokenMalformed.Clone().WithMetadata(map[string]any{"reason": "unknown identity"})
	}

	session := sessionFromClaims(claims, token)
	b.sessionMu.Lock()
	b.current = session
	b.sessionMu.Unlock()

	b.emit(auth.SessionEvent{Kind: auth.SessionEventInitial, Session: session.Clone()})
	return session.Clone(), nil
}

// RefreshSession issues a new token for the signed in identity.
func (b *Backend) RefreshSession(ctx context.Context) (*auth.Session, error) {
	record, err := b.currentRecord(ctx)
	if err != nil {
		return nil, err
	}
	return b.startSession(record, auth.SessionEventTokenRefreshed)
}

// UpdateAttributes changes the signed in identity's attributes.
func (b *Backend) UpdateAttributes(ctx context.Context, attrs auth.IdentityAttributes) (*auth.Session, error) {
	record, err := b.currentRecord(ctx)
	if err != nil {
		return nil, err
	}

	record.FullName = attrs.FullName
	record.Phone = attrs.Phone
	now := b.now()
	record.UpdatedAt = &now

	if _, err := b.db.NewUpdate().
		Model(record).
		Column("full_name", "phone", "updated_at").
		WherePK().
		Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update identity")
	}

	return b.startSession(record, auth.SessionEventUserUpdated)
}

// Subscribe delivers session events until ctx is done, then closes the channel.
func (b *Backend) Subscribe(ctx context.Context) (<-chan auth.SessionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &subscriber{
		ch:   make(chan auth.SessionEvent, subscriberBuffer),
		done: ctx.Done(),
	}

	b.subsMu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = sub
	b.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		b.subsMu.Lock()
		delete(b.subs, id)
		close(sub.ch)
		b.subsMu.Unlock()
	}()

	return sub.ch, nil
}

func (b *Backend) emit(event auth.SessionEvent) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- auth.SessionEvent{Kind: event.Kind, Session: event.Session.Clone()}:
		case <-sub.done:
		}
	}
}

func (b *Backend) startSession(record *Record, kind auth.SessionEventKind) (*auth.Session, error) {
	token, claims, err := b.tokens.Issue(record)
	if err != nil {
		return nil, err
	}

	session := sessionFromClaims(claims, token)
	b.sessionMu.Lock()
	b.current = session
	b.sessionMu.Unlock()

	b.emit(auth.SessionEvent{Kind: kind, Session: session.Clone()})
	return session.Clone(), nil
}

func (b *Backend) currentRecord(ctx context.Context) (*Record, error) {
	session, err := b.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNotSignedIn
	}

	record, err := b.findByID(ctx, session.IdentityID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotSignedIn
	}
	return record, nil
}

func (b *Backend) findByEmail(ctx context.Context, email string) (*Record, error) {
	record, err := b.records.GetByIdentifier(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) || goerrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up identity")
	}
	return record, nil
}

func (b *Backend) findByID(ctx context.Context, id string) (*Record, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}

	record := &Record{}
	err = b.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if goerrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up identity")
	}
	return record, nil
}

func (b *Backend) trackAttempt(ctx context.Context, record *Record) {
	record.LoginAttempts++
	if _, err := b.db.NewUpdate().
		Model(record).
		Column("login_attempts").
		WherePK().
		Exec(ctx); err != nil {
		b.logger.Warn("failed to track login attempt", "identity_id", record.ID, "error", err)
	}
}

func (b *Backend) trackLogin(ctx context.Context, record *Record) {
	now := b.now()
	record.LoginAttempts = 0
	record.LastLoginAt = &now
	if _, err := b.db.NewUpdate().
		Model(record).
		Column("login_attempts", "last_login_at").
		WherePK().
		Exec(ctx); err != nil {
		b.logger.Warn("failed to track login", "identity_id", record.ID, "error", err)
	}
}

func sessionFromClaims(claims *Claims, token string) *auth.Session {
	session := &auth.Session{
		IdentityID: claims.Subject,
		Email:      claims.Email,
		Attributes: auth.IdentityAttributes{
			FullName: claims.FullName,
			Phone:    claims.Phone,
		},
		AccessToken: token,
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		session.ExpiresAt = &exp
	}
	return session
}

func attributesOf(r *Record) auth.IdentityAttributes {
	return auth.IdentityAttributes{FullName: r.FullName, Phone: r.Phone}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ephemeralKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return []byte(uuid.NewString() + uuid.NewString())
	}
	return key
}
