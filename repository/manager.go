package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	auth "github.com/goliatone/go-marketplace-auth"
	"github.com/uptrace/bun"
)

// Manager groups the repositories backed by one database.
type Manager struct {
	db       *bun.DB
	profiles Profiles
}

// NewManager returns a Manager for db.
func NewManager(db *bun.DB) *Manager {
	return &Manager{
		db:       db,
		profiles: NewProfilesRepository(db),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// Migrate creates the tables owned by this package when missing.
func (m *Manager) Migrate(ctx context.Context) error {
	_, err := m.db.NewCreateTable().
		Model((*auth.Profile)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m *Manager) Profiles() Profiles {
	return m.profiles
}
