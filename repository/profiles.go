package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	auth "github.com/goliatone/go-marketplace-auth"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profiles is the bun backed provider profile store.
type Profiles interface {
	repository.Repository[*auth.Profile]
	auth.ProfileStore

	FindByIdentityTx(ctx context.Context, tx bun.IDB, identityID string) (*auth.Profile, error)
	InsertTx(ctx context.Context, tx bun.IDB, profile *auth.Profile) (*auth.Profile, error)
}

type profiles struct {
	repository.Repository[*auth.Profile]
	db *bun.DB
}

var (
	_ Profiles          = (*profiles)(nil)
	_ auth.ProfileStore = (*profiles)(nil)
)

// NewProfilesRepository returns a Profiles store keyed by identity id.
func NewProfilesRepository(db *bun.DB) Profiles {
	repo := repository.NewRepository[*auth.Profile](db, repository.ModelHandlers[*auth.Profile]{
		NewRecord: func() *auth.Profile { return &auth.Profile{} },
		GetID: func(p *auth.Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *auth.Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "user_id"
		},
	})

	return &profiles{
		Repository: repo,
		db:         db,
	}
}

// FindByIdentity returns the profile linked to identityID, or nil when there
// is none.
func (p *profiles) FindByIdentity(ctx context.Context, identityID string) (*auth.Profile, error) {
	return p.FindByIdentityTx(ctx, p.db, identityID)
}

func (p *profiles) FindByIdentityTx(ctx context.Context, tx bun.IDB, identityID string) (*auth.Profile, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return nil, nil
	}

	record := &auth.Profile{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", identityID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// Insert creates the profile. A second profile for the same identity fails
// on the unique user_id constraint.
func (p *profiles) Insert(ctx context.Context, profile *auth.Profile) (*auth.Profile, error) {
	return p.InsertTx(ctx, p.db, profile)
}

func (p *profiles) InsertTx(ctx context.Context, tx bun.IDB, profile *auth.Profile) (*auth.Profile, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if strings.TrimSpace(profile.IdentityID) == "" {
		return nil, errors.New("profile identity id is required")
	}
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}

	return p.CreateTx(ctx, tx, profile)
}
