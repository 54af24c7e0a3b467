package state

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mytonstorage-dashboard/pkg/models"
	"mytonstorage-dashboard/pkg/models/db"
)

type Repository interface {
	GetState(ctx context.Context, profile string) (record db.StateRecord, err error)
	SaveState(ctx context.Context, record db.StateRecord) (err error)
}

type repository struct {
	db *pgxpool.Pool
}

func (r *repository) GetState(ctx context.Context, profile string) (record db.StateRecord, err error) {
	query := `
		SELECT profile, version, blob, extract(epoch from updated_at)::bigint
		FROM dashboard.state
		WHERE profile = $1
		LIMIT 1;
	`

	err = r.db.QueryRow(ctx, query, profile).Scan(&record.Profile, &record.Version, &record.Blob, &record.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		err = models.ErrNotFound
	}

	return
}

func (r *repository) SaveState(ctx context.Context, record db.StateRecord) (err error) {
	query := `
		INSERT INTO dashboard.state (profile, version, blob)
		VALUES (
			$1,
			$2,
			$3
		)
		ON CONFLICT (profile) DO UPDATE
		SET version = EXCLUDED.version,
			blob = EXCLUDED.blob,
			updated_at = now();
	`

	_, err = r.db.Exec(ctx, query, record.Profile, record.Version, record.Blob)

	return
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{
		db: db,
	}
}
