package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgDocumentName = "patients"

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a Store that keeps the JSON document in a single jsonb row
// of the patient_document table (see db.EnsureSchema).
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Load(ctx context.Context) (Collection, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM patient_document WHERE name = $1`, pgDocumentName,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Collection{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select patient_document: %v", ErrStorage, err)
	}
	return decodeCollection(data)
}

func (s *pgStore) Save(ctx context.Context, c Collection) error {
	data, err := encodeCollection(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO patient_document (name, body, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()`,
		pgDocumentName, string(data))
	if err != nil {
		return fmt.Errorf("%w: upsert patient_document: %v", ErrStorage, err)
	}
	return nil
}

func (s *pgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
