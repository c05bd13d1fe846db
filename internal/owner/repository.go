package owner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abacopay/abaco/internal/ledger"
)

// ErrNotFound indicates no owner exists for the id.
var ErrNotFound = errors.New("owner not found")

// Repository persists owner identities.
type Repository interface {
	Create(ctx context.Context, o Owner) error
	Get(ctx context.Context, id string) (Owner, error)
}

// PostgresRepository stores owners in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts an owner record.
func (r *PostgresRepository) Create(ctx context.Context, o Owner) error {
	id, err := uuid.Parse(o.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO owners (id, owner_type, name, document, api_key_hash, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, id, o.Type, o.Name, o.Document, o.APIKeyHash, o.CreatedAt.UTC())
	return err
}

// Get fetches an owner by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Owner, error) {
	ownerID, err := uuid.Parse(id)
	if err != nil {
		return Owner{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, owner_type, name, document, api_key_hash, created_at
        FROM owners WHERE id = $1`, ownerID)

	var (
		o         Owner
		idVal     uuid.UUID
		ownerType string
		createdAt time.Time
	)
	if err := row.Scan(&idVal, &ownerType, &o.Name, &o.Document, &o.APIKeyHash, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Owner{}, ErrNotFound
		}
		return Owner{}, err
	}
	o.ID = idVal.String()
	o.Type = ledger.OwnerType(ownerType)
	o.CreatedAt = createdAt.UTC()
	return o, nil
}
