package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-query-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/crypto"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/database"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/models"
)

// DatasourceRepository reads data sources. Descriptors are returned decrypted.
type DatasourceRepository interface {
	// GetByID returns apperrors.ErrNotFound when the data source does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Datasource, error)
	ListActive(ctx context.Context) ([]*models.Datasource, error)
	// Create stores a data source, sealing the descriptor when a cipher is configured.
	Create(ctx context.Context, ds *models.Datasource) error
}

type datasourceRepository struct {
	db     *database.DB
	cipher *crypto.DescriptorCipher
}

// NewDatasourceRepository creates a datasource repository. cipher may be nil,
// in which case descriptors are stored and returned as plaintext.
func NewDatasourceRepository(db *database.DB, cipher *crypto.DescriptorCipher) DatasourceRepository {
	return &datasourceRepository{db: db, cipher: cipher}
}

var _ DatasourceRepository = (*datasourceRepository)(nil)

const datasourceColumns = `id, name, datasource_type, descriptor, is_active, created_at, updated_at`

func (r *datasourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Datasource, error) {
	row := r.db.QueryRow(ctx, `SELECT `+datasourceColumns+` FROM engine_datasources WHERE id = $1`, id)
	ds, err := r.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get datasource: %w", err)
	}
	return ds, nil
}

func (r *datasourceRepository) ListActive(ctx context.Context) ([]*models.Datasource, error) {
	rows, err := r.db.Query(ctx, `SELECT `+datasourceColumns+` FROM engine_datasources WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasources: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Datasource, 0)
	for rows.Next() {
		ds, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan datasource: %w", err)
		}
		result = append(result, ds)
	}
	return result, rows.Err()
}

func (r *datasourceRepository) Create(ctx context.Context, ds *models.Datasource) error {
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	stored := ds.Descriptor
	if r.cipher != nil {
		sealed, err := r.cipher.Seal(ds.Descriptor)
		if err != nil {
			return fmt.Errorf("failed to seal descriptor: %w", err)
		}
		stored = sealed
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO engine_datasources (id, name, datasource_type, descriptor, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ds.ID, ds.Name, ds.DatasourceType, stored, ds.IsActive, ds.CreatedAt, ds.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create datasource: %w", err)
	}
	return nil
}

func (r *datasourceRepository) scan(row rowScanner) (*models.Datasource, error) {
	var ds models.Datasource
	var stored string
	if err := row.Scan(&ds.ID, &ds.Name, &ds.DatasourceType, &stored, &ds.IsActive, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
		return nil, err
	}

	ds.Descriptor = stored
	if crypto.IsSealed(stored) {
		if r.cipher == nil {
			return nil, fmt.Errorf("datasource %s: %w", ds.ID, apperrors.ErrCredentialsKeyMismatch)
		}
		plain, err := r.cipher.Open(stored)
		if err != nil {
			return nil, fmt.Errorf("datasource %s: %w: %v", ds.ID, apperrors.ErrCredentialsKeyMismatch, err)
		}
		ds.Descriptor = plain
	}
	return &ds, nil
}
