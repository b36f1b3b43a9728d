package models

import (
	"time"

	"github.com/google/uuid"
)

// Datasource types understood by the connection manager.
const (
	DatasourceTypePostgres  = "postgres"
	DatasourceTypeMySQL     = "mysql"
	DatasourceTypeSQLServer = "sqlserver"
	DatasourceTypeBigQuery  = "bigquery"
)

// Datasource is an external database the engine can query.
// It is owned by admin flows outside the engine; the engine only reads it.
// Descriptor is the opaque connection string or credential document for
// the driver, already decrypted by the repository.
type Datasource struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	DatasourceType string    `json:"datasource_type"`
	Descriptor     string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
