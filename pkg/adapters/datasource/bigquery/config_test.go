package bigquery

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptor_ServiceAccountKeyWithDataset(t *testing.T) {
	descriptor := `{
  "type": "service_account",
  "project_id": "analytics-prod",
  "private_key_id": "abc",
  "client_email": "reader@analytics-prod.iam.gserviceaccount.com",
  "dataset": "sales",
  "location": "EU"
}`

	cfg, err := ParseDescriptor(descriptor)
	require.NoError(t, err)

	assert.Equal(t, "analytics-prod", cfg.ProjectID)
	assert.Equal(t, "sales", cfg.Dataset)
	assert.Equal(t, "EU", cfg.Location)
	assert.True(t, cfg.HasExplicitCredentials())
	assert.Contains(t, string(cfg.credentials), "client_email")
}

func TestParseDescriptor_CredentialsFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(keyPath, []byte(`{"type":"service_account"}`), 0600))

	cfg, err := ParseDescriptor("project_id: analytics-prod\ndataset: sales\ncredentials_file: " + keyPath + "\n")
	require.NoError(t, err)
	assert.Equal(t, `{"type":"service_account"}`, string(cfg.credentials))
}

func TestParseDescriptor_ApplicationDefaultCredentials(t *testing.T) {
	cfg, err := ParseDescriptor("project_id: analytics-prod\n")
	require.NoError(t, err)
	assert.False(t, cfg.HasExplicitCredentials())
}

func TestParseDescriptor_RequiresProject(t *testing.T) {
	_, err := ParseDescriptor("dataset: sales\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_id is required")

	_, err = ParseDescriptor("")
	require.Error(t, err)
}

func TestNormalizeValue(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, 12.5, normalizeValue(big.NewRat(25, 2)))
	assert.Equal(t, ts, normalizeValue(ts))
	assert.Equal(t, int64(7), normalizeValue(int64(7)))
	assert.Equal(t, []any{"a", 1.5}, normalizeValue([]bigquery.Value{"a", big.NewRat(3, 2)}))
	assert.Nil(t, normalizeValue(nil))
}

func TestSchemaColumns(t *testing.T) {
	cols := schemaColumns(bigquery.Schema{
		{Name: "region", Type: bigquery.StringFieldType},
		{Name: "total", Type: bigquery.NumericFieldType},
	})

	require.Len(t, cols, 2)
	assert.Equal(t, "region", cols[0].Name)
	assert.Equal(t, "STRING", cols[0].Type)
	assert.Equal(t, "NUMERIC", cols[1].Type)
}
