package datasource

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queryMock returns live rows over n single-column records. Advancing to the
// row at failAt fails, so a reader that goes past it surfaces an error.
func queryMock(t *testing.T, n, failAt int) func() (*QueryResult, error) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows := sqlmock.NewRows([]string{"n"})
	for i := 0; i < n; i++ {
		rows.AddRow(int64(i))
	}
	if failAt >= 0 {
		rows.RowError(failAt, errors.New("read past the row limit"))
	}
	mock.ExpectQuery("SELECT n FROM numbers").WillReturnRows(rows)

	return func() (*QueryResult, error) {
		sqlRows, err := db.Query("SELECT n FROM numbers")
		require.NoError(t, err)
		defer sqlRows.Close()
		return CollectSQLRows(sqlRows, 3, nil)
	}
}

func TestCollectSQLRows_StopsAfterLimitPlusOne(t *testing.T) {
	// Row 3 is the first past the limit and is only advanced to; row 4 must
	// never be reached.
	collect := queryMock(t, 100, 4)

	result, err := collect()
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowCount)
	assert.Len(t, result.Rows, 3)
	assert.True(t, result.Truncated)
	assert.Equal(t, int64(2), result.Rows[2]["n"])
}

func TestCollectSQLRows_ExactlyAtLimit(t *testing.T) {
	collect := queryMock(t, 3, -1)

	result, err := collect()
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowCount)
	assert.False(t, result.Truncated)
}

func TestCollectSQLRows_Unlimited(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"n"})
	for i := 0; i < 50; i++ {
		rows.AddRow(i)
	}
	mock.ExpectQuery("SELECT n FROM numbers").WillReturnRows(rows)

	sqlRows, err := db.Query("SELECT n FROM numbers")
	require.NoError(t, err)
	defer sqlRows.Close()

	result, err := CollectSQLRows(sqlRows, Unlimited, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, result.RowCount)
	assert.False(t, result.Truncated)
}

func TestLimitReached(t *testing.T) {
	assert.False(t, LimitReached(1000, Unlimited))
	assert.False(t, LimitReached(2, 3))
	assert.True(t, LimitReached(3, 3))
}
