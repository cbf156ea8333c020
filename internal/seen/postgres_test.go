package seen

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402watch/pkg/logx"
)

func newMockPostgres(t *testing.T) (pgxmock.PgxPoolIface, *postgresBackend) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS seen_origins")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	b, err := newPostgresBackend(context.Background(), mock, logx.Nop())
	require.NoError(t, err)
	return mock, b
}

func TestPostgresBackendLoad(t *testing.T) {
	mock, b := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta(pgLoad)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("A").AddRow("B"))

	s, err := Load(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, s.IDs())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendAppend(t *testing.T) {
	mock, b := newMockPostgres(t)

	mock.ExpectQuery(regexp.QuoteMeta(pgLoad)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO seen_origins (id, seq) SELECT $1")).
		WithArgs("C").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s, err := Load(context.Background(), b, WithRetryDelay(0))
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), "C"))
	assert.True(t, s.Contains("C"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendAppendFailure(t *testing.T) {
	mock, b := newMockPostgres(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta(pgLoad)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	for i := 0; i < 3; i++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO seen_origins (id, seq) SELECT $1")).
			WithArgs("C").
			WillReturnError(boom)
	}

	s, err := Load(context.Background(), b, WithRetryDelay(0))
	require.NoError(t, err)
	err = s.Append(context.Background(), "C")
	assert.ErrorIs(t, err, ErrPersist)
	assert.False(t, s.Contains("C"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendReplace(t *testing.T) {
	mock, b := newMockPostgres(t)
	ids := []string{"A", "B"}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(pgClear)).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO seen_origins (id, seq) SELECT id, ord FROM unnest")).
		WithArgs(ids).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, b.Replace(context.Background(), ids))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendReplaceRollsBack(t *testing.T) {
	mock, b := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(pgClear)).
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	assert.Error(t, b.Replace(context.Background(), []string{"A"}))
	require.NoError(t, mock.ExpectationsWereMet())
}
