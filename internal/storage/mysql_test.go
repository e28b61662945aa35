package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldwatch/internal/state"
)

func newMockMySQL(t *testing.T) (*MySQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS coldwatch_kv")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	m, err := NewMySQLFromDB(context.Background(), db)
	require.NoError(t, err)
	return m, mock
}

func TestMySQL_Get(t *testing.T) {
	m, mock := newMockMySQL(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM coldwatch_kv WHERE namespace=? AND `key`=?")).
		WithArgs("coldwatch", "temp_th").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"op":"GT","b1":30}`)))

	got, err := m.Get(context.Background(), "coldwatch", "temp_th")
	require.NoError(t, err)
	assert.Equal(t, `{"op":"GT","b1":30}`, string(got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQL_GetMissing(t *testing.T) {
	m, mock := newMockMySQL(t)

	mock.ExpectQuery("SELECT value FROM coldwatch_kv").
		WithArgs("coldwatch", "dest").
		WillReturnError(sql.ErrNoRows)

	_, err := m.Get(context.Background(), "coldwatch", "dest")
	assert.ErrorIs(t, err, state.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQL_Set(t *testing.T) {
	m, mock := newMockMySQL(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO coldwatch_kv")).
		WithArgs("coldwatch", "dest", []byte("8801521475412")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, m.Set(context.Background(), "coldwatch", "dest", []byte("8801521475412")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQL_SetError(t *testing.T) {
	m, mock := newMockMySQL(t)

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO coldwatch_kv").WillReturnError(boom)

	err := m.Set(context.Background(), "coldwatch", "dest", []byte("x"))
	assert.ErrorIs(t, err, boom)
}

func TestNewMySQLFromDB_MigrationError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("denied"))

	_, err = NewMySQLFromDB(context.Background(), db)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Options{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &state.MemoryStore{}, s)

	s, err = Open(context.Background(), Options{Backend: "file", Path: t.TempDir() + "/state.yaml"})
	require.NoError(t, err)
	assert.IsType(t, &state.FileStore{}, s)

	_, err = Open(context.Background(), Options{Backend: "redis"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Options{Backend: "postgres"})
	assert.Error(t, err)
}
