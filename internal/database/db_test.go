package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EmptyDatabaseURL(t *testing.T) {
	db, err := New("")
	assert.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "DATABASE_URL environment variable not set")
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestWithSenderLock(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		fn        func(tx *sqlx.Tx) error
		wantError bool
		checkErr  func(t *testing.T, err error)
	}{
		{
			name: "acquires lock and commits",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("SELECT pg_advisory_xact_lock").
					WithArgs("cust@acme.com").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			fn:        func(tx *sqlx.Tx) error { return nil },
			wantError: false,
		},
		{
			name: "rolls back on callback error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("SELECT pg_advisory_xact_lock").
					WithArgs("cust@acme.com").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			fn:        func(tx *sqlx.Tx) error { return errors.New("boom") },
			wantError: true,
			checkErr: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "boom")
			},
		},
		{
			name: "lock acquisition failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("SELECT pg_advisory_xact_lock").
					WithArgs("cust@acme.com").
					WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			fn:        func(tx *sqlx.Tx) error { return nil },
			wantError: true,
			checkErr: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "failed to acquire sender lock")
			},
		},
		{
			name: "begin failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(sql.ErrConnDone)
			},
			fn:        func(tx *sqlx.Tx) error { return nil },
			wantError: true,
			checkErr: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "failed to begin transaction")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			defer db.Close()

			tt.setupMock(mock)

			err := WithSenderLock(context.Background(), db, "cust@acme.com", tt.fn)
			if tt.wantError {
				assert.Error(t, err)
				if tt.checkErr != nil {
					tt.checkErr(t, err)
				}
			} else {
				assert.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
