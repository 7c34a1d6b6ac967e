package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ruteri/resource-store/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobBackend_Get(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	backend, err := NewBlobBackend(db, false, "", "", "UTF-8", testLogger())
	require.NoError(t, err)
	ctx := context.Background()
	modified := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT content, mime_type, charset, updated_at FROM resource_blob WHERE uri = ?").
		WithArgs("jpa:unit/a.txt").
		WillReturnRows(sqlmock.NewRows([]string{"content", "mime_type", "charset", "updated_at"}).
			AddRow([]byte("hello"), "text/plain", nil, modified))

	res, err := backend.Get(ctx, "jpa:unit/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", res.MimeType)
	assert.Equal(t, "UTF-8", res.Charset)
	assert.Equal(t, int64(5), res.Length)
	assert.Equal(t, modified, res.LastModified)
	data, err := res.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	mock.ExpectQuery("SELECT content, mime_type, charset, updated_at FROM resource_blob WHERE uri = ?").
		WithArgs("jpa:unit/missing.txt").
		WillReturnRows(sqlmock.NewRows([]string{"content", "mime_type", "charset", "updated_at"}))

	_, err = backend.Get(ctx, "jpa:unit/missing.txt")
	assert.ErrorIs(t, err, interfaces.ErrResourceNotFound)

	mock.ExpectQuery("SELECT content, mime_type, charset, updated_at FROM resource_blob WHERE uri = ?").
		WithArgs("jpa:unit/b.txt").
		WillReturnError(errors.New("connection lost"))

	_, err = backend.Get(ctx, "jpa:unit/b.txt")
	assert.ErrorIs(t, err, interfaces.ErrStoreFailure)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlobBackend_Store(t *testing.T) {
	uri := "jpa:unit/a.txt"
	modified := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		setupMock   func(mock sqlmock.Sqlmock)
		expectedErr error
	}{
		{
			name: "insert",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE resource_blob SET content = ?, mime_type = ?, charset = ?, updated_at = ? WHERE uri = ?").
					WithArgs([]byte("data"), "text/plain", "UTF-8", modified, uri).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT INTO resource_blob (uri, content, mime_type, charset, updated_at) VALUES (?, ?, ?, ?, ?)").
					WithArgs(uri, []byte("data"), "text/plain", "UTF-8", modified).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "update",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE resource_blob SET content = ?, mime_type = ?, charset = ?, updated_at = ? WHERE uri = ?").
					WithArgs([]byte("data"), "text/plain", "UTF-8", modified, uri).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "rollback on failure",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE resource_blob SET content = ?, mime_type = ?, charset = ?, updated_at = ? WHERE uri = ?").
					WillReturnError(errors.New("deadlock detected"))
				mock.ExpectRollback()
			},
			expectedErr: interfaces.ErrStoreFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
			require.NoError(t, err)
			defer db.Close()
			tt.setupMock(mock)

			backend, err := NewBlobBackend(db, false, "", "", "", testLogger())
			require.NoError(t, err)

			err = backend.Store(context.Background(), uri, interfaces.NewResourceFromBytes(uri, []byte("data"),
				interfaces.WithMimeType("text/plain"),
				interfaces.WithCharset("UTF-8"),
				interfaces.WithLastModified(modified)))
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestBlobStore_PersistenceUnit(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	RegisterPersistenceUnit("blob-unit-test", db)
	t.Cleanup(func() { UnregisterPersistenceUnit("blob-unit-test") })

	p, err := NewProvider(ProviderOptions{Log: testLogger(), Schemes: NewSchemeMatcher()})
	require.NoError(t, err)
	ctx := context.Background()

	s, err := p.Provides(ctx, "jpa:blob-unit-test/", interfaces.Configuration{
		"table":     "public.assets",
		"bindStyle": "dollar",
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.JPAType, s.Type())
	assert.False(t, s.ReadOnly())

	mock.ExpectExec("DELETE FROM public.assets WHERE uri = $1").
		WithArgs("jpa:blob-unit-test/old.txt").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Remove(ctx, "old.txt"))

	mock.ExpectQuery("SELECT content, mime_type, charset, updated_at FROM public.assets WHERE uri = $1").
		WithArgs("jpa:blob-unit-test/old.txt").
		WillReturnRows(sqlmock.NewRows([]string{"content", "mime_type", "charset", "updated_at"}))
	exists, err := s.Exists(ctx, "old.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	// The provider does not close databases it did not open.
	require.NoError(t, p.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlobStore_Factory(t *testing.T) {
	p, err := NewProvider(ProviderOptions{Log: testLogger(), Schemes: NewSchemeMatcher()})
	require.NoError(t, err)
	defer p.Close()

	tests := []struct {
		name string
		root string
		cfg  interfaces.Configuration
	}{
		{name: "unknown driver", root: "jdbc:nosuchdriver:host=db"},
		{name: "missing dsn", root: "jdbc:postgres"},
		{name: "unknown unit", root: "jpa:nobody-registered-this/"},
		{name: "invalid table", root: "jdbc:sqlmock:blob-factory-test", cfg: interfaces.Configuration{"table": "assets; DROP TABLE x"}},
		{name: "invalid bind style", root: "jdbc:sqlmock:blob-factory-test", cfg: interfaces.Configuration{"bindStyle": "colon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Provides(context.Background(), tt.root, tt.cfg)
			assert.ErrorIs(t, err, interfaces.ErrProviderFailure)
		})
	}
}

func TestBlobBackend_Query(t *testing.T) {
	question, err := NewBlobBackend(nil, false, "blobs", "question", "", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM blobs WHERE uri = ?", question.query("DELETE FROM %s WHERE uri = ?"))

	dollar, err := NewBlobBackend(nil, false, "blobs", "dollar", "", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO blobs (a, b) VALUES ($1, $2)", dollar.query("INSERT INTO %s (a, b) VALUES (?, ?)"))
}
