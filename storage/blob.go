package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/resource-store/interfaces"
)

// DefaultBlobTable is the table used by blob stores without a table key.
const DefaultBlobTable = "resource_blob"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var (
	persistenceUnitsMu sync.RWMutex
	persistenceUnits   = map[string]*sql.DB{}
)

// RegisterPersistenceUnit makes db available to jpa:<name>/ stores.
func RegisterPersistenceUnit(name string, db *sql.DB) {
	persistenceUnitsMu.Lock()
	defer persistenceUnitsMu.Unlock()
	persistenceUnits[name] = db
}

// UnregisterPersistenceUnit removes the database registered under name.
func UnregisterPersistenceUnit(name string) {
	persistenceUnitsMu.Lock()
	defer persistenceUnitsMu.Unlock()
	delete(persistenceUnits, name)
}

func lookupPersistenceUnit(name string) (*sql.DB, bool) {
	persistenceUnitsMu.RLock()
	defer persistenceUnitsMu.RUnlock()
	db, ok := persistenceUnits[name]
	return db, ok
}

// blobOptions are the configuration keys specific to blob stores.
type blobOptions struct {
	Table string `mapstructure:"table"`
	// BindStyle selects query placeholders: "question" (?) or "dollar" ($1).
	BindStyle string `mapstructure:"bindStyle"`
}

// BlobBackend persists resources as rows of a SQL table with the columns
// uri (primary key), content, mime_type, charset and updated_at.
type BlobBackend struct {
	db      *sql.DB
	ownsDB  bool
	table   string
	dollar  bool
	charset string
	log     *slog.Logger
}

// NewBlobBackend creates a blob backend over db. When ownsDB is set the
// database is closed with the backend.
func NewBlobBackend(db *sql.DB, ownsDB bool, table, bindStyle, charset string, log *slog.Logger) (*BlobBackend, error) {
	if table == "" {
		table = DefaultBlobTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", interfaces.ErrInvalidArgument, table)
	}
	var dollar bool
	switch strings.ToLower(bindStyle) {
	case "", "question":
	case "dollar":
		dollar = true
	default:
		return nil, fmt.Errorf("%w: unknown bind style %q", interfaces.ErrInvalidArgument, bindStyle)
	}
	return &BlobBackend{
		db:      db,
		ownsDB:  ownsDB,
		table:   table,
		dollar:  dollar,
		charset: charset,
		log:     log,
	}, nil
}

func newBlobBackendFromContext(_ context.Context, bc BackendContext) (interfaces.Backend, error) {
	var bo blobOptions
	if err := bc.Config.Decode(&bo); err != nil {
		return nil, err
	}

	scheme, _ := interfaces.SchemeOf(bc.RootURI)
	rest := bc.RootURI[len(scheme)+1:]

	switch interfaces.StoreType(scheme) {
	case interfaces.JDBCType:
		driver, dsn, ok := strings.Cut(rest, ":")
		if !ok || driver == "" || dsn == "" {
			return nil, fmt.Errorf("%w: expected jdbc:<driver>:<dsn>", interfaces.ErrInvalidArgument)
		}
		db, err := sql.Open(driver, strings.TrimSuffix(dsn, "/"))
		if err != nil {
			return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
		}
		if bo.BindStyle == "" && (driver == "postgres" || driver == "pgx") {
			bo.BindStyle = "dollar"
		}
		backend, err := NewBlobBackend(db, true, bo.Table, bo.BindStyle, bc.Options.Charset, bc.Log)
		if err != nil {
			db.Close()
			return nil, err
		}
		return backend, nil

	case interfaces.JPAType:
		unit, _, _ := strings.Cut(strings.TrimLeft(rest, "/"), "/")
		db, ok := lookupPersistenceUnit(unit)
		if !ok {
			return nil, fmt.Errorf("no persistence unit registered as %q", unit)
		}
		return NewBlobBackend(db, false, bo.Table, bo.BindStyle, bc.Options.Charset, bc.Log)
	}
	return nil, fmt.Errorf("%w: scheme %s is not a blob scheme", interfaces.ErrInvalidArgument, scheme)
}

// Get reads the row for uri.
func (b *BlobBackend) Get(ctx context.Context, uri string) (*interfaces.Resource, error) {
	var (
		content  []byte
		mimeType sql.NullString
		charset  sql.NullString
		updated  sql.NullTime
	)
	err := b.db.QueryRowContext(ctx,
		b.query("SELECT content, mime_type, charset, updated_at FROM %s WHERE uri = ?"), uri).
		Scan(&content, &mimeType, &charset, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.NotFound("get", uri)
	}
	if err != nil {
		return nil, interfaces.NewStoreError(interfaces.CodeStoreFailure, "get", uri, err)
	}

	cs := charset.String
	if cs == "" {
		cs = b.charset
	}
	return interfaces.NewResource(uri, bytes.NewReader(content),
		interfaces.WithLength(int64(len(content))),
		interfaces.WithMimeType(mimeType.String),
		interfaces.WithCharset(cs),
		interfaces.WithLastModified(updated.Time))
}

// Store upserts the row for uri inside a transaction.
func (b *BlobBackend) Store(ctx context.Context, uri string, res *interfaces.Resource) error {
	content, err := io.ReadAll(res.Reader())
	if err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", uri, err)
	}
	updated := res.LastModified
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", uri, err)
	}
	if err := b.upsert(ctx, tx, uri, content, res.MimeType, res.Charset, updated); err != nil {
		tx.Rollback()
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", uri, err)
	}
	if err := tx.Commit(); err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "store", uri, err)
	}

	b.log.Debug("Stored resource blob",
		slog.String("uri", uri),
		slog.Int("size", len(content)))
	return nil
}

func (b *BlobBackend) upsert(ctx context.Context, tx *sql.Tx, uri string, content []byte, mimeType, charset string, updated time.Time) error {
	result, err := tx.ExecContext(ctx,
		b.query("UPDATE %s SET content = ?, mime_type = ?, charset = ?, updated_at = ? WHERE uri = ?"),
		content, mimeType, charset, updated, uri)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		b.query("INSERT INTO %s (uri, content, mime_type, charset, updated_at) VALUES (?, ?, ?, ?, ?)"),
		uri, content, mimeType, charset, updated)
	return err
}

// Remove deletes the row for uri.
func (b *BlobBackend) Remove(ctx context.Context, uri string) error {
	if _, err := b.db.ExecContext(ctx, b.query("DELETE FROM %s WHERE uri = ?"), uri); err != nil {
		return interfaces.NewStoreError(interfaces.CodeStoreFailure, "remove", uri, err)
	}
	return nil
}

// Close closes the database when the backend opened it.
func (b *BlobBackend) Close() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}

// query formats the statement for the table and rewrites placeholders for
// the bind style.
func (b *BlobBackend) query(format string) string {
	q := fmt.Sprintf(format, b.table)
	if !b.dollar {
		return q
	}
	var sb strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
