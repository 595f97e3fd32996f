package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// maxBatchKeys bounds the number of bound parameters in one batch read.
// Older SQLite builds reject statements with more than 999.
const maxBatchKeys = 999

// busyTimeoutMillis is how long a statement waits on a lock held by another
// connection to the same store file before failing with SQLITE_BUSY.
const busyTimeoutMillis = 5000

var _ KeyValue = (*Table)(nil)

// Table implements KeyValue and represents one named table inside a SQLite
// store file.
//
// A Table starts out uninitialized. Operations called before Initialize
// finishes block until it does, or until their context is done, so it is
// safe to run Initialize in its own goroutine and start issuing operations
// right away.
type Table struct {
	conf      KVConfig
	tableName string
	queries   tableQueries

	mu      sync.Mutex
	state   State
	ready   chan struct{} // closed once the table leaves StateInitializing
	initErr error
	db      *sql.DB
	path    string
	release func()
}

// New validates conf and returns an uninitialized Table. It doesn't touch
// the filesystem. A missing name fails with ErrConfiguration.
func New(conf KVConfig) (*Table, error) {
	c, err := conf.CheckAndSetDefaults()
	if err != nil {
		return nil, err
	}
	name := SanitizeTableName(c.Name)
	return &Table{
		conf:      c,
		tableName: name,
		queries:   newTableQueries(name),
		ready:     make(chan struct{}),
	}, nil
}

// Open returns a Table that is ready for use. It is up to the caller to
// close the table with Close().
func Open(ctx context.Context, conf KVConfig) (*Table, error) {
	t, err := New(conf)
	if err != nil {
		return nil, err
	}
	if err := t.Initialize(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Initialize opens the store file and creates the table if it doesn't
// exist yet. Durability pragmas are applied only when the table is created.
//
// Errors from the filesystem or from SQLite are returned unmodified and
// leave the table in StateFailed. Initialize may only be called once.
func (t *Table) Initialize(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case StateUninitialized:
		t.state = StateInitializing
	case StateClosed:
		t.mu.Unlock()
		return ErrClosed
	default:
		t.mu.Unlock()
		return ErrAlreadyInitialized
	}
	t.mu.Unlock()

	db, path, release, err := t.bootstrap(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	defer close(t.ready)

	if err != nil {
		t.state = StateFailed
		t.initErr = err
		return err
	}
	t.db = db
	t.path = path
	t.release = release
	t.state = StateReady
	return nil
}

func (t *Table) bootstrap(ctx context.Context) (*sql.DB, string, func(), error) {
	dir := t.conf.DataDir
	if dir == "" {
		dir = DefaultDataDir
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, "", nil, err
		}
	}
	path, err := filepath.Abs(filepath.Join(dir, StoreFileName))
	if err != nil {
		return nil, "", nil, err
	}

	release, err := tables.claim(path, t.conf.Name, t.tableName)
	if err != nil {
		return nil, "", nil, err
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("%v?_pragma=busy_timeout(%d)", path, busyTimeoutMillis))
	if err != nil {
		release()
		return nil, "", nil, err
	}
	// One connection per table, so pragmas set on it stay in effect for
	// every statement.
	db.SetMaxOpenConns(1)

	if err := t.ensureTable(ctx, db); err != nil {
		_ = db.Close()
		release()
		return nil, "", nil, err
	}

	if t.conf.DBName != "" {
		log.Debug().
			Str("dbName", t.conf.DBName).
			Msg("ignoring dbName, every table shares one store file")
	}
	log.Debug().
		Str("path", path).
		Str("table", t.tableName).
		Msg("opened the table")

	return db, path, release, nil
}

func (t *Table) ensureTable(ctx context.Context, db *sql.DB) error {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
		t.tableName,
	).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	if _, err := db.ExecContext(ctx, t.queries.create); err != nil {
		return err
	}
	for _, p := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	log.Debug().Str("table", t.tableName).Msg("created the table")
	return nil
}

// WaitReady blocks until initialization has finished or ctx is done. It
// returns nil once the table is ready, the initialization error if it
// failed, and ErrClosed if the table was closed.
func (t *Table) WaitReady(ctx context.Context) error {
	_, err := t.conn(ctx)
	return err
}

// conn waits for readiness and returns the database handle.
func (t *Table) conn(ctx context.Context) (*sql.DB, error) {
	select {
	case <-t.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case StateReady:
		return t.db, nil
	case StateFailed:
		return nil, t.initErr
	default:
		return nil, ErrClosed
	}
}

// State returns where the table is in its lifecycle.
func (t *Table) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Name returns the name the table was configured with.
func (t *Table) Name() string {
	return t.conf.Name
}

// TableName returns the sanitized name of the SQL table.
func (t *Table) TableName() string {
	return t.tableName
}

// Path returns the absolute path of the store file. It is empty until the
// table is ready.
func (t *Table) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

// Get returns the value stored for key. A missing key returns a Result with
// Found set to false and a nil error.
func (t *Table) Get(ctx context.Context, key Key) (Result, error) {
	if err := checkKey(key); err != nil {
		return Result{}, err
	}
	db, err := t.conn(ctx)
	if err != nil {
		return Result{}, err
	}

	var v sql.NullString
	err = db.QueryRowContext(ctx, t.queries.get, key.String()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}
	raw, err := rawValue(key.String(), v)
	if err != nil {
		return Result{}, err
	}
	return Result{Found: true, Raw: raw}, nil
}

// GetMany returns the entries for whichever of keys exist. The order of the
// result is unspecified. An empty keys slice returns an empty result without
// querying the store.
func (t *Table) GetMany(ctx context.Context, keys []Key) ([]Entry, error) {
	args := make([]any, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if err := checkKey(k); err != nil {
			return nil, err
		}
		if _, ok := seen[k.String()]; ok {
			continue
		}
		seen[k.String()] = struct{}{}
		args = append(args, k.String())
	}

	entries := []Entry{}
	if len(args) == 0 {
		return entries, nil
	}
	db, err := t.conn(ctx)
	if err != nil {
		return nil, err
	}

	for start := 0; start < len(args); start += maxBatchKeys {
		end := min(start+maxBatchKeys, len(args))
		batch, err := t.getBatch(ctx, db, args[start:end])
		if err != nil {
			return nil, err
		}
		entries = append(entries, batch...)
	}
	return entries, nil
}

func (t *Table) getBatch(ctx context.Context, db *sql.DB, args []any) ([]Entry, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	rows, err := db.QueryContext(ctx, fmt.Sprintf(t.queries.getMany, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		raw, err := rawValue(k, v)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: k, Raw: raw})
	}
	return entries, rows.Err()
}

// Set upserts the JSON encoding of value under key.
func (t *Table) Set(ctx context.Context, key Key, value any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	v, err := encodeValue(value)
	if err != nil {
		return err
	}
	db, err := t.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, t.queries.set, key.String(), v)
	return err
}

// SetValue is Set for callers holding a key of unknown type. A key that
// isn't a string or a number fails with ErrTypeMismatch before anything is
// written.
func (t *Table) SetValue(ctx context.Context, key any, value any) error {
	k, err := KeyOf(key)
	if err != nil {
		return err
	}
	return t.Set(ctx, k, value)
}

// Delete removes key. Deleting a missing key is a no-op.
func (t *Table) Delete(ctx context.Context, key Key) error {
	if err := checkKey(key); err != nil {
		return err
	}
	db, err := t.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, t.queries.delete, key.String())
	return err
}

// Clear removes every entry. The table itself is kept.
func (t *Table) Clear(ctx context.Context) error {
	db, err := t.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, t.queries.clear)
	return err
}

// Count returns the number of entries in the table.
func (t *Table) Count(ctx context.Context) (int, error) {
	db, err := t.conn(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, t.queries.count).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Keys returns every key in the table. The order is whatever order SQLite
// reads them in, which isn't guaranteed to be sorted.
func (t *Table) Keys(ctx context.Context) ([]string, error) {
	db, err := t.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, t.queries.keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close tears down the database connection. You should defer this. If
// initialization is in progress, Close waits for it to finish first.
// Calling Close more than once returns ErrClosed.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.state == StateInitializing {
		t.mu.Unlock()
		<-t.ready
		t.mu.Lock()
	}
	defer t.mu.Unlock()

	prev := t.state
	switch prev {
	case StateClosed:
		return ErrClosed
	case StateUninitialized:
		// Nobody else will close it, and waiters need to see ErrClosed.
		close(t.ready)
	}
	t.state = StateClosed
	if prev != StateReady {
		return nil
	}

	t.release()
	err := t.db.Close()
	log.Debug().Str("table", t.tableName).Msg("closed the table")
	return err
}

// rawValue checks that a stored value is JSON before handing it out.
func rawValue(key string, v sql.NullString) ([]byte, error) {
	if !v.Valid {
		return nil, fmt.Errorf("%w: the value for %q is NULL", ErrSerialization, key)
	}
	raw := []byte(v.String)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: the value for %q is not valid JSON", ErrSerialization, key)
	}
	return raw, nil
}

// tableQueries holds the statements for one table. The table name can't be
// a bound parameter, so it is formatted in once, up front.
type tableQueries struct {
	create  string
	get     string
	getMany string // takes the placeholder list through fmt.Sprintf
	set     string
	delete  string
	clear   string
	count   string
	keys    string
}

func newTableQueries(table string) tableQueries {
	q := quoteIdent(table)
	return tableQueries{
		create:  `CREATE TABLE IF NOT EXISTS ` + q + ` ("key" TEXT PRIMARY KEY, "value" TEXT)`,
		get:     `SELECT "value" FROM ` + q + ` WHERE "key" = ?`,
		getMany: `SELECT "key", "value" FROM ` + q + ` WHERE "key" IN (%s)`,
		set:     `INSERT OR REPLACE INTO ` + q + ` ("key", "value") VALUES (?, ?)`,
		delete:  `DELETE FROM ` + q + ` WHERE "key" = ?`,
		clear:   `DELETE FROM ` + q,
		count:   `SELECT COUNT(*) FROM ` + q,
		keys:    `SELECT "key" FROM ` + q,
	}
}
