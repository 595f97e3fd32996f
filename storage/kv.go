package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// DefaultDataDir is used when KVConfig.DataDir is empty. Unlike an
	// explicit directory, it is created if it doesn't exist.
	DefaultDataDir = "./data"
	// StoreFileName is the name of the single SQLite file within the data
	// directory. Every table shares it.
	StoreFileName = "tablekv.sqlite"
)

// KVConfig contains settings for opening a Table.
type KVConfig struct {
	// Name identifies the table. It is sanitized before use, see
	// SanitizeTableName.
	Name string `yaml:"name" json:"name"`
	// DataDir is the directory holding the store file. Empty means
	// DefaultDataDir.
	DataDir string `yaml:"dataDir" json:"dataDir"`
	// DBName is accepted for compatibility but has no effect. The store
	// file is always StoreFileName.
	DBName string `yaml:"dbName" json:"dbName"`
}

// CheckAndSetDefaults validates c and returns a copy of c with surrounding
// whitespace trimmed from the directory, or an error wrapping
// ErrConfiguration.
func (c *KVConfig) CheckAndSetDefaults() (KVConfig, error) {
	if c.Name == "" {
		return KVConfig{}, fmt.Errorf("%w: the table name is required", ErrConfiguration)
	}
	n := *c
	n.DataDir = strings.TrimSpace(n.DataDir)
	return n, nil
}

// KeyValue exposes a common interface for performing CRUD operations on a
// single persistent table.
//
// Every method blocks until the underlying table is ready. Implementations
// include connection logic in their constructors.
type KeyValue interface {
	// Return the entry for a key. A missing key is not an error, see
	// Result.Found.
	Get(ctx context.Context, key Key) (Result, error)
	// Return the entries that exist among keys. Missing keys are left out.
	GetMany(ctx context.Context, keys []Key) ([]Entry, error)
	// Replace the value for a key or create it if it doesn't exist
	Set(ctx context.Context, key Key, value any) error
	// Remove a key. Removing a missing key is a no-op.
	Delete(ctx context.Context, key Key) error
	// Remove every entry but keep the table
	Clear(ctx context.Context) error
	// Number of entries in the table
	Count(ctx context.Context) (int, error)
	// Every key in the table, in storage order
	Keys(ctx context.Context) ([]string, error)
	// Release the connection. Every later call fails with ErrClosed.
	Close() error
}

// Result is the outcome of a single-key read.
type Result struct {
	Found bool
	// Raw is the stored JSON text. It is nil when Found is false.
	Raw json.RawMessage
}

// Decode unmarshals the stored value into v. It returns ErrNotFound if the
// key was missing.
func (r Result) Decode(v any) error {
	if !r.Found {
		return ErrNotFound
	}
	return decodeValue(r.Raw, v)
}

// Entry is a key and its stored JSON text, as returned by batch reads.
type Entry struct {
	Key string
	Raw json.RawMessage
}

// Decode unmarshals the stored value into v.
func (e Entry) Decode(v any) error {
	return decodeValue(e.Raw, v)
}

func encodeValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return string(b), nil
}

func decodeValue(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return nil
}
