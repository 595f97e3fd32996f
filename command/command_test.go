package command

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ptgott/tablekv/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run invokes Run against a table in dir and returns what it printed.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	full := append([]string{"-name", "My Map!", "-data-dir", dir}, args...)
	err := Run(context.Background(), full, &out)
	return out.String(), err
}

func TestRun_SetGetDeleteCycle(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "set", "a", `{"x": 1}`)
	require.NoError(t, err)

	out, err := run(t, dir, "get", "a")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`+"\n", out)

	out, err = run(t, dir, "count")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	_, err = run(t, dir, "delete", "a")
	require.NoError(t, err)

	out, err = run(t, dir, "get", "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, out)
}

func TestRun_GetMany(t *testing.T) {
	dir := t.TempDir()
	for _, kv := range [][2]string{{"2", `"two"`}, {"1", `"one"`}, {"3", `"three"`}} {
		_, err := run(t, dir, "set", kv[0], kv[1])
		require.NoError(t, err)
	}

	out, err := run(t, dir, "get", "2", "1", "missing")
	require.NoError(t, err)
	assert.Equal(t, "1\t\"one\"\n2\t\"two\"\n", out)
}

func TestRun_KeysAndClear(t *testing.T) {
	dir := t.TempDir()
	for _, k := range []string{"b", "a", "c"} {
		_, err := run(t, dir, "set", k, "true")
		require.NoError(t, err)
	}

	out, err := run(t, dir, "keys")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, strings.Fields(out))

	_, err = run(t, dir, "clear")
	require.NoError(t, err)

	out, err = run(t, dir, "keys")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = run(t, dir, "count")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestRun_SetRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "set", "a", "{not json")
	assert.ErrorIs(t, err, storage.ErrSerialization)

	out, err := run(t, dir, "count")
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)
}

func TestRun_Stats(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "set", "a", "1")
	require.NoError(t, err)

	out, err := run(t, dir, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "name:    My Map!\n")
	assert.Contains(t, out, "table:   my_map_\n")
	assert.Contains(t, out, "entries: 1\n")
	assert.Contains(t, out, filepath.Join(dir, storage.StoreFileName))
	assert.Regexp(t, `size:    [0-9.]+\s?[kMG]?B\n`, out)
}

func TestRun_UsageErrors(t *testing.T) {
	dir := t.TempDir()

	testCases := []struct {
		description string
		args        []string
	}{
		{description: "no command", args: nil},
		{description: "unknown command", args: []string{"frobnicate"}},
		{description: "get without a key", args: []string{"get"}},
		{description: "set without a value", args: []string{"set", "a"}},
		{description: "delete with two keys", args: []string{"delete", "a", "b"}},
		{description: "count with an argument", args: []string{"count", "x"}},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			_, err := run(t, dir, tc.args...)
			assert.ErrorIs(t, err, ErrUsage)
		})
	}

	// Usage errors are caught before the store file is created.
	_, statErr := os.Stat(filepath.Join(dir, storage.StoreFileName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_ConfigPrecedence(t *testing.T) {
	fileDir := t.TempDir()
	flagDir := t.TempDir()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`storage:
    name: from-file
    dataDir: `+fileDir+`
logging:
    level: warn
`), 0o600))

	var out bytes.Buffer
	ctx := context.Background()

	// File only.
	require.NoError(t, Run(ctx, []string{"-config", configPath, "set", "k", `"file"`}, &out))

	// The environment overrides the file's name.
	t.Setenv("TABLEKV_NAME", "from-env")
	require.NoError(t, Run(ctx, []string{"-config", configPath, "set", "k", `"env"`}, &out))

	// Flags override both.
	require.NoError(t, Run(ctx, []string{"-config", configPath, "-data-dir", flagDir, "-name", "from-flag", "set", "k", `"flag"`}, &out))

	for _, tc := range []struct {
		dir, name, want string
	}{
		{fileDir, "from-file", `"file"`},
		{fileDir, "from-env", `"env"`},
		{flagDir, "from-flag", `"flag"`},
	} {
		tbl, err := storage.Open(ctx, storage.KVConfig{Name: tc.name, DataDir: tc.dir})
		require.NoError(t, err)
		res, err := tbl.Get(ctx, storage.StringKey("k"))
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(res.Raw), "table %v in %v", tc.name, tc.dir)
		require.NoError(t, tbl.Close())
	}
}

func TestRun_MissingName(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), []string{"-data-dir", t.TempDir(), "count"}, &out)
	assert.ErrorIs(t, err, storage.ErrConfiguration)
}

func TestRun_MissingConfigFile(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "nope.yaml"), "count"}, &out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_Help(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), []string{"-h"}, &out)
	assert.ErrorIs(t, err, flag.ErrHelp)
}

// memKV is a storage.KeyValue kept in a map, for running subcommands
// without a store file.
type memKV map[string]json.RawMessage

func (m memKV) Get(ctx context.Context, k storage.Key) (storage.Result, error) {
	raw, ok := m[k.String()]
	return storage.Result{Found: ok, Raw: raw}, nil
}

func (m memKV) GetMany(ctx context.Context, keys []storage.Key) ([]storage.Entry, error) {
	var entries []storage.Entry
	for _, k := range keys {
		if raw, ok := m[k.String()]; ok {
			entries = append(entries, storage.Entry{Key: k.String(), Raw: raw})
		}
	}
	return entries, nil
}

func (m memKV) Set(ctx context.Context, k storage.Key, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m[k.String()] = b
	return nil
}

func (m memKV) Delete(ctx context.Context, k storage.Key) error {
	delete(m, k.String())
	return nil
}

func (m memKV) Clear(ctx context.Context) error {
	for k := range m {
		delete(m, k)
	}
	return nil
}

func (m memKV) Count(ctx context.Context) (int, error) {
	return len(m), nil
}

func (m memKV) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m memKV) Close() error {
	return nil
}

func TestSubcommands_AnyKeyValue(t *testing.T) {
	ctx := context.Background()
	kv := memKV{}

	exec := func(name string, args ...string) (string, error) {
		var out bytes.Buffer
		err := subcommands[name].run(ctx, kv, args, &out)
		return out.String(), err
	}

	_, err := exec("set", "b", `{"y":2}`)
	require.NoError(t, err)
	_, err = exec("set", "a", `[1]`)
	require.NoError(t, err)

	out, err := exec("get", "b")
	require.NoError(t, err)
	assert.Equal(t, `{"y":2}`+"\n", out)

	out, err = exec("get", "b", "a", "missing")
	require.NoError(t, err)
	assert.Equal(t, "a\t[1]\nb\t{\"y\":2}\n", out)

	_, err = exec("get", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	out, err = exec("count")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	_, err = exec("delete", "a")
	require.NoError(t, err)
	out, err = exec("keys")
	require.NoError(t, err)
	assert.Equal(t, "b\n", out)

	// There is no store file to describe.
	_, err = exec("stats")
	assert.ErrorIs(t, err, ErrUsage)

	_, err = exec("clear")
	require.NoError(t, err)
	assert.Empty(t, kv)
}
