package e2e

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/ptgott/tablekv/command"
)

// testEnvironment holds a data directory and a config file pointing at it.
// Callers should create this via startTestEnvironment.
type testEnvironment struct {
	tempDirPath string
	configPath  string
	tableName   string
}

// startTestEnvironment renders a config for a table with a unique name. When
// tableName is empty, a random one is used so tests can share a store file
// without colliding. The temporary directory is removed when the test ends.
func startTestEnvironment(t *testing.T, tableName string) (*testEnvironment, error) {
	t.Helper()
	if tableName == "" {
		tableName = "table-" + uuid.NewString()
	}
	te := &testEnvironment{
		tempDirPath: t.TempDir(),
		tableName:   tableName,
	}
	te.configPath = filepath.Join(te.tempDirPath, "config.yaml")

	err := createAppConfig(te.configPath, appConfigOptions{
		TableName:  tableName,
		StorageDir: te.tempDirPath,
		LogLevel:   "warn",
	})
	if err != nil {
		return nil, fmt.Errorf("can't create the app config: %w", err)
	}
	return te, nil
}

// run executes one tablekv command against the environment's config and
// returns its standard output.
func (te *testEnvironment) run(args ...string) (string, error) {
	var out bytes.Buffer
	full := append([]string{"-config", te.configPath}, args...)
	err := command.Run(context.Background(), full, &out)
	return out.String(), err
}
