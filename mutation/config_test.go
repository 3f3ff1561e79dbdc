package mutation_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/internal/testdb"
	"github.com/syssam/persist/mutation"
)

const machineConfig = `
save_mode: update_only
associated_mode: MERGE
associated_modes:
  Book.authors: APPEND
delete_mode: LOGICAL
lock_mode: OPTIMISTIC
batch_size: 50
investigate_threshold: 5
dialect: sqlite3
bypass_cache: false
key_groups:
  Machine:
    byHost: [host]
`

func TestParseConfig(t *testing.T) {
	c, err := mutation.ParseConfig([]byte(machineConfig))
	require.NoError(t, err)
	assert.Equal(t, "update_only", c.SaveMode)
	assert.Equal(t, map[string]string{"Book.authors": "APPEND"}, c.AssociatedModes)
	assert.Equal(t, 50, c.BatchSize)
	require.NotNil(t, c.BypassCache)
	assert.False(t, *c.BypassCache)
	assert.Equal(t, []string{"host"}, c.KeyGroups["Machine"]["byHost"])

	opts, err := c.Options(testdb.Registry())
	require.NoError(t, err)
	assert.Len(t, opts, 10)

	_, err = mutation.ParseConfig([]byte("batch_size: [1"))
	require.Error(t, err)
}

func TestConfigOptionsErrors(t *testing.T) {
	reg := testdb.Registry()
	tests := map[string]string{
		"save_mode":        "save_mode: SOMETIMES",
		"associated_mode":  "associated_mode: CLEAR",
		"associated_modes": "associated_modes: {Book.authors: NONE}",
		"delete_mode":      "delete_mode: SOFT",
		"lock_mode":        "lock_mode: PESSIMISTIC",
		"dialect":          "dialect: oracle",
		"key_groups":       "key_groups: {Robot: {name: [name]}}",
		"key_group_prop":   "key_groups: {Machine: {byIP: [ip]}}",
		"batch_size":       "batch_size: -1",
	}
	for name, yaml := range tests {
		t.Run(name, func(t *testing.T) {
			c, err := mutation.ParseConfig([]byte(yaml))
			require.NoError(t, err)
			opts, err := c.Options(reg)
			if err == nil {
				_, err = mutation.NewSaver(testdb.Open(t), reg, opts...)
			}
			require.ErrorIs(t, err, mutation.ErrInvalidOption)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(machineConfig), 0o600))
	c, err := mutation.LoadConfig(path)
	require.NoError(t, err)
	opts, err := c.Options(testdb.Registry())
	require.NoError(t, err)

	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	s, err := mutation.NewSaver(drv, reg, opts...)
	require.NoError(t, err)

	// The configured key group identifies machines by host alone.
	machine := entity.New(reg.Type("Machine")).Set("host", "localhost").Set("cpuFrequency", 16)
	res, err := s.Save(context.Background(), machine)
	require.NoError(t, err)
	id, _ := res.Modified.ID()
	assert.Equal(t, int64(1), id)
	assert.Equal(t, int64(16), testdb.Scalar[int64](t, drv, "SELECT CPU_FREQUENCY FROM MACHINE WHERE ID = 1"))

	_, err = mutation.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestOptionsOverridePerCall(t *testing.T) {
	drv := testdb.Open(t, fixtures()...)
	reg := testdb.Registry()
	s, err := mutation.NewSaver(drv, reg, mutation.WithMode(persist.SaveModeInsertOnly))
	require.NoError(t, err)

	machine := entity.New(reg.Type("Machine")).Set("host", "localhost").Set("port", 8080).Set("memorySize", 64)
	_, err = s.Save(context.Background(), machine, mutation.WithMode(persist.SaveModeUpdateOnly))
	require.NoError(t, err)
	assert.Equal(t, int64(64), testdb.Scalar[int64](t, drv, "SELECT MEMORY_SIZE FROM MACHINE WHERE ID = 1"))

	_, err = s.Save(context.Background(), machine, mutation.WithBatchSize(-1))
	require.ErrorIs(t, err, mutation.ErrInvalidOption)
}
