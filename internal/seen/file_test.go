package seen

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402watch/pkg/logx"
)

func TestFileBackendMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	b, err := OpenBackend(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	s, err := Load(context.Background(), b)
	require.NoError(t, err)
	assert.Zero(t, s.Len())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileBackendFormatAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.json")
	b, err := OpenBackend(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)

	s, err := Load(ctx, b)
	require.NoError(t, err)
	require.NoError(t, s.BulkInit(ctx, []string{"A", "B"}))
	require.NoError(t, s.Append(ctx, "C"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[\n    \"A\",\n    \"B\",\n    \"C\"\n]", string(raw))

	b2, err := OpenBackend(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	s2, err := Load(ctx, b2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, s2.IDs())

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFileBackendEmptyBulkInit(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")
	b, err := OpenBackend(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	s, err := Load(ctx, b)
	require.NoError(t, err)

	require.NoError(t, s.BulkInit(ctx, nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestFileBackendCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not an array"), 0o644))

	b, err := OpenBackend(context.Background(), Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	_, err = Load(context.Background(), b)
	assert.Error(t, err)
}

func TestFileBackendClosed(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBackend(ctx, Config{Path: filepath.Join(t.TempDir(), "c.json")}, logx.Nop())
	require.NoError(t, err)
	s, err := Load(ctx, b)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Append(ctx, "A")
	assert.ErrorIs(t, err, ErrPersist)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenBackendUnknownDriver(t *testing.T) {
	_, err := OpenBackend(context.Background(), Config{Driver: "etcd"}, logx.Nop())
	assert.Error(t, err)
}
