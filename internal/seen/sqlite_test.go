package seen

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402watch/pkg/logx"
)

func TestSQLiteBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seen.db")
	cfg := Config{Driver: "sqlite", Path: path}

	b, err := OpenBackend(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	s, err := Load(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, s.Len())

	require.NoError(t, s.BulkInit(ctx, []string{"B", "A"}))
	require.NoError(t, s.Append(ctx, "C"))
	require.NoError(t, b.Add(ctx, "C"))
	require.NoError(t, s.Close())

	b2, err := OpenBackend(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b2.Close() })
	ids, err := b2.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A", "C"}, ids)
}

func TestSQLiteBackendRequiresPath(t *testing.T) {
	_, err := OpenBackend(context.Background(), Config{Driver: "sqlite"}, logx.Nop())
	assert.Error(t, err)
}
