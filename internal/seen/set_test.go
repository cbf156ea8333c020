package seen

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend is an in-memory Backend that can be told to fail writes.
type memBackend struct {
	mu       sync.Mutex
	ids      []string
	failNext int
	writes   int
	loadErr  error
}

var errDisk = errors.New("disk full")

func (m *memBackend) Name() string { return "mem" }

func (m *memBackend) Load(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...), m.loadErr
}

func (m *memBackend) Add(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failNext > 0 {
		m.failNext--
		return errDisk
	}
	for _, v := range m.ids {
		if v == id {
			return nil
		}
	}
	m.ids = append(m.ids, id)
	return nil
}

func (m *memBackend) Replace(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failNext > 0 {
		m.failNext--
		return errDisk
	}
	m.ids = append([]string(nil), ids...)
	return nil
}

func (m *memBackend) Close() error { return nil }

func loadMem(t *testing.T, b *memBackend) *Set {
	t.Helper()
	s, err := Load(context.Background(), b, WithRetryDelay(0))
	require.NoError(t, err)
	return s
}

func TestLoadDeduplicates(t *testing.T) {
	s := loadMem(t, &memBackend{ids: []string{"A", "B", "A"}})

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"A", "B"}, s.IDs())
	assert.True(t, s.Contains("A"))
	assert.False(t, s.Contains("C"))
}

func TestLoadError(t *testing.T) {
	_, err := Load(context.Background(), &memBackend{loadErr: errDisk})
	assert.ErrorIs(t, err, errDisk)
}

func TestAppendWritesThrough(t *testing.T) {
	b := &memBackend{}
	s := loadMem(t, b)

	require.NoError(t, s.Append(context.Background(), "A"))
	require.NoError(t, s.Append(context.Background(), "B"))

	assert.Equal(t, []string{"A", "B"}, b.ids)
	assert.Equal(t, []string{"A", "B"}, s.IDs())
}

func TestAppendExistingIsNoop(t *testing.T) {
	b := &memBackend{ids: []string{"A"}}
	s := loadMem(t, b)

	require.NoError(t, s.Append(context.Background(), "A"))
	assert.Equal(t, 0, b.writes)
	assert.Equal(t, 1, s.Len())
}

func TestAppendRetriesTransientFailure(t *testing.T) {
	b := &memBackend{failNext: 2}
	s := loadMem(t, b)

	require.NoError(t, s.Append(context.Background(), "A"))
	assert.Equal(t, 3, b.writes)
	assert.True(t, s.Contains("A"))
}

func TestAppendFailureLeavesIDUnrecorded(t *testing.T) {
	b := &memBackend{failNext: 5}
	s := loadMem(t, b)

	err := s.Append(context.Background(), "A")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersist)
	assert.ErrorIs(t, err, errDisk)
	assert.Equal(t, 3, b.writes)
	assert.False(t, s.Contains("A"))
	assert.Zero(t, s.Len())
}

func TestAppendRejectsEmptyID(t *testing.T) {
	s := loadMem(t, &memBackend{})
	assert.Error(t, s.Append(context.Background(), "  "))
}

func TestBulkInitReplaces(t *testing.T) {
	b := &memBackend{ids: []string{"old"}}
	s := loadMem(t, b)

	require.NoError(t, s.BulkInit(context.Background(), []string{"A", "B", "A", ""}))

	assert.Equal(t, []string{"A", "B"}, b.ids)
	assert.Equal(t, []string{"A", "B"}, s.IDs())
	assert.False(t, s.Contains("old"))
}

func TestSetGrowsMonotonically(t *testing.T) {
	s := loadMem(t, &memBackend{})
	ctx := context.Background()

	prev := s.Len()
	for _, id := range []string{"A", "B", "A", "C", "B", "D"} {
		require.NoError(t, s.Append(ctx, id))
		assert.GreaterOrEqual(t, s.Len(), prev)
		prev = s.Len()
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, s.IDs())
}

func TestConcurrentAppendsAreSerialized(t *testing.T) {
	b := &memBackend{}
	s := loadMem(t, b)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range []string{"A", "B", "C"} {
				assert.NoError(t, s.Append(context.Background(), id))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, s.Len())
	assert.Len(t, b.ids, 3)
	assert.Equal(t, 3, b.writes)
}
