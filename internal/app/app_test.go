package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x402watch/internal/config"
	"x402watch/internal/monitor"
)

type upstream struct {
	ids   atomic.Pointer[[]string]
	calls atomic.Int32
}

func newUpstream(t *testing.T, ids ...string) (*upstream, string) {
	t.Helper()
	u := &upstream{}
	u.set(ids...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		items := make([]string, 0)
		for _, id := range *u.ids.Load() {
			items = append(items, fmt.Sprintf(`{"origins":[{"id":%q,"title":"svc %s"}],"recipients":["0x1"]}`, id, id))
		}
		_, _ = fmt.Fprintf(w, `{"json":[2,0,[[{"items":[%s],"hasNextPage":false}]]]}`+"\n", strings.Join(items, ","))
	}))
	t.Cleanup(srv.Close)
	return u, srv.URL
}

func (u *upstream) set(ids ...string) { u.ids.Store(&ids) }

func writeConfig(t *testing.T, baseURL string) (cfgPath, storePath string) {
	t.Helper()
	dir := t.TempDir()
	storePath = filepath.Join(dir, "cache.json")
	cfgPath = filepath.Join(dir, "x402watch.json")
	body := fmt.Sprintf(`{
  "catalog": {"base_url": %q, "max_attempts": 1, "retry_base": "1ms"},
  "poll": {"interval": "1h"},
  "store": {"driver": "file", "path": %q},
  "logging": {"level": "error"}
}`, baseURL, storePath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return cfgPath, storePath
}

func TestSweepOnceBootstrapsThenReportsNewOrigins(t *testing.T) {
	ctx := context.Background()
	up, url := newUpstream(t, "A", "B")
	cfgPath, storePath := writeConfig(t, url)

	a, err := New(ctx, cfgPath)
	require.NoError(t, err)
	rep, err := a.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.NewIDs)
	assert.Equal(t, []string{"A", "B"}, a.Seen().IDs())
	require.NoError(t, a.Stop(ctx, StopOneShot))

	up.set("A", "B", "C")
	a, err = New(ctx, cfgPath)
	require.NoError(t, err)
	rep, err = a.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, rep.NewIDs)
	require.NoError(t, a.Stop(ctx, StopOneShot))

	b, err := os.ReadFile(storePath)
	require.NoError(t, err)
	assert.Equal(t, "[\n    \"A\",\n    \"B\",\n    \"C\"\n]", string(b))
}

func TestStartRunsLoopUntilStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	up, url := newUpstream(t, "A")
	cfgPath, _ := writeConfig(t, url)

	a, err := New(ctx, cfgPath)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	assert.Error(t, a.Start(ctx))

	// Bootstrap, then the first sweep, then a one hour sleep.
	require.Eventually(t, func() bool { return up.calls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"A"}, a.Seen().IDs())

	doc, healthy := a.health()
	assert.True(t, healthy)
	assert.Equal(t, 1, doc.(healthDoc).Monitor.SeenCount)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSignal))
	select {
	case <-a.Done():
	default:
		t.Fatal("app context still live after Stop")
	}
	assert.NoError(t, a.Err())
}

func TestApplyConfigUpdatesSchedule(t *testing.T) {
	ctx := context.Background()
	_, url := newUpstream(t)
	cfgPath, _ := writeConfig(t, url)
	a, err := New(ctx, cfgPath)
	require.NoError(t, err)
	defer a.Stop(ctx, StopUnknown)

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Poll.Interval = "1m"
	a.applyConfig(ctx, oldCfg, &newCfg)

	assert.Equal(t, "every 1m0s", a.Monitor().Status().Schedule)
}

func TestMapSchedule(t *testing.T) {
	tests := []struct {
		name    string
		poll    config.PollConfig
		want    string
		wantErr bool
	}{
		{name: "interval", poll: config.PollConfig{Interval: "45s"}, want: "every 45s"},
		{name: "default interval", poll: config.PollConfig{}, want: "every 30s"},
		{name: "cron overrides interval", poll: config.PollConfig{Interval: "45s", Schedule: "*/5 * * * *", Timezone: "UTC"}, want: "cron:*/5 * * * *"},
		{name: "bad timezone", poll: config.PollConfig{Schedule: "@hourly", Timezone: "Mars/Base"}, wantErr: true},
		{name: "bad cron", poll: config.PollConfig{Schedule: "cron:nope"}, wantErr: true},
		{name: "negative interval", poll: config.PollConfig{Interval: "-5s"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := mapSchedule(&config.Config{Poll: tt.poll})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, spec.String())
		})
	}
}

func TestMapStoreConfig(t *testing.T) {
	sc, err := mapStoreConfig(&config.Config{Store: config.StoreConfig{Driver: "SQLite", Path: " x.db ", BusyTimeout: "2s"}})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "x.db", sc.Path)
	assert.Equal(t, 2*time.Second, sc.BusyTimeout)

	_, err = mapStoreConfig(&config.Config{Store: config.StoreConfig{Driver: "redis"}})
	assert.Error(t, err)
	_, err = mapStoreConfig(&config.Config{Store: config.StoreConfig{Driver: "mongo", Path: "x"}})
	assert.Error(t, err)
}

func TestMapNotifierConfigDefaultsWhenOmitted(t *testing.T) {
	nc, err := mapNotifierConfig(&config.Config{})
	require.NoError(t, err)
	assert.True(t, nc.Enabled)
	assert.Equal(t, time.Second, nc.RetryBase)
	assert.Equal(t, 30*time.Second, nc.RetryMaxDelay)
}

func TestSDNotifierStates(t *testing.T) {
	var states []string
	n := &sdNotifier{notify: func(s string) (bool, error) {
		states = append(states, s)
		return true, nil
	}}
	n.Ready()
	n.Status(sweepStatus(monitor.SweepReport{Pages: 2, NewIDs: []string{"x"}, Truncated: true}, 9))
	n.Stopping()

	require.Len(t, states, 3)
	assert.Equal(t, "READY=1", states[0])
	assert.Contains(t, states[1], "STATUS=last sweep")
	assert.Contains(t, states[1], "2 page(s), 1 new, 9 seen (truncated)")
	assert.Equal(t, "STOPPING=1", states[2])
}
