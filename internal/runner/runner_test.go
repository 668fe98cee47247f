package runner

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knusbaum/robby/internal/dummy"
	"github.com/knusbaum/robby/internal/scenario"
)

// fastWebsite is the website scenario with millisecond pacing.
func fastWebsite() scenario.Descriptor {
	d := scenario.Website()
	d.MinWait = time.Millisecond
	d.MaxWait = 3 * time.Millisecond
	return d
}

func testConfig(host string) Config {
	return Config{
		Host:       host,
		NumUsers:   1,
		RunTime:    200 * time.Millisecond,
		TimeoutSec: 2,
		Seed:       99,
	}
}

// sequenceDoer answers 200 to everything and cancels once it has seen
// limit requests.
type sequenceDoer struct {
	mu     sync.Mutex
	paths  []string
	limit  int
	cancel context.CancelFunc
}

func (d *sequenceDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.paths = append(d.paths, req.URL.Path)
	if len(d.paths) == d.limit {
		d.cancel()
	}
	d.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Body:       io.NopCloser(strings.NewReader("ok")),
		Request:    req,
	}, nil
}

func (d *sequenceDoer) seen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.paths...)
}

func TestRunUserLifecycleOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doer := &sequenceDoer{limit: 25, cancel: cancel}
	r := NewRunner(testConfig("http://robby.test"), fastWebsite())
	u := scenario.NewUser("u1", "http://robby.test", doer)

	r.runUser(ctx, u, rand.New(rand.NewSource(1)))

	paths := doer.seen()
	require.GreaterOrEqual(t, len(paths), 3)
	assert.Equal(t, "/login.html", paths[0])
	assert.Equal(t, "/logout.html", paths[len(paths)-1])

	for _, p := range paths[1 : len(paths)-1] {
		assert.Contains(t, []string{"/", "/profile.html"}, p)
	}

	counts := map[string]int{}
	for _, p := range paths {
		counts[p]++
	}
	assert.Equal(t, 1, counts["/login.html"])
	assert.Equal(t, 1, counts["/logout.html"])
}

func TestRunUserStopsImmediatelyWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doer := &sequenceDoer{cancel: func() {}}
	r := NewRunner(testConfig("http://robby.test"), fastWebsite())
	r.runUser(ctx, scenario.NewUser("u1", "http://robby.test", doer), rand.New(rand.NewSource(1)))

	// Both hooks still run once; no task does.
	assert.Equal(t, []string{"/login.html", "/logout.html"}, doer.seen())
	e, ok := r.Stats.Entry("GET", "/logout.html")
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.Requests)
}

func TestRunAgainstTargetSite(t *testing.T) {
	srv := httptest.NewServer(dummy.Handler(dummy.ServerConfig{}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.NumUsers = 3
	cfg.RunTime = 300 * time.Millisecond

	r := NewRunner(cfg, fastWebsite())
	require.NoError(t, r.Run(context.Background()))

	login, ok := r.Stats.Entry("GET", "/login.html")
	require.True(t, ok)
	assert.Equal(t, uint64(3), login.Requests)

	logout, ok := r.Stats.Entry("GET", "/logout.html")
	require.True(t, ok)
	assert.Equal(t, uint64(3), logout.Requests)

	index, ok := r.Stats.Entry("GET", "/")
	require.True(t, ok)
	assert.NotZero(t, index.Requests)

	// Profile needs the login cookie; a per-user jar keeps it.
	profile, ok := r.Stats.Entry("GET", "/profile.html")
	require.True(t, ok)
	assert.Zero(t, profile.Fail)

	assert.Zero(t, r.Stats.Total().Fail)
	assert.Equal(t, r.Stats.Total().Requests, uint64(len(r.Results())))

	snap := r.Snapshot()
	assert.Zero(t, snap.ActiveUsers)
	assert.Zero(t, snap.Inflight)
	assert.GreaterOrEqual(t, snap.Elapsed, cfg.RunTime)
}

func TestRunUsersGetDistinctIDs(t *testing.T) {
	srv := httptest.NewServer(dummy.Handler(dummy.ServerConfig{}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.NumUsers = 4
	cfg.RunTime = 50 * time.Millisecond

	r := NewRunner(cfg, fastWebsite())
	require.NoError(t, r.Run(context.Background()))

	ids := map[string]bool{}
	for _, res := range r.Results() {
		if res.Path == "/login.html" {
			ids[res.UserID] = true
		}
	}
	assert.Len(t, ids, 4)
}

func TestRunCountsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/profile.html" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := fastWebsite()
	d.Tasks = []scenario.WeightedAction{{Action: scenario.Profile, Weight: 1}}

	r := NewRunner(testConfig(srv.URL), d)
	require.NoError(t, r.Run(context.Background()))

	profile, ok := r.Stats.Entry("GET", "/profile.html")
	require.True(t, ok)
	assert.NotZero(t, profile.Requests)
	assert.Equal(t, profile.Requests, profile.Fail)
	assert.Contains(t, r.Stats.ErrorCounts(), "GET /profile.html: 500 Internal Server Error")

	login, _ := r.Stats.Entry("GET", "/login.html")
	assert.Zero(t, login.Fail)
}

func TestRunSpawnRate(t *testing.T) {
	srv := httptest.NewServer(dummy.Handler(dummy.ServerConfig{}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.NumUsers = 5
	cfg.SpawnRate = 10 // one user every 100ms
	cfg.RunTime = 150 * time.Millisecond

	r := NewRunner(cfg, fastWebsite())
	require.NoError(t, r.Run(context.Background()))

	login, ok := r.Stats.Entry("GET", "/login.html")
	require.True(t, ok)
	assert.Equal(t, uint64(2), login.Requests)
	logout, _ := r.Stats.Entry("GET", "/logout.html")
	assert.Equal(t, uint64(2), logout.Requests)
}

func TestRunParentCancel(t *testing.T) {
	srv := httptest.NewServer(dummy.Handler(dummy.ServerConfig{}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RunTime = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	r := NewRunner(cfg, fastWebsite())
	require.NoError(t, r.Run(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)

	logout, ok := r.Stats.Entry("GET", "/logout.html")
	require.True(t, ok)
	assert.Equal(t, uint64(1), logout.Requests)
}

func TestRunRejectsInvalidInput(t *testing.T) {
	good := testConfig("http://robby.test")

	tests := []struct {
		name string
		cfg  Config
		sc   scenario.Descriptor
		want error
	}{
		{"no host", Config{NumUsers: 1, RunTime: time.Second, TimeoutSec: 1}, fastWebsite(), ErrBadConfig},
		{"host without scheme", Config{Host: "localhost:8080", NumUsers: 1, RunTime: time.Second, TimeoutSec: 1}, fastWebsite(), ErrBadConfig},
		{"host with ftp scheme", Config{Host: "ftp://robby.test", NumUsers: 1, RunTime: time.Second, TimeoutSec: 1}, fastWebsite(), ErrBadConfig},
		{"host without address", Config{Host: "http://", NumUsers: 1, RunTime: time.Second, TimeoutSec: 1}, fastWebsite(), ErrBadConfig},
		{"no users", Config{Host: "http://x", RunTime: time.Second, TimeoutSec: 1}, fastWebsite(), ErrBadConfig},
		{"negative spawn rate", Config{Host: "http://x", NumUsers: 1, SpawnRate: -1, RunTime: time.Second, TimeoutSec: 1}, fastWebsite(), ErrBadConfig},
		{"no run time", Config{Host: "http://x", NumUsers: 1, TimeoutSec: 1}, fastWebsite(), ErrBadConfig},
		{"no timeout", Config{Host: "http://x", NumUsers: 1, RunTime: time.Second}, fastWebsite(), ErrBadConfig},
		{"empty scenario", good, scenario.Descriptor{Name: "empty"}, scenario.ErrNoTasks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRunner(tt.cfg, tt.sc).Run(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
