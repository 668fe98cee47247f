package runner

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/knusbaum/robby/internal/scenario"
	"github.com/knusbaum/robby/internal/stats"
)

// Runner drives closed-loop simulated users built from a scenario descriptor.
type Runner struct {
	Cfg      Config
	Scenario scenario.Descriptor
	Stats    *stats.Stats

	transport *http.Transport

	mu      sync.Mutex
	results []RequestResult
	started time.Time

	inflight    int64
	activeUsers int64
}

func NewRunner(cfg Config, sc scenario.Descriptor) *Runner {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2000
	t.MaxConnsPerHost = 2000
	t.MaxIdleConnsPerHost = 2000

	return &Runner{
		Cfg:       cfg,
		Scenario:  sc,
		Stats:     stats.NewStats(),
		transport: t,
	}
}

// Run spawns Cfg.NumUsers users and blocks until Cfg.RunTime has elapsed or
// ctx is cancelled, and every started user has run its stop hook.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Cfg.Validate(); err != nil {
		return err
	}
	if err := r.Scenario.Validate(); err != nil {
		return fmt.Errorf("scenario: %w", err)
	}

	r.mu.Lock()
	r.started = time.Now()
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.Cfg.RunTime)
	defer cancel()

	log.Info().
		Str("scenario", r.Scenario.Name).
		Str("host", r.Cfg.Host).
		Int("users", r.Cfg.NumUsers).
		Float64("spawn_rate", r.Cfg.SpawnRate).
		Dur("run_time", r.Cfg.RunTime).
		Msg("runner starting")

	interval := spawnInterval(r.Cfg.SpawnRate)
	var wg sync.WaitGroup

spawn:
	for i := 0; i < r.Cfg.NumUsers; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				break spawn
			case <-time.After(interval):
			}
		}
		u := r.newUser()
		rnd := r.newRand(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runUser(ctx, u, rnd)
		}()
	}

	wg.Wait()
	log.Info().Uint64("requests", r.Snapshot().Requests).Msg("runner finished")
	return nil
}

func spawnInterval(rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / rate)
}

func (r *Runner) newUser() *scenario.User {
	// cookiejar.New only fails on a bad PublicSuffixList
	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Transport: r.transport,
		Timeout:   time.Duration(r.Cfg.TimeoutSec) * time.Second,
		Jar:       jar,
	}
	return scenario.NewUser(uuid.NewString(), r.Cfg.Host, client)
}

func (r *Runner) newRand(n int) *rand.Rand {
	seed := r.Cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed + int64(n)))
}

// runUser is one simulated user's whole life: start hook, weighted task
// loop until ctx is done, stop hook.
func (r *Runner) runUser(ctx context.Context, u *scenario.User, rnd *rand.Rand) {
	atomic.AddInt64(&r.activeUsers, 1)
	defer atomic.AddInt64(&r.activeUsers, -1)

	sc := r.Scenario
	log.Debug().Str("user", u.ID).Msg("user started")

	if !sc.OnStart.IsZero() {
		r.perform(ctx, u, sc.OnStart)
	}

	for ctx.Err() == nil {
		r.perform(ctx, u, pickTask(rnd, sc))
		if !sleep(ctx, sampleWait(rnd, sc.MinWait, sc.MaxWait)) {
			break
		}
	}

	if !sc.OnStop.IsZero() {
		// The run context is already done here; the stop hook still gets
		// one request timeout to finish.
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(r.Cfg.TimeoutSec)*time.Second)
		defer cancel()
		r.perform(stopCtx, u, sc.OnStop)
	}
	log.Debug().Str("user", u.ID).Msg("user stopped")
}

// perform runs one action and records its outcome. Requests cut short by the
// end of the run are not counted.
func (r *Runner) perform(ctx context.Context, u *scenario.User, a scenario.Action) {
	atomic.AddInt64(&r.inflight, 1)
	defer atomic.AddInt64(&r.inflight, -1)

	start := time.Now()
	resp, err := u.Do(ctx, a)

	res := RequestResult{
		TimeStamp: start,
		Method:    a.Method,
		Path:      a.Path,
		UserID:    u.ID,
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		res.Err = err.Error()
	} else {
		n, _ := io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		res.Status = resp.StatusCode
		res.Bytes = n
		res.Success = resp.StatusCode < http.StatusBadRequest
		if !res.Success {
			res.Err = resp.Status
		}
	}
	res.Latency = time.Since(start)

	if !res.Success {
		log.Debug().Str("user", u.ID).Str("action", a.Name).Str("error", res.Err).Msg("request failed")
	}
	r.record(res)
}

func (r *Runner) record(res RequestResult) {
	r.Stats.Add(res.Method, res.Path, res.Success, res.Bytes, res.Latency, res.Err)

	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

// Results returns a copy of every recorded request.
func (r *Runner) Results() []RequestResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RequestResult, len(r.results))
	copy(out, r.results)
	return out
}

func (r *Runner) Snapshot() Snapshot {
	total := r.Stats.Total()

	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = time.Since(started)
	}

	return Snapshot{
		Requests:    atomic.LoadUint64(&total.Requests),
		Fail:        atomic.LoadUint64(&total.Fail),
		ActiveUsers: atomic.LoadInt64(&r.activeUsers),
		Inflight:    atomic.LoadInt64(&r.inflight),
		Elapsed:     elapsed,
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
