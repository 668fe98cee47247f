package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrNoRoute  = errors.New("no route for host")
	ErrBadRoute = errors.New("invalid route")
)

// Route maps a host pattern to the backends that serve it. A pattern of the
// form "*suffix" matches any host ending in suffix.
type Route struct {
	Host     string   `mapstructure:"host" json:"host"`
	Backends []string `mapstructure:"backends" json:"backends"`
}

// ParseRoute reads "host=addr[,addr...]".
func ParseRoute(s string) (Route, error) {
	host, list, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(host) == "" {
		return Route{}, fmt.Errorf("%w: %q, want host=addr[,addr]", ErrBadRoute, s)
	}
	r := Route{Host: strings.TrimSpace(host)}
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			r.Backends = append(r.Backends, b)
		}
	}
	return r, nil
}

// RouteTable checks every backend address and merges routes that share a
// host pattern.
func RouteTable(routes []Route) (map[string][]string, error) {
	table := make(map[string][]string, len(routes))
	for _, r := range routes {
		host := strings.ToLower(strings.TrimSpace(r.Host))
		if host == "" {
			return nil, fmt.Errorf("%w: empty host", ErrBadRoute)
		}
		if len(r.Backends) == 0 {
			return nil, fmt.Errorf("%w: %s has no backends", ErrBadRoute, host)
		}
		for _, b := range r.Backends {
			if _, _, err := net.SplitHostPort(b); err != nil {
				return nil, fmt.Errorf("%w: %s backend %q: %v", ErrBadRoute, host, b, err)
			}
		}
		table[host] = append(table[host], r.Backends...)
	}
	return table, nil
}

// Registry holds the current host routing table. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	routes map[string][]string
}

func NewRegistry() *Registry {
	return &Registry{routes: make(map[string][]string)}
}

// Update swaps in a new routing table. Hosts with no backends are dropped.
func (r *Registry) Update(routes map[string][]string) {
	next := make(map[string][]string, len(routes))
	for host, backends := range routes {
		if len(backends) == 0 {
			continue
		}
		next[strings.ToLower(host)] = append([]string(nil), backends...)
	}
	r.mu.Lock()
	r.routes = next
	r.mu.Unlock()
}

// Hosts lists the registered host patterns, sorted.
func (r *Registry) Hosts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for h := range r.routes {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Lookup returns a backend address for host. Any port on host is ignored.
// An exact match wins; otherwise leading labels are dropped one at a time
// and "*" plus the remainder is tried, so "www.example.com" falls back to
// "*www.example.com", "*example.com" and then "*com". Among several
// backends one is picked at random.
func (r *Registry) Lookup(host string) (string, error) {
	name := strings.ToLower(host)
	if h, _, err := net.SplitHostPort(name); err == nil {
		name = h
	}

	if addr, ok := r.pick(name); ok {
		return addr, nil
	}
	labels := strings.Split(name, ".")
	for i := range labels {
		if addr, ok := r.pick("*" + strings.Join(labels[i:], ".")); ok {
			return addr, nil
		}
	}
	return "", fmt.Errorf("%w %s", ErrNoRoute, host)
}

func (r *Registry) pick(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backends := r.routes[key]
	if len(backends) == 0 {
		return "", false
	}
	return backends[rand.Intn(len(backends))], true
}

// Source produces a fresh routing table.
type Source func() (map[string][]string, error)

// Refresh reloads the table from src every interval until ctx is done. A
// failed reload keeps the previous table.
func (r *Registry) Refresh(ctx context.Context, src Source, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			routes, err := src()
			if err != nil {
				log.Warn().Err(err).Msg("failed to refresh routes")
				continue
			}
			r.Update(routes)
			log.Debug().Int("hosts", len(routes)).Msg("routes refreshed")
		}
	}
}
