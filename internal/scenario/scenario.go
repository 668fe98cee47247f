package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrNoTasks   = errors.New("scenario has no tasks")
	ErrBadWeight = errors.New("task weight must be positive")
	ErrBadWait   = errors.New("min wait must not exceed max wait")
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Action is one HTTP call a simulated user can make.
type Action struct {
	Name   string
	Method string
	Path   string
}

func (a Action) IsZero() bool {
	return a == Action{}
}

// NewRequest builds the request for this action against host. No body is sent.
func (a Action) NewRequest(ctx context.Context, host string) (*http.Request, error) {
	url := strings.TrimRight(host, "/") + a.Path
	return http.NewRequestWithContext(ctx, a.Method, url, nil)
}

// WeightedAction pairs an action with its relative selection frequency.
type WeightedAction struct {
	Action Action
	Weight int
}

// Descriptor is the template a load runner instantiates once per simulated user.
type Descriptor struct {
	Name  string
	Tasks []WeightedAction

	// Pacing between consecutive tasks, sampled by the runner.
	MinWait time.Duration
	MaxWait time.Duration

	// Run once per user, before the first task and after the last.
	OnStart Action
	OnStop  Action
}

func (d Descriptor) Validate() error {
	if len(d.Tasks) == 0 {
		return fmt.Errorf("%s: %w", d.Name, ErrNoTasks)
	}
	for _, t := range d.Tasks {
		if t.Weight <= 0 {
			return fmt.Errorf("%s: task %q has weight %d: %w", d.Name, t.Action.Name, t.Weight, ErrBadWeight)
		}
	}
	if d.MinWait < 0 || d.MinWait > d.MaxWait {
		return fmt.Errorf("%s: wait [%s, %s]: %w", d.Name, d.MinWait, d.MaxWait, ErrBadWait)
	}
	return nil
}

func (d Descriptor) TotalWeight() int {
	total := 0
	for _, t := range d.Tasks {
		total += t.Weight
	}
	return total
}

// User is a single simulated user instance. The runner owns its lifetime.
type User struct {
	ID     string
	Host   string
	Client Doer
}

func NewUser(id, host string, client Doer) *User {
	return &User{ID: id, Host: host, Client: client}
}

// Do issues the action's request and hands back whatever the transport
// returned. The caller closes the body.
func (u *User) Do(ctx context.Context, a Action) (*http.Response, error) {
	req, err := a.NewRequest(ctx, u.Host)
	if err != nil {
		return nil, err
	}
	return u.Client.Do(req)
}
