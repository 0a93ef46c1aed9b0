// Package query is a small keyed fetch/caching coordinator.
//
// A Client owns one cache entry per key. Reads never block: the first read
// of a key (or a read after invalidation or staleness) starts a background
// fetch and reports the current state. Concurrent fetches of one key are
// collapsed into a single flight. Subscribers are told about every state
// change.
package query

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "weekcal/internal/log"
)

// Status is the settled state of a key.
type Status string

const (
	// StatusLoading means no fetch for the key has settled yet.
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// FetchFunc produces the data for a key.
type FetchFunc func(ctx context.Context) (any, error)

// State is a snapshot of one key.
type State struct {
	Key        string
	Status     Status
	Data       any
	Err        error
	UpdatedAt  time.Time
	IsFetching bool
}

// IsLoading reports whether the key has never settled.
func (s State) IsLoading() bool {
	return s.Status == StatusLoading
}

// Options configures a Client.
type Options struct {
	// StaleTime is how long settled data is considered fresh. Zero means
	// data stays fresh until invalidated.
	StaleTime time.Duration
	// FetchTimeout bounds each fetch. Zero means no timeout.
	FetchTimeout time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

type entry struct {
	state State
	// seq identifies the latest flight; results of older flights are dropped.
	seq         uint64
	invalidated bool
	fn          FetchFunc

	// version counts state changes; delivered is the last version passed
	// to subscribers and is guarded by Client.notifyMu.
	version   uint64
	delivered uint64
}

// Client coordinates fetches. Construct one per process and pass it to the
// components that need it.
type Client struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	group  singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	subs    map[int]func(State)
	nextSub int

	// notifyMu serializes delivery so subscribers see each key's states in
	// the order they happened.
	notifyMu sync.Mutex
}

func NewClient(opts Options) *Client {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
		subs:    make(map[int]func(State)),
	}
}

// Query returns the current state of key, starting a background fetch with
// fn when the key has no data, was invalidated, or is stale.
func (c *Client) Query(key string, fn FetchFunc) State {
	c.mu.Lock()
	e := c.entryLocked(key, fn)
	var ch <-chan singleflight.Result
	if c.needsFetchLocked(e) {
		ch = c.launchLocked(key, e)
	}
	st, ver := e.state, e.version
	c.mu.Unlock()

	if ch != nil {
		c.notify(e, st, ver)
	}
	return st
}

// Fetch is Query followed by waiting for the in-flight fetch, if any, to
// settle. If ctx ends first the current state is returned.
func (c *Client) Fetch(ctx context.Context, key string, fn FetchFunc) State {
	c.mu.Lock()
	e := c.entryLocked(key, fn)
	var ch <-chan singleflight.Result
	started := false
	switch {
	case c.needsFetchLocked(e):
		ch = c.launchLocked(key, e)
		started = true
	case e.state.IsFetching:
		ch = c.joinLocked(key, e)
	}
	st, ver := e.state, e.version
	c.mu.Unlock()

	if started {
		c.notify(e, st, ver)
	}
	return c.wait(ctx, key, ch)
}

// Refetch marks key stale and fetches it again, waiting for the new result.
// A fetch already in flight is superseded.
func (c *Client) Refetch(ctx context.Context, key string, fn FetchFunc) State {
	c.mu.Lock()
	e := c.entryLocked(key, fn)
	ch := c.launchLocked(key, e)
	st, ver := e.state, e.version
	c.mu.Unlock()

	c.notify(e, st, ver)
	return c.wait(ctx, key, ch)
}

// Invalidate marks key stale so the next read refetches it. Data stays
// visible until the refetch settles.
func (c *Client) Invalidate(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.invalidated = true
	}
	c.mu.Unlock()
}

// Peek returns the state of key without starting a fetch.
func (c *Client) Peek(key string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// Subscribe registers fn for state changes of every key. Each key's states
// arrive in order; a state overtaken by a newer one before delivery is
// skipped. fn must not block or call back into the Client.
func (c *Client) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Close cancels in-flight fetches and waits for them to return.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Client) entryLocked(key string, fn FetchFunc) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{state: State{Key: key, Status: StatusLoading}}
		c.entries[key] = e
	}
	if fn != nil {
		e.fn = fn
	}
	return e
}

func (c *Client) needsFetchLocked(e *entry) bool {
	if e.fn == nil || e.state.IsFetching {
		return false
	}
	if e.state.Status == StatusLoading || e.invalidated {
		return true
	}
	if c.opts.StaleTime > 0 && c.opts.Now().Sub(e.state.UpdatedAt) >= c.opts.StaleTime {
		return true
	}
	return false
}

// launchLocked starts a new flight for key, superseding any flight still
// registered under it. c.mu must be held.
func (c *Client) launchLocked(key string, e *entry) <-chan singleflight.Result {
	e.seq++
	e.version++
	e.invalidated = false
	e.state.IsFetching = true

	seq, fn := e.seq, e.fn
	c.group.Forget(key)
	c.wg.Add(1)
	return c.group.DoChan(key, func() (any, error) {
		defer c.wg.Done()
		return c.run(key, seq, fn)
	})
}

// joinLocked returns the result channel of the flight running for key.
// c.mu must be held and e.state.IsFetching must be true, so the flight is
// still registered and fn below only runs if it raced to completion.
func (c *Client) joinLocked(key string, e *entry) <-chan singleflight.Result {
	seq, fn := e.seq, e.fn
	return c.group.DoChan(key, func() (any, error) {
		c.wg.Add(1)
		defer c.wg.Done()
		return c.run(key, seq, fn)
	})
}

func (c *Client) run(key string, seq uint64, fn FetchFunc) (any, error) {
	ctx := c.ctx
	if c.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
		defer cancel()
	}

	appLog.Debug("query fetch start", "key", key, "seq", seq)
	data, err := fn(ctx)

	c.mu.Lock()
	e := c.entries[key]
	if e == nil || e.seq != seq {
		c.mu.Unlock()
		appLog.Debug("query fetch superseded", "key", key, "seq", seq)
		return data, err
	}
	e.version++
	e.state.IsFetching = false
	e.state.UpdatedAt = c.opts.Now()
	if err != nil {
		e.state.Status = StatusError
		e.state.Err = err
		e.state.Data = nil
	} else {
		e.state.Status = StatusSuccess
		e.state.Err = nil
		e.state.Data = data
	}
	st, ver := e.state, e.version
	c.mu.Unlock()

	if err != nil {
		appLog.Error("query fetch failed", err, "key", key)
	} else {
		appLog.Debug("query fetch settled", "key", key, "status", st.Status)
	}
	c.notify(e, st, ver)
	return data, err
}

func (c *Client) wait(ctx context.Context, key string, ch <-chan singleflight.Result) State {
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}
	st, _ := c.Peek(key)
	return st
}

// notify passes st, version ver of e, to the subscribers unless a newer
// version of e was already delivered.
func (c *Client) notify(e *entry, st State, ver uint64) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if ver <= e.delivered {
		return
	}
	e.delivered = ver

	c.mu.Lock()
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}
