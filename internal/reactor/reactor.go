// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package reactor wraps github.com/joeycumines/go-eventloop into the
// single-threaded, callback-driven core the broker runs on: no worker
// pools, no locks in the domain packages above it, every RPC a
// non-blocking call that resolves a Future on the reactor's own thread.
package reactor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-eventloop"
)

// Reactor is the broker's single cooperative thread. The job state engine,
// perilog and killbot run their state changes on it; perilog's process
// waits run on goroutines that Post their results back. Bootstrap runs
// before the reactor and does not use it.
type Reactor struct {
	loop *eventloop.Loop
	js   *eventloop.JS
}

// New constructs a Reactor. It does not start running until Run is called.
func New() (*Reactor, error) {
	loop, err := eventloop.New()
	if err != nil {
		return nil, fmt.Errorf("reactor: new loop: %w", err)
	}

	js, err := eventloop.NewJS(loop)
	if err != nil {
		return nil, fmt.Errorf("reactor: new js adapter: %w", err)
	}

	return &Reactor{loop: loop, js: js}, nil
}

// Run drives the reactor until ctx is canceled or Stop is called.
func (r *Reactor) Run(ctx context.Context) error {
	return r.loop.Run(ctx)
}

// Stop requests an orderly shutdown, draining queued callbacks first.
func (r *Reactor) Stop(ctx context.Context) error {
	return r.loop.Shutdown(ctx)
}

// Post enqueues fn to run on the reactor thread. It is the only safe way
// for code outside the reactor (e.g. a transport's read goroutine) to
// touch state owned by a controller.
func (r *Reactor) Post(fn func()) error {
	return r.loop.Submit(fn)
}

// After schedules fn to run on the reactor thread once delay has elapsed,
// returning a cancel function. It is how timeouts (perilog kill-after-grace,
// killbot kill timer) are implemented — never a
// raw time.AfterFunc, which would fire off-thread.
func (r *Reactor) After(delay time.Duration, fn func()) (cancel func(), err error) {
	timerID, err := r.js.SetTimeout(fn, int(delay.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("reactor: schedule timer: %w", err)
	}
	return func() { r.js.ClearTimeout(timerID) }, nil
}

// Future is a single-resolution callback register, the non-blocking
// counterpart of an RPC: NewFuture returns one when a method call is issued,
// the reactor resolves or rejects it when a reply or timeout arrives, and
// callers attach continuations rather than blocking on a channel read.
type Future struct {
	id      string
	promise *eventloop.ChainedPromise
	resolve eventloop.ResolveFunc
	reject  eventloop.RejectFunc
}

// NewFuture creates an unresolved Future bound to this reactor's thread.
// Each Future carries a unique id (visible via ID) so a caller juggling
// several outstanding RPCs at once -- jobspec/R lookups, bootstrap.whois
// streams, drain requests -- can correlate a log line or an error back to
// the specific future that raised it.
func (r *Reactor) NewFuture() *Future {
	promise, resolve, reject := r.js.NewChainedPromise()
	return &Future{id: uuid.NewString(), promise: promise, resolve: resolve, reject: reject}
}

// ID returns the future's correlation id, assigned once at creation.
func (f *Future) ID() string { return f.id }

// Resolve fulfills the future with val. Must be called from the reactor
// thread (i.e. from within a Post/After callback).
func (f *Future) Resolve(val any) { f.resolve(val) }

// Reject fails the future with err. Must be called from the reactor thread.
func (f *Future) Reject(err error) { f.reject(err) }

// Then registers continuations, returning a derived Future-like promise
// for chaining. onFulfilled/onRejected run on the reactor thread.
func (f *Future) Then(onFulfilled, onRejected func(eventloop.Result) eventloop.Result) *eventloop.ChainedPromise {
	return f.promise.Then(onFulfilled, onRejected)
}

// Wait blocks the calling goroutine (NOT the reactor thread) until the
// future settles, for use in tests and cmd/ glue that bridge reactor
// callbacks back into ordinary blocking code.
func (f *Future) Wait(ctx context.Context) (eventloop.Result, error) {
	ch := f.promise.ToChannel()
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
