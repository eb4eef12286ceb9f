package tgd

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// RunResult is the outcome delivered by the asynchronous calling convention.
type RunResult struct {
	Result *Result
	Err    error
}

// Session is a logical unit of causally-ordered work. Each successful
// operation's bookmark is chained into the next operation's starting point,
// including across a failover to a different physical server. Operations on
// one session never run concurrently.
type Session struct {
	id       uuid.UUID
	runner   runner
	mode     AccessMode
	logger   zerolog.Logger
	lock     *sync.Mutex
	bookmark string
	isClosed *atomic.Bool
}

func newSession(r runner, defaultMode AccessMode, logger zerolog.Logger) *Session {
	id := uuid.New()
	return &Session{
		id:       id,
		runner:   r,
		mode:     defaultMode,
		logger:   logger.With().Str("session_id", id.String()).Logger(),
		lock:     &sync.Mutex{},
		isClosed: atomic.NewBool(false),
	}
}

// ID identifies the session in log events.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Run executes one query with the session's default access mode.
func (s *Session) Run(ctx context.Context, query Query) (*Result, error) {
	return s.RunWithAccessMode(ctx, s.mode, query)
}

// RunWithAccessMode executes one query, overriding the default access mode.
// The session lock enforces strict in-session ordering.
func (s *Session) RunWithAccessMode(ctx context.Context, mode AccessMode, query Query) (*Result, error) {
	if s.isClosed.Load() {
		return nil, ErrSessionClosed
	}
	if s.runner.closed() {
		return nil, ErrDriverClosed
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	result, err := s.runner.runWithMode(ctx, mode, query, s.bookmark)
	if err != nil {
		return nil, err
	}

	if result.Summary.Bookmark != "" {
		s.bookmark = result.Summary.Bookmark
	}

	return result, nil
}

// RunAsync is the non-blocking calling convention: identical pooling and
// retry semantics, delivered on a channel.
func (s *Session) RunAsync(ctx context.Context, query Query) <-chan RunResult {
	outcome := make(chan RunResult, 1)

	go func() {
		result, err := s.Run(ctx, query)
		outcome <- RunResult{Result: result, Err: err}
		close(outcome)
	}()

	return outcome
}

// LastBookmark returns the causal token of the last successful operation.
func (s *Session) LastBookmark() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.bookmark
}

// Close rejects further operations on the session. The driver and its pool
// stay up.
func (s *Session) Close() error {
	s.isClosed.Store(true)
	return nil
}
