// Package uci runs a bounded pool of UCI engine processes, one bucket per
// option set so a process is never reconfigured between searches.
package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

type PoolConfig struct {
	BinaryPath string
	// PerSkillCapacity bounds live processes per option set.
	PerSkillCapacity int
	Logger           *zap.Logger
}

type Pool struct {
	binaryPath string
	capacity   int
	logger     *zap.Logger

	mu       sync.Mutex
	buckets  map[Options]*bucket
	sessions map[*Session]*bucket
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, errors.New("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	capacity := cfg.PerSkillCapacity
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		binaryPath: cfg.BinaryPath,
		capacity:   capacity,
		logger:     logger,
		buckets:    make(map[Options]*bucket),
		sessions:   make(map[*Session]*bucket),
	}, nil
}

// Acquire returns an idle session for opt, starting one if the bucket has
// room, or waits for a release.
func (p *Pool) Acquire(ctx context.Context, opt Options) (*Session, error) {
	b := p.bucketFor(opt)
	for {
		select {
		case s := <-b.idle:
			if err := s.EnsureReady(ctx); err != nil {
				b.discard(s)
				continue
			}
			p.track(s, b)
			return s, nil
		default:
		}

		s, err := b.create(ctx)
		if err == nil {
			p.track(s, b)
			return s, nil
		}
		if !errors.Is(err, errBucketFull) {
			return nil, err
		}

		select {
		case s := <-b.idle:
			if err := s.EnsureReady(ctx); err != nil {
				b.discard(s)
				continue
			}
			p.track(s, b)
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns s to its bucket; a non-nil err discards the process.
func (p *Pool) Release(s *Session, err error) {
	if s == nil {
		return
	}
	p.mu.Lock()
	b, ok := p.sessions[s]
	delete(p.sessions, s)
	p.mu.Unlock()
	if !ok {
		_ = s.Close()
		return
	}
	if err != nil || !b.put(s) {
		b.discard(s)
	}
}

// Close stops every idle process. Sessions still checked out are closed when
// released.
func (p *Pool) Close() error {
	p.mu.Lock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	for _, b := range buckets {
		b.drain()
	}
	return nil
}

// Search acquires a session, runs one search and releases it.
func (p *Pool) Search(ctx context.Context, opt Options, req SearchRequest) (SearchResponse, error) {
	s, err := p.Acquire(ctx, opt)
	if err != nil {
		return SearchResponse{}, err
	}
	resp, err := s.Search(ctx, req)
	p.Release(s, err)
	return resp, err
}

func (p *Pool) track(s *Session, b *bucket) {
	p.mu.Lock()
	p.sessions[s] = b
	p.mu.Unlock()
}

func (p *Pool) bucketFor(opt Options) *bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[opt]
	if !ok {
		b = &bucket{
			opt:        opt,
			capacity:   p.capacity,
			binaryPath: p.binaryPath,
			logger:     p.logger,
			idle:       make(chan *Session, p.capacity),
		}
		p.buckets[opt] = b
	}
	return b
}

var errBucketFull = errors.New("engine bucket at capacity")

type bucket struct {
	opt        Options
	capacity   int
	binaryPath string
	logger     *zap.Logger

	mu    sync.Mutex
	total int
	idle  chan *Session
}

func (b *bucket) create(ctx context.Context) (*Session, error) {
	b.mu.Lock()
	if b.total >= b.capacity {
		b.mu.Unlock()
		return nil, errBucketFull
	}
	b.total++
	b.mu.Unlock()

	s, err := NewSession(ctx, b.binaryPath, b.opt, b.logger)
	if err != nil {
		b.decrement()
		return nil, err
	}
	return s, nil
}

func (b *bucket) put(s *Session) bool {
	select {
	case b.idle <- s:
		return true
	default:
		return false
	}
}

func (b *bucket) discard(s *Session) {
	_ = s.Close()
	b.decrement()
}

func (b *bucket) drain() {
	for {
		select {
		case s := <-b.idle:
			b.discard(s)
		default:
			return
		}
	}
}

func (b *bucket) decrement() {
	b.mu.Lock()
	if b.total > 0 {
		b.total--
	}
	b.mu.Unlock()
}

func defaultCapacity() int {
	return min(max(runtime.NumCPU(), 2), 4)
}
