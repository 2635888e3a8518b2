package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"quill/api/internal/store"
)

const (
	SourceIndex = "index"
	SourceStore = "store"
)

const indexQueueSize = 256

type postSearcher interface {
	SearchPosts(ctx context.Context, text string, limit, offset int) ([]store.Post, error)
}

// indexOp is one queued index change. A nil record means delete.
type indexOp struct {
	id     string
	record *PostRecord
}

// Service is the facade that tries the index first and falls back to the post store.
// Index changes are applied by a single worker in the order they were issued.
type Service struct {
	engine   Engine
	fallback postSearcher
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	ops    chan indexOp
	done   chan struct{}
}

// NewService creates a search service. engine may be nil if Meilisearch is not configured.
func NewService(engine Engine, fallback postSearcher, logger *slog.Logger) *Service {
	s := &Service{engine: engine, fallback: fallback, logger: logger.With("component", "search")}
	if engine != nil {
		s.ops = make(chan indexOp, indexQueueSize)
		s.done = make(chan struct{})
		go s.applyIndexOps()
	}
	return s
}

// Close stops accepting index changes and waits for the queued ones to be applied.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed || s.ops == nil {
		s.closed = true
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ops)
	s.mu.Unlock()
	<-s.done
}

func (s *Service) applyIndexOps() {
	defer close(s.done)
	for op := range s.ops {
		if !s.engine.Healthy() {
			s.logger.Warn("index unavailable, dropping change", "post_id", op.id)
			continue
		}
		if op.record != nil {
			if err := s.engine.IndexPosts([]PostRecord{*op.record}); err != nil {
				s.logger.Warn("index post", "post_id", op.id, "error", err)
			}
			continue
		}
		if err := s.engine.DeletePost(op.id); err != nil {
			s.logger.Warn("delete post from index", "post_id", op.id, "error", err)
		}
	}
}

func (s *Service) enqueue(op indexOp) {
	if !s.indexReady() {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.ops <- op
}

func (s *Service) indexReady() bool {
	return s.engine != nil && s.engine.Healthy()
}

// Search tries the index if healthy, otherwise falls back to a store scan.
func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text, Source: SourceStore}
	}

	if s.indexReady() {
		results, total, err := s.engine.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceIndex}
		}
		s.logger.WarnContext(ctx, "index search failed, falling back to store", "error", err)
	}

	posts, err := s.fallback.SearchPosts(ctx, q.Text, q.Limit, q.Offset)
	if err != nil {
		s.logger.ErrorContext(ctx, "store search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Source: SourceStore}
	}
	results := make([]Result, 0, len(posts))
	for _, post := range posts {
		results = append(results, resultFromPost(post))
	}
	return Response{Results: results, Total: len(results), Query: q.Text, Source: SourceStore}
}

// IndexPost queues a post for indexing without waiting for it.
func (s *Service) IndexPost(post store.Post) {
	record := RecordFromPost(post)
	s.enqueue(indexOp{id: post.ID, record: &record})
}

// DeletePost queues removal of a post from the index without waiting for it.
func (s *Service) DeletePost(id string) {
	s.enqueue(indexOp{id: id})
}

// ErrIndexUnavailable is returned by Reindex when no healthy index is configured.
var ErrIndexUnavailable = errors.New("search index unavailable")

// Reindex pushes posts into the index synchronously.
func (s *Service) Reindex(posts []store.Post) error {
	if !s.indexReady() {
		return ErrIndexUnavailable
	}
	records := make([]PostRecord, 0, len(posts))
	for _, post := range posts {
		records = append(records, RecordFromPost(post))
	}
	return s.engine.IndexPosts(records)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
