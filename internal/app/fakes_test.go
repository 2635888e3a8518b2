package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"quill/api/internal/cache"
	"quill/api/internal/config"
	"quill/api/internal/logging"
	"quill/api/internal/search"
	"quill/api/internal/store"
	"quill/api/internal/util"
)

var errStoreDown = errors.New("store unavailable")

// memoryPosts is an in-memory post store with per-call counters.
type memoryPosts struct {
	mu      sync.Mutex
	posts   map[string]store.Post
	calls   map[string]int
	failOn  map[string]error
	pingErr error
	// afterList runs once a listing has been read, outside the lock.
	afterList func()
}

func newMemoryPosts() *memoryPosts {
	return &memoryPosts{
		posts:  make(map[string]store.Post),
		calls:  make(map[string]int),
		failOn: make(map[string]error),
	}
}

func (m *memoryPosts) record(op string) error {
	m.calls[op]++
	return m.failOn[op]
}

func (m *memoryPosts) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memoryPosts) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *memoryPosts) get(id string) (store.Post, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[id]
	return post, ok
}

func (m *memoryPosts) seed(post store.Post) store.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	if post.ID == "" {
		post.ID = util.NewObjectID()
	}
	post.CreatedAt = time.Now().UTC()
	post.UpdatedAt = post.CreatedAt
	m.posts[post.ID] = post
	return post
}

func (m *memoryPosts) FindPost(_ context.Context, postID string) (store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("find"); err != nil {
		return store.Post{}, err
	}
	post, ok := m.posts[postID]
	if !ok {
		return store.Post{}, store.ErrNotFound
	}
	return post, nil
}

func (m *memoryPosts) InsertPost(_ context.Context, post store.Post) (store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("insert"); err != nil {
		return store.Post{}, err
	}
	post.CreatedAt = time.Now().UTC()
	post.UpdatedAt = post.CreatedAt
	m.posts[post.ID] = post
	return post, nil
}

func (m *memoryPosts) UpdatePost(_ context.Context, postID, ownerID string, patch store.PostPatch) (store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("update"); err != nil {
		return store.Post{}, err
	}
	post, ok := m.posts[postID]
	if !ok || post.OwnerID != ownerID {
		return store.Post{}, store.ErrNotFound
	}
	post.Title = patch.Title
	post.Content = patch.Content
	post.UpdatedAt = time.Now().UTC()
	m.posts[postID] = post
	return post, nil
}

func (m *memoryPosts) DeletePost(_ context.Context, postID, ownerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("delete"); err != nil {
		return false, err
	}
	post, ok := m.posts[postID]
	if !ok || post.OwnerID != ownerID {
		return false, nil
	}
	delete(m.posts, postID)
	return true, nil
}

func (m *memoryPosts) ListPosts(_ context.Context, limit int) ([]store.Post, error) {
	m.mu.Lock()
	if err := m.record("list"); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	items := m.sorted(func(store.Post) bool { return true })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	hook := m.afterList
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return items, nil
}

func (m *memoryPosts) ListPostsByOwner(_ context.Context, ownerID string) ([]store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("listByOwner"); err != nil {
		return nil, err
	}
	return m.sorted(func(p store.Post) bool { return p.OwnerID == ownerID }), nil
}

func (m *memoryPosts) SearchPosts(_ context.Context, text string, _, offset int) ([]store.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("search"); err != nil {
		return nil, err
	}
	needle := strings.ToLower(text)
	items := m.sorted(func(p store.Post) bool {
		return strings.Contains(strings.ToLower(p.Title+" "+p.Content), needle)
	})
	if offset >= len(items) {
		return []store.Post{}, nil
	}
	return items[offset:], nil
}

func (m *memoryPosts) Ping(context.Context) error {
	return m.pingErr
}

func (m *memoryPosts) sorted(keep func(store.Post) bool) []store.Post {
	items := make([]store.Post, 0, len(m.posts))
	for _, post := range m.posts {
		if keep(post) {
			items = append(items, post)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items
}

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]store.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[string]store.User)}
}

func (m *memoryUsers) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == strings.ToLower(strings.TrimSpace(email)) {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memoryUsers) GetUserByID(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memoryUsers) CreateUser(_ context.Context, user store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return store.User{}, store.ErrConflict
		}
	}
	user.CreatedAt = time.Now().UTC()
	m.users[user.ID] = user
	return user, nil
}

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]string
	pingErr  error
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[string]string)}
}

func (m *memorySessions) SaveSession(_ context.Context, jti, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[jti] = userID
	return nil
}

func (m *memorySessions) LookupSession(_ context.Context, jti string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.sessions[jti]
	if !ok {
		return "", store.ErrNotFound
	}
	return userID, nil
}

func (m *memorySessions) RevokeSession(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, jti)
	return nil
}

func (m *memorySessions) Ping(context.Context) error {
	return m.pingErr
}

// recordingViews is a view cache that remembers every invalidation.
type recordingViews struct {
	mu          sync.Mutex
	entries     map[string][]byte
	generations map[string]int64
	invalidated [][]string
	failWith    error
}

func newRecordingViews() *recordingViews {
	return &recordingViews{entries: make(map[string][]byte), generations: make(map[string]int64)}
}

func (v *recordingViews) Get(_ context.Context, view string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	payload, ok := v.entries[view]
	if !ok {
		return nil, cache.ErrMiss
	}
	return payload, nil
}

func (v *recordingViews) Generation(_ context.Context, view string) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.generations[view], nil
}

func (v *recordingViews) Set(_ context.Context, view string, generation int64, payload []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.generations[view] != generation {
		return cache.ErrStale
	}
	v.entries[view] = payload
	return nil
}

func (v *recordingViews) Invalidate(_ context.Context, views ...string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.invalidated = append(v.invalidated, append([]string(nil), views...))
	for _, view := range views {
		v.generations[view]++
		delete(v.entries, view)
	}
	return v.failWith
}

func (v *recordingViews) invalidations() [][]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([][]string(nil), v.invalidated...)
}

type testEnv struct {
	service  *Service
	posts    *memoryPosts
	users    *memoryUsers
	sessions *memorySessions
	views    *recordingViews
}

func newTestEnv() *testEnv {
	posts := newMemoryPosts()
	users := newMemoryUsers()
	sessions := newMemorySessions()
	views := newRecordingViews()
	cfg := config.Config{JWTSecret: "test-secret", SessionTTL: time.Hour}
	logger := logging.Discard()
	index := search.NewService(nil, posts, logger)
	return &testEnv{
		service:  New(cfg, posts, users, sessions, views, index, logger),
		posts:    posts,
		users:    users,
		sessions: sessions,
		views:    views,
	}
}
