package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/api/internal/store"
)

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	assert.Equal(t, "quill", cmd.Use)

	for _, path := range [][]string{{"serve"}, {"migrate", "up"}, {"migrate", "down"}, {"reindex"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestMigrateDownRejectsZeroSteps(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"migrate", "down", "--steps", "0"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--steps")
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("QUILL_TEST_SECRET", "from-env")
	path := filepath.Join(t.TempDir(), "quill.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9999\"\nauth:\n  jwt_secret: ${QUILL_TEST_SECRET}\n"), 0o600))

	opts := &rootOptions{configPath: path}
	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "from-env", cfg.JWTSecret)
}

func TestLoadConfigRejectsUnknownPostStore(t *testing.T) {
	t.Setenv("QUILL_POST_STORE", "sqlite")
	_, err := (&rootOptions{}).loadConfig()
	assert.Error(t, err)
}

func TestReindexRequiresMeili(t *testing.T) {
	t.Setenv("MEILI_URL", "")
	cmd := newRootCommand()
	cmd.SetArgs([]string{"reindex"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEILI_URL")
}

type pagedPosts struct {
	posts []store.Post
}

func (p *pagedPosts) ScanPosts(_ context.Context, batch int, fn func([]store.Post) error) error {
	for start := 0; start < len(p.posts); start += batch {
		end := min(start+batch, len(p.posts))
		if err := fn(p.posts[start:end]); err != nil {
			return err
		}
	}
	return nil
}

type recordingReindexer struct {
	batches []int
	failAt  int
}

func (r *recordingReindexer) Reindex(posts []store.Post) error {
	if r.failAt > 0 && len(r.batches)+1 == r.failAt {
		return errors.New("index rejected batch")
	}
	r.batches = append(r.batches, len(posts))
	return nil
}

func TestReindexAllCoversEveryPost(t *testing.T) {
	source := &pagedPosts{}
	for i := 0; i < 1203; i++ {
		source.posts = append(source.posts, store.Post{ID: fmt.Sprintf("%024x", i)})
	}
	index := &recordingReindexer{}

	total, err := reindexAll(context.Background(), source, index, 500)
	require.NoError(t, err)
	assert.Equal(t, 1203, total)
	assert.Equal(t, []int{500, 500, 203}, index.batches)
}

func TestReindexAllStopsOnIndexError(t *testing.T) {
	source := &pagedPosts{posts: make([]store.Post, 10)}
	index := &recordingReindexer{failAt: 2}

	total, err := reindexAll(context.Background(), source, index, 4)
	require.Error(t, err)
	assert.Equal(t, 4, total)
	assert.Contains(t, err.Error(), "after 4 posts")
}

func TestReindexRejectsZeroBatch(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"reindex", "--batch", "0"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--batch")
}
