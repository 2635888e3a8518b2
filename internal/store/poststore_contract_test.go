package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quill/api/internal/util"
)

type postBackend interface {
	FindPost(context.Context, string) (Post, error)
	InsertPost(context.Context, Post) (Post, error)
	UpdatePost(context.Context, string, string, PostPatch) (Post, error)
	DeletePost(context.Context, string, string) (bool, error)
	ListPosts(context.Context, int) ([]Post, error)
	ListPostsByOwner(context.Context, string) ([]Post, error)
	SearchPosts(context.Context, string, int, int) ([]Post, error)
	ScanPosts(context.Context, int, func([]Post) error) error
	Ping(context.Context) error
}

// runPostBackendContract exercises the single-document guarantees both backends must give.
func runPostBackendContract(t *testing.T, backend postBackend) {
	ctx := context.Background()
	owner := util.NewObjectID()
	stranger := util.NewObjectID()

	require.NoError(t, backend.Ping(ctx))

	created, err := backend.InsertPost(ctx, Post{Title: "Hello", Content: "World", OwnerID: owner})
	require.NoError(t, err)
	require.True(t, util.IsObjectID(created.ID), "generated id %q", created.ID)
	assert.Equal(t, owner, created.OwnerID)

	found, err := backend.FindPost(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", found.Title)
	assert.Equal(t, owner, found.OwnerID)

	t.Run("foreign owner cannot update", func(t *testing.T) {
		_, err := backend.UpdatePost(ctx, created.ID, stranger, PostPatch{Title: "Hacked", Content: "x"})
		require.True(t, errors.Is(err, ErrNotFound), "got %v", err)

		again, err := backend.FindPost(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Hello", again.Title)
	})

	t.Run("owner update keeps id and owner", func(t *testing.T) {
		updated, err := backend.UpdatePost(ctx, created.ID, owner, PostPatch{Title: "Hello again", Content: "World again"})
		require.NoError(t, err)
		assert.Equal(t, created.ID, updated.ID)
		assert.Equal(t, owner, updated.OwnerID)
		assert.Equal(t, "Hello again", updated.Title)
	})

	t.Run("listing and search", func(t *testing.T) {
		mine, err := backend.ListPostsByOwner(ctx, owner)
		require.NoError(t, err)
		require.Len(t, mine, 1)

		hits, err := backend.SearchPosts(ctx, "hello AGAIN", 10, 0)
		require.NoError(t, err)
		assert.NotEmpty(t, hits)

		skipped, err := backend.SearchPosts(ctx, "hello AGAIN", 10, len(hits))
		require.NoError(t, err)
		assert.Empty(t, skipped)

		recent, err := backend.ListPosts(ctx, 5)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(recent), 5)
	})

	t.Run("foreign owner cannot delete", func(t *testing.T) {
		removed, err := backend.DeletePost(ctx, created.ID, stranger)
		require.NoError(t, err)
		assert.False(t, removed)
		_, err = backend.FindPost(ctx, created.ID)
		require.NoError(t, err)
	})

	t.Run("owner delete is idempotent", func(t *testing.T) {
		removed, err := backend.DeletePost(ctx, created.ID, owner)
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = backend.DeletePost(ctx, created.ID, owner)
		require.NoError(t, err)
		assert.False(t, removed)

		_, err = backend.FindPost(ctx, created.ID)
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	t.Run("scan visits every post once in keyset pages", func(t *testing.T) {
		want := map[string]bool{}
		for i := 0; i < 5; i++ {
			post, err := backend.InsertPost(ctx, Post{Title: "scan", Content: "page", OwnerID: owner})
			require.NoError(t, err)
			want[post.ID] = true
		}

		seen := map[string]int{}
		pages := 0
		err := backend.ScanPosts(ctx, 2, func(page []Post) error {
			pages++
			assert.LessOrEqual(t, len(page), 2)
			for _, post := range page {
				seen[post.ID]++
			}
			return nil
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pages, 3)
		for id := range want {
			assert.Equal(t, 1, seen[id], "post %s", id)
		}
		for id, n := range seen {
			assert.Equal(t, 1, n, "post %s visited more than once", id)
		}

		stop := errors.New("stop")
		err = backend.ScanPosts(ctx, 2, func([]Post) error { return stop })
		assert.ErrorIs(t, err, stop)
	})
}
