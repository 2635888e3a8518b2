package search

import (
	"time"

	"quill/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	OwnerID string `json:"ownerId"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// Engine is a full-text index over posts.
type Engine interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
	IndexPosts(posts []PostRecord) error
	DeletePost(id string) error
}

// PostRecord is the data we index for a post.
type PostRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	OwnerID   string `json:"ownerId"`
	CreatedAt int64  `json:"createdAt"`
}

func RecordFromPost(post store.Post) PostRecord {
	return PostRecord{
		ID:        post.ID,
		Title:     post.Title,
		Content:   post.Content,
		OwnerID:   post.OwnerID,
		CreatedAt: post.CreatedAt.UTC().Truncate(time.Second).Unix(),
	}
}

const snippetRunes = 160

func resultFromPost(post store.Post) Result {
	snippet := []rune(post.Content)
	if len(snippet) > snippetRunes {
		snippet = append(snippet[:snippetRunes], '…')
	}
	return Result{ID: post.ID, Title: post.Title, Snippet: string(snippet), OwnerID: post.OwnerID}
}
