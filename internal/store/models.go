package store

import (
	"errors"
	"time"
)

const defaultScanBatch = 500

var (
	// ErrNotFound is returned when the addressed row or document does not exist,
	// or a conditional write matched nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("conflict")
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Post is a single authored entry. OwnerID is assigned at insert and never rewritten.
type Post struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PostPatch carries the only mutable fields of a post.
type PostPatch struct {
	Title   string
	Content string
}
