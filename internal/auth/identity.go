package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"quill/api/internal/store"
	"quill/api/internal/util"
)

// CookieName carries the access token for browser clients.
const CookieName = "quill_session"

// Identity is the resolved requester. The zero value is Anonymous.
type Identity struct {
	UserID string
	Name   string
	JTI    string
}

var Anonymous = Identity{}

func (i Identity) IsAnonymous() bool {
	return i.UserID == ""
}

type sessionLookup interface {
	LookupSession(ctx context.Context, jti string) (string, error)
}

type userLookup interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
}

// Resolver turns a raw credential into an Identity. It never fails: every
// rejected credential resolves to Anonymous.
type Resolver struct {
	secret   []byte
	sessions sessionLookup
	users    userLookup
	logger   *slog.Logger
}

func NewResolver(secret []byte, sessions sessionLookup, users userLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{secret: secret, sessions: sessions, users: users, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, credential string) Identity {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Anonymous
	}
	claims, err := ParseToken(r.secret, credential)
	if err != nil {
		return Anonymous
	}
	if !util.IsObjectID(claims.Sub) {
		return Anonymous
	}

	owner, err := r.sessions.LookupSession(ctx, claims.JTI)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.WarnContext(ctx, "session lookup failed", "error", err)
		}
		return Anonymous
	}
	if owner != claims.Sub {
		return Anonymous
	}

	user, err := r.users.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.WarnContext(ctx, "user lookup failed", "error", err)
		}
		return Anonymous
	}
	return Identity{UserID: user.ID, Name: user.DisplayName, JTI: claims.JTI}
}

// CredentialFromRequest returns the session cookie value, falling back to a bearer token.
func CredentialFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return strings.TrimSpace(cookie.Value)
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
