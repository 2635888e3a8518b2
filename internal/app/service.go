package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"quill/api/internal/auth"
	"quill/api/internal/authpw"
	"quill/api/internal/cache"
	"quill/api/internal/config"
	"quill/api/internal/logging"
	"quill/api/internal/search"
	"quill/api/internal/store"
	"quill/api/internal/util"
	"quill/api/internal/validate"
)

type postStore interface {
	FindPost(ctx context.Context, postID string) (store.Post, error)
	InsertPost(ctx context.Context, post store.Post) (store.Post, error)
	UpdatePost(ctx context.Context, postID, ownerID string, patch store.PostPatch) (store.Post, error)
	DeletePost(ctx context.Context, postID, ownerID string) (bool, error)
	ListPosts(ctx context.Context, limit int) ([]store.Post, error)
	ListPostsByOwner(ctx context.Context, ownerID string) ([]store.Post, error)
	Ping(ctx context.Context) error
}

type userStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
}

type sessionStore interface {
	SaveSession(ctx context.Context, jti, userID string, expiresAt time.Time) error
	LookupSession(ctx context.Context, jti string) (string, error)
	RevokeSession(ctx context.Context, jti string) error
	Ping(ctx context.Context) error
}

type postIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPost(post store.Post)
	DeletePost(id string)
}

const homeListingLimit = 50

// Session is what a successful sign-in hands back to the client.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Service struct {
	cfg      config.Config
	posts    postStore
	sessions sessionStore
	accounts *authpw.Service
	resolver *auth.Resolver
	views    cache.Views
	index    postIndex
	logger   *slog.Logger
}

func New(cfg config.Config, posts postStore, users userStore, sessions sessionStore, views cache.Views, index postIndex, logger *slog.Logger) *Service {
	if views == nil {
		views = cache.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		posts:    posts,
		sessions: sessions,
		accounts: authpw.NewService(users),
		resolver: auth.NewResolver([]byte(cfg.JWTSecret), sessions, users, logger),
		views:    views,
		index:    index,
		logger:   logger,
	}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// Resolve maps a raw credential to an identity. It never fails.
func (s *Service) Resolve(ctx context.Context, credential string) auth.Identity {
	return s.resolver.Resolve(ctx, credential)
}

func (s *Service) CreatePost(ctx context.Context, identity auth.Identity, raw validate.RawPost) Outcome {
	if identity.IsAnonymous() {
		return Redirect(HomeTarget)
	}

	fields, errs := validate.Post(raw)
	if !errs.Empty() {
		return Invalid(errs, raw)
	}

	post, err := s.posts.InsertPost(ctx, store.Post{
		ID:      util.NewObjectID(),
		Title:   fields.Title,
		Content: fields.Content,
		OwnerID: identity.UserID,
	})
	if err != nil {
		s.log(ctx).ErrorContext(ctx, "insert post failed", "user_id", identity.UserID, "error", err)
		return Failure(saveFailedMessage)
	}

	s.invalidate(ctx, cache.DashboardView(identity.UserID), cache.HomeView)
	s.indexPost(post)
	return Redirect(DashboardTarget)
}

// UpdatePost redirects home for malformed, absent and foreign posts alike.
func (s *Service) UpdatePost(ctx context.Context, identity auth.Identity, postID string, raw validate.RawPost) Outcome {
	if identity.IsAnonymous() {
		return Redirect(HomeTarget)
	}
	if !util.IsObjectID(postID) {
		return Redirect(HomeTarget)
	}

	fields, errs := validate.Post(raw)
	if !errs.Empty() {
		return Invalid(errs, raw)
	}

	existing, err := s.posts.FindPost(ctx, postID)
	if errors.Is(err, store.ErrNotFound) {
		return Redirect(HomeTarget)
	}
	if err != nil {
		s.log(ctx).ErrorContext(ctx, "find post failed", "post_id", postID, "error", err)
		return Failure(saveFailedMessage)
	}
	if existing.OwnerID != identity.UserID {
		return Redirect(HomeTarget)
	}

	updated, err := s.posts.UpdatePost(ctx, postID, identity.UserID, store.PostPatch{
		Title:   fields.Title,
		Content: fields.Content,
	})
	if errors.Is(err, store.ErrNotFound) {
		return Redirect(HomeTarget)
	}
	if err != nil {
		s.log(ctx).ErrorContext(ctx, "update post failed", "post_id", postID, "error", err)
		return Failure(saveFailedMessage)
	}

	s.invalidate(ctx, cache.DashboardView(identity.UserID), cache.HomeView, cache.PostView(postID))
	s.indexPost(updated)
	return Redirect(DashboardTarget)
}

// DeletePost answers with the dashboard redirect whether or not anything was removed.
func (s *Service) DeletePost(ctx context.Context, identity auth.Identity, postID string) Outcome {
	if identity.IsAnonymous() {
		return Redirect(HomeTarget)
	}
	if !util.IsObjectID(postID) {
		return Redirect(DashboardTarget)
	}

	existing, err := s.posts.FindPost(ctx, postID)
	if errors.Is(err, store.ErrNotFound) {
		return Redirect(DashboardTarget)
	}
	if err != nil {
		s.log(ctx).ErrorContext(ctx, "find post failed", "post_id", postID, "error", err)
		return Failure("Could not delete post")
	}
	if existing.OwnerID != identity.UserID {
		return Redirect(DashboardTarget)
	}

	if _, err := s.posts.DeletePost(ctx, postID, identity.UserID); err != nil {
		s.log(ctx).ErrorContext(ctx, "delete post failed", "post_id", postID, "error", err)
		return Failure("Could not delete post")
	}

	s.invalidate(ctx, cache.DashboardView(identity.UserID), cache.HomeView, cache.PostView(postID))
	if s.index != nil {
		s.index.DeletePost(postID)
	}
	return Redirect(DashboardTarget)
}

func (s *Service) invalidate(ctx context.Context, views ...string) {
	if err := s.views.Invalidate(ctx, views...); err != nil {
		s.log(ctx).WarnContext(ctx, "view invalidation failed", "views", views, "error", err)
	}
}

func (s *Service) indexPost(post store.Post) {
	if s.index != nil {
		s.index.IndexPost(post)
	}
}

// Home lists the newest posts of every author.
func (s *Service) Home(ctx context.Context) ([]store.Post, error) {
	return cachedView(ctx, s, cache.HomeView, func(ctx context.Context) ([]store.Post, error) {
		return s.posts.ListPosts(ctx, homeListingLimit)
	})
}

// Dashboard lists the caller's own posts.
func (s *Service) Dashboard(ctx context.Context, identity auth.Identity) ([]store.Post, error) {
	if identity.IsAnonymous() {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	return cachedView(ctx, s, cache.DashboardView(identity.UserID), func(ctx context.Context) ([]store.Post, error) {
		return s.posts.ListPostsByOwner(ctx, identity.UserID)
	})
}

func (s *Service) ShowPost(ctx context.Context, postID string) (store.Post, error) {
	if !util.IsObjectID(postID) {
		return store.Post{}, store.ErrNotFound
	}
	return cachedView(ctx, s, cache.PostView(postID), func(ctx context.Context) (store.Post, error) {
		return s.posts.FindPost(ctx, postID)
	})
}

// EditForm loads a post for its owner. Any other caller gets a redirect home.
func (s *Service) EditForm(ctx context.Context, identity auth.Identity, postID string) (store.Post, *Outcome, error) {
	home := Redirect(HomeTarget)
	if identity.IsAnonymous() || !util.IsObjectID(postID) {
		return store.Post{}, &home, nil
	}
	post, err := s.posts.FindPost(ctx, postID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Post{}, &home, nil
	}
	if err != nil {
		return store.Post{}, nil, fmt.Errorf("load post %s: %w", postID, err)
	}
	if post.OwnerID != identity.UserID {
		return store.Post{}, &home, nil
	}
	return post, nil, nil
}

func (s *Service) Search(ctx context.Context, text string, limit, offset int) search.Response {
	if s.index == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.index.Search(ctx, search.Query{Text: text, Limit: limit, Offset: offset})
}

// cachedView serves key from the view cache, loading and storing it on a miss.
// The view generation is read before the load, so a result computed before a
// concurrent invalidation is never written back. Cache faults are logged and
// fall through to the store.
func cachedView[T any](ctx context.Context, s *Service, key string, load func(context.Context) (T, error)) (T, error) {
	var value T
	payload, err := s.views.Get(ctx, key)
	if err == nil {
		if jsonErr := json.Unmarshal(payload, &value); jsonErr == nil {
			return value, nil
		}
		s.log(ctx).WarnContext(ctx, "discarding undecodable cached view", "view", key)
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log(ctx).WarnContext(ctx, "view cache read failed", "view", key, "error", err)
	}

	generation, genErr := s.views.Generation(ctx, key)
	if genErr != nil {
		s.log(ctx).WarnContext(ctx, "view generation read failed", "view", key, "error", genErr)
	}

	value, err = load(ctx)
	if err != nil || genErr != nil {
		return value, err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return value, nil
	}
	err = s.views.Set(ctx, key, generation, encoded)
	switch {
	case errors.Is(err, cache.ErrStale):
		s.log(ctx).DebugContext(ctx, "skipping cache write for invalidated view", "view", key)
	case err != nil:
		s.log(ctx).WarnContext(ctx, "view cache write failed", "view", key, "error", err)
	}
	return value, nil
}

func (s *Service) Register(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.SessionTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveSession(ctx, jti, user.ID, expiresAt); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) Logout(ctx context.Context, identity auth.Identity) error {
	if identity.IsAnonymous() || identity.JTI == "" {
		return nil
	}
	return s.sessions.RevokeSession(ctx, identity.JTI)
}

// Ping reports the first unreachable backing store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.posts.Ping(ctx); err != nil {
		return fmt.Errorf("post store: %w", err)
	}
	if err := s.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	return nil
}
