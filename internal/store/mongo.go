package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quill/api/internal/util"
)

const postsCollection = "posts"

// MongoStore keeps posts as documents in a single collection.
// Every write addresses exactly one document through its _id.
type MongoStore struct {
	client  *mongo.Client
	posts   *mongo.Collection
	timeout time.Duration
}

type postDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Title     string             `bson:"title"`
	Content   string             `bson:"content"`
	UserID    string             `bson:"userId"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func (d postDocument) post() Post {
	return Post{
		ID:        d.ID.Hex(),
		Title:     d.Title,
		Content:   d.Content,
		OwnerID:   d.UserID,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// OpenMongo connects to uri and pings the primary before returning.
func OpenMongo(ctx context.Context, uri, database string, timeout time.Duration) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := bounded(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return NewMongoStore(client, database, timeout), nil
}

func NewMongoStore(client *mongo.Client, database string, timeout time.Duration) *MongoStore {
	return &MongoStore{
		client:  client,
		posts:   client.Database(database).Collection(postsCollection),
		timeout: timeout,
	}
}

// EnsureIndexes creates the owner index used by dashboard listings.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	_, err := s.posts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create posts index: %w", err)
	}
	return nil
}

// parseObjectID accepts only the canonical lowercase form.
func parseObjectID(id string) (primitive.ObjectID, bool) {
	if !util.IsObjectID(id) {
		return primitive.NilObjectID, false
	}
	oid, err := primitive.ObjectIDFromHex(id)
	return oid, err == nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) FindPost(ctx context.Context, postID string) (Post, error) {
	oid, ok := parseObjectID(postID)
	if !ok {
		return Post{}, ErrNotFound
	}
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	var doc postDocument
	err := s.posts.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, fmt.Errorf("find post: %w", err)
	}
	return doc.post(), nil
}

func (s *MongoStore) InsertPost(ctx context.Context, post Post) (Post, error) {
	oid := primitive.NewObjectID()
	if post.ID != "" {
		parsed, ok := parseObjectID(post.ID)
		if !ok {
			return Post{}, fmt.Errorf("insert post: invalid id %q", post.ID)
		}
		oid = parsed
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := postDocument{
		ID:        oid,
		Title:     post.Title,
		Content:   post.Content,
		UserID:    post.OwnerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()
	if _, err := s.posts.InsertOne(ctx, doc); err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	return doc.post(), nil
}

// UpdatePost is a single findOneAndUpdate whose filter pins both _id and owner.
func (s *MongoStore) UpdatePost(ctx context.Context, postID, ownerID string, patch PostPatch) (Post, error) {
	oid, ok := parseObjectID(postID)
	if !ok {
		return Post{}, ErrNotFound
	}
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"title":     patch.Title,
		"content":   patch.Content,
		"updatedAt": time.Now().UTC().Truncate(time.Millisecond),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc postDocument
	err := s.posts.FindOneAndUpdate(ctx, bson.M{"_id": oid, "userId": ownerID}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, fmt.Errorf("update post: %w", err)
	}
	return doc.post(), nil
}

// DeletePost is a single findOneAndDelete whose filter pins both _id and owner.
func (s *MongoStore) DeletePost(ctx context.Context, postID, ownerID string) (bool, error) {
	oid, ok := parseObjectID(postID)
	if !ok {
		return false, nil
	}
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	err := s.posts.FindOneAndDelete(ctx, bson.M{"_id": oid, "userId": ownerID}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete post: %w", err)
	}
	return true, nil
}

func (s *MongoStore) ListPosts(ctx context.Context, limit int) ([]Post, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(clampLimit(limit)))
	return s.findPosts(ctx, bson.M{}, opts)
}

func (s *MongoStore) ListPostsByOwner(ctx context.Context, ownerID string) ([]Post, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	return s.findPosts(ctx, bson.M{"userId": ownerID}, opts)
}

func (s *MongoStore) SearchPosts(ctx context.Context, text string, limit, offset int) ([]Post, error) {
	pattern := primitive.Regex{Pattern: regexp.QuoteMeta(strings.TrimSpace(text)), Options: "i"}
	filter := bson.M{"$or": bson.A{
		bson.M{"title": pattern},
		bson.M{"content": pattern},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(max(offset, 0))).
		SetLimit(int64(clampLimit(limit)))
	return s.findPosts(ctx, filter, opts)
}

// ScanPosts walks every post oldest first, handing fn keyset pages of up to batch posts.
func (s *MongoStore) ScanPosts(ctx context.Context, batch int, fn func([]Post) error) error {
	if batch <= 0 {
		batch = defaultScanBatch
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(batch))

	filter := bson.M{}
	for {
		page, err := s.findPosts(ctx, filter, opts)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < batch {
			return nil
		}
		last := page[len(page)-1]
		lastID, ok := parseObjectID(last.ID)
		if !ok {
			return fmt.Errorf("scan posts: unexpected id %q", last.ID)
		}
		filter = bson.M{"$or": bson.A{
			bson.M{"createdAt": bson.M{"$gt": last.CreatedAt}},
			bson.M{"createdAt": last.CreatedAt, "_id": bson.M{"$gt": lastID}},
		}}
	}
}

func (s *MongoStore) findPosts(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Post, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	cursor, err := s.posts.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	var docs []postDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	items := make([]Post, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.post())
	}
	return items, nil
}
