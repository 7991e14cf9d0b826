// Package mongo drives CRUD cycles against a MongoDB collection. Every worker
// session owns its own client.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"

	"crudstress/internal/target"
)

type Config struct {
	URI        string
	Database   string
	Collection string
	// WriteConcern is one of journaled, majority, w1, unacknowledged or
	// empty for the server default.
	WriteConcern string
	// PoolSize is the max pool of each worker's client.
	PoolSize       uint64
	ConnectTimeout time.Duration
}

// Collection is the subset of *mongo.Collection the target uses.
type Collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Dialer connects one worker and returns its collection plus a disconnect
// func.
type Dialer func(ctx context.Context, worker int) (Collection, func(context.Context) error, error)

// ParseWriteConcern maps a config name to a driver write concern. An empty
// name returns nil.
func ParseWriteConcern(name string) (*writeconcern.WriteConcern, error) {
	switch strings.ToLower(name) {
	case "", "default":
		return nil, nil
	case "journaled":
		return writeconcern.Journaled(), nil
	case "majority":
		return writeconcern.Majority(), nil
	case "w1":
		return writeconcern.W1(), nil
	case "unacknowledged", "w0":
		return writeconcern.Unacknowledged(), nil
	}
	return nil, fmt.Errorf("unknown write concern %q", name)
}

type Target struct {
	admin      Collection
	disconnect func(context.Context) error
	dial       Dialer
	// acked is false for w:0; match and delete counts are then meaningless.
	acked bool
	log   *zap.Logger
}

var _ target.Target = (*Target)(nil)

// New connects the admin client and prepares per-worker dialing.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Target, error) {
	wc, err := ParseWriteConcern(cfg.WriteConcern)
	if err != nil {
		return nil, err
	}
	coll, disconnect, err := connect(ctx, cfg, wc, 0)
	if err != nil {
		return nil, err
	}
	if err := ensureTextIndex(ctx, coll); err != nil {
		_ = disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	dial := func(ctx context.Context, worker int) (Collection, func(context.Context) error, error) {
		return connect(ctx, cfg, wc, worker)
	}
	t := NewWithDialer(coll, disconnect, dial, wc, log)
	t.log.Info("connected",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection),
		zap.String("write_concern", cfg.WriteConcern))
	return t, nil
}

// NewWithDialer assembles a target from an admin collection and a dialer.
func NewWithDialer(admin Collection, disconnect func(context.Context) error, dial Dialer, wc *writeconcern.WriteConcern, log *zap.Logger) *Target {
	if log == nil {
		log = zap.NewNop()
	}
	if disconnect == nil {
		disconnect = func(context.Context) error { return nil }
	}
	return &Target{
		admin:      admin,
		disconnect: disconnect,
		dial:       dial,
		acked:      wc == nil || wc.Acknowledged(),
		log:        log,
	}
}

// ensureTextIndex creates the text index $text searches require. It
// survives Reset, which only deletes documents.
func ensureTextIndex(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "text", Value: "text"}},
		Options: options.Index().SetName("text_fts"),
	})
	if err != nil {
		return fmt.Errorf("create text index: %w", err)
	}
	return nil
}

func connect(ctx context.Context, cfg Config, wc *writeconcern.WriteConcern, worker int) (*mongo.Collection, func(context.Context) error, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	if cfg.PoolSize > 0 {
		opts.SetMaxPoolSize(cfg.PoolSize)
	}
	if wc != nil {
		opts.SetWriteConcern(wc)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("connect worker %d: %w", worker, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, nil, fmt.Errorf("ping worker %d: %w", worker, err)
	}
	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	return coll, client.Disconnect, nil
}

func (t *Target) Name() string { return "mongo" }

func (t *Target) Open(ctx context.Context, worker int) (target.Session, error) {
	coll, disconnect, err := t.dial(ctx, worker)
	if err != nil {
		return nil, err
	}
	return &session{coll: coll, disconnect: disconnect, acked: t.acked}, nil
}

func (t *Target) Reset(ctx context.Context) error {
	if _, err := t.admin.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("delete all: %w", err)
	}
	return nil
}

func (t *Target) Count(ctx context.Context) (int64, error) {
	n, err := t.admin.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (t *Target) Close() error {
	return t.disconnect(context.Background())
}

type session struct {
	coll       Collection
	disconnect func(context.Context) error
	acked      bool
}

func byKey(key string) bson.D { return bson.D{{Key: "_id", Value: key}} }

// unacked reports whether err only signals that a w:0 write was sent.
func unacked(err error) bool { return errors.Is(err, mongo.ErrUnacknowledgedWrite) }

func (s *session) Create(ctx context.Context, rec target.Record) error {
	if _, err := s.coll.InsertOne(ctx, rec); err != nil && !unacked(err) {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (s *session) Read(ctx context.Context, key string) error {
	err := s.coll.FindOne(ctx, byKey(key)).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return target.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find: %w", err)
	}
	return nil
}

func (s *session) Update(ctx context.Context, key string, at time.Time) error {
	set := bson.D{{Key: "$set", Value: bson.D{
		{Key: "updated", Value: true},
		{Key: "updated_at", Value: at},
	}}}
	res, err := s.coll.UpdateOne(ctx, byKey(key), set)
	if unacked(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if s.acked && res.MatchedCount == 0 {
		return target.ErrNotFound
	}
	return nil
}

func (s *session) Delete(ctx context.Context, key string) error {
	res, err := s.coll.DeleteOne(ctx, byKey(key))
	if unacked(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if s.acked && res.DeletedCount == 0 {
		return target.ErrNotFound
	}
	return nil
}

func (s *session) Search(ctx context.Context, keyword string) (int64, error) {
	filter := bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: keyword}}}}
	n, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("text search: %w", err)
	}
	return n, nil
}

func (s *session) Close(ctx context.Context) error {
	if s.disconnect == nil {
		return nil
	}
	err := s.disconnect(ctx)
	s.disconnect = nil
	return err
}
