package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"movielinks-tg-bot/internal/tokens"
)

type Mongo struct {
	client *mongo.Client
	movies *mongo.Collection
	users  *mongo.Collection
	tokens *mongo.Collection
}

func NewMongo(ctx context.Context, uri string, database string, tokenTTL time.Duration) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("MONGODB_URI is empty")
	}
	if database == "" {
		database = "movielinks"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(database)
	m := &Mongo{
		client: client,
		movies: db.Collection("movies"),
		users:  db.Collection("users"),
		tokens: db.Collection("tokens"),
	}
	_, _ = m.movies.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{bson.E{Key: "normalized_title", Value: 1}}},
	})
	if tokenTTL <= 0 {
		tokenTTL = tokens.DefaultTTL
	}
	// expired tokens are swept by mongo; keep them past the window so a late
	// click still reads as "expired" rather than "unknown"
	_, _ = m.tokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{bson.E{Key: "created_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32((2 * tokenTTL).Seconds())),
	})
	return m, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

func (m *Mongo) Ping(ctx context.Context) error {
	if m == nil {
		return errors.New("mongo not configured")
	}
	return m.client.Ping(ctx, nil)
}

func (m *Mongo) UpsertUser(ctx context.Context, id int64, username string) error {
	if m == nil {
		return nil
	}
	now := time.Now().UTC()
	_, err := m.users.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set":         bson.M{"username": strings.TrimSpace(username), "last_seen": now},
			"$setOnInsert": bson.M{"first_seen": now},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *Mongo) CountUsers(ctx context.Context) (int64, error) {
	return m.users.CountDocuments(ctx, bson.M{})
}

func (m *Mongo) UserIDs(ctx context.Context, fn func(id int64) error) error {
	cur, err := m.users.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var u struct {
			ID int64 `bson:"_id"`
		}
		if err := cur.Decode(&u); err != nil {
			continue
		}
		if err := fn(u.ID); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (m *Mongo) GetMovie(ctx context.Context, code string) (*Movie, error) {
	if m == nil {
		return nil, errors.New("mongo not configured")
	}
	return m.findOne(ctx, bson.M{"code": code})
}

func (m *Mongo) GetMovieByTitle(ctx context.Context, title string) (*Movie, error) {
	return m.findOne(ctx, bson.M{"normalized_title": NormalizeName(title)})
}

func (m *Mongo) findOne(ctx context.Context, filter bson.M) (*Movie, error) {
	var mv Movie
	err := m.movies.FindOne(ctx, filter).Decode(&mv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := mv.Validate(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("skipping invalid movie document")
		return nil, nil
	}
	return &mv, nil
}

// SearchMovies matches movies whose normalized title contains every word of query.
func (m *Mongo) SearchMovies(ctx context.Context, query string, limit int) ([]Movie, error) {
	if m == nil {
		return nil, errors.New("mongo not configured")
	}
	words := strings.Fields(NormalizeName(query))
	if len(words) == 0 {
		return nil, nil
	}
	and := make(bson.A, 0, len(words))
	for _, w := range words {
		and = append(and, bson.M{"normalized_title": bson.M{"$regex": regexp.QuoteMeta(w)}})
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.D{bson.E{Key: "title", Value: 1}}).SetLimit(int64(limit))
	return m.findMany(ctx, bson.M{"$and": and}, opts)
}

func (m *Mongo) ListRecent(ctx context.Context, limit int) ([]Movie, error) {
	if m == nil {
		return nil, errors.New("mongo not configured")
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	opts := options.Find().SetSort(bson.D{bson.E{Key: "updated_at", Value: -1}}).SetLimit(int64(limit))
	return m.findMany(ctx, bson.M{}, opts)
}

func (m *Mongo) findMany(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]Movie, error) {
	cur, err := m.movies.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	items := []Movie{}
	for cur.Next(ctx) {
		var mv Movie
		if err := cur.Decode(&mv); err != nil {
			continue
		}
		if err := mv.Validate(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("skipping invalid movie document")
			continue
		}
		items = append(items, mv)
	}
	return items, cur.Err()
}

func (m *Mongo) CountMovies(ctx context.Context) (int64, error) {
	return m.movies.CountDocuments(ctx, bson.M{})
}

// AddQuality attaches file to the movie titled title, creating the movie on
// first use. Reports whether a new movie was created.
func (m *Mongo) AddQuality(ctx context.Context, title string, part int, label string, file QualityFile) (*Movie, bool, error) {
	if m == nil {
		return nil, false, errors.New("mongo not configured")
	}
	item, err := m.GetMovieByTitle(ctx, title)
	if err != nil {
		return nil, false, err
	}
	created := false
	now := time.Now().UTC()
	if item == nil {
		code, err := NewCode()
		if err != nil {
			return nil, false, err
		}
		item = &Movie{
			Code:            code,
			Title:           strings.TrimSpace(title),
			NormalizedTitle: NormalizeName(title),
			Parts:           1,
			Qualities:       map[string]QualityFile{},
			CreatedAt:       now,
		}
		created = true
	}
	item.SetQuality(part, label, file)
	item.UpdatedAt = now
	if err := item.Validate(); err != nil {
		return nil, false, err
	}

	set := bson.M{
		"code":             item.Code,
		"title":            item.Title,
		"normalized_title": item.NormalizedTitle,
		"parts":            item.Parts,
		"qualities":        item.Qualities,
		"updated_at":       item.UpdatedAt,
	}
	if item.PartsData != nil {
		set["parts_data"] = item.PartsData
	}
	_, err = m.movies.UpdateOne(ctx,
		bson.M{"code": item.Code},
		bson.M{"$set": set, "$setOnInsert": bson.M{"created_at": item.CreatedAt}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, false, err
	}
	return item, created, nil
}

// DeleteQuality removes label from every part of the movie titled title.
func (m *Mongo) DeleteQuality(ctx context.Context, title string, label string) (bool, error) {
	item, err := m.GetMovieByTitle(ctx, title)
	if err != nil || item == nil {
		return false, err
	}
	if !item.RemoveQuality(label) {
		return false, nil
	}
	set := bson.M{"qualities": item.Qualities, "updated_at": time.Now().UTC()}
	if item.PartsData != nil {
		set["parts_data"] = item.PartsData
	}
	_, err = m.movies.UpdateOne(ctx, bson.M{"code": item.Code}, bson.M{"$set": set})
	return err == nil, err
}

func (m *Mongo) DeleteMovie(ctx context.Context, title string) (bool, error) {
	res, err := m.movies.DeleteOne(ctx, bson.M{"normalized_title": NormalizeName(title)})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// Tokens exposes the token collection as a tokens.Store.
func (m *Mongo) Tokens() *MongoTokens {
	return &MongoTokens{col: m.tokens}
}

type MongoTokens struct {
	col *mongo.Collection
}

func (t *MongoTokens) Insert(ctx context.Context, rec tokens.Record) error {
	_, err := t.col.InsertOne(ctx, rec)
	return err
}

// Consume matches and marks the record in one FindOneAndUpdate; only on a
// miss is the record read again to explain the failure.
func (t *MongoTokens) Consume(ctx context.Context, token string, userID int64, now time.Time, ttl time.Duration) (*tokens.Record, error) {
	filter := bson.M{
		"_id":         token,
		"user_id":     userID,
		"consumed_at": bson.M{"$exists": false},
		"created_at":  bson.M{"$gt": now.Add(-ttl)},
	}
	update := bson.M{"$set": bson.M{"consumed_at": now}}
	var rec tokens.Record
	err := t.col.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&rec)
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	var cur tokens.Record
	err = t.col.FindOne(ctx, bson.M{"_id": token}).Decode(&cur)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, tokens.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := tokens.Check(&cur, userID, now, ttl); err != nil {
		return nil, err
	}
	// a concurrent redemption won between the two reads
	return nil, tokens.ErrConsumed
}

func (t *MongoTokens) Release(ctx context.Context, token string) error {
	_, err := t.col.UpdateOne(ctx, bson.M{"_id": token}, bson.M{"$unset": bson.M{"consumed_at": ""}})
	return err
}
