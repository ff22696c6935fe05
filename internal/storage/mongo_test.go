package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"movielinks-tg-bot/internal/tokens"
)

func tokenDoc(userID int64, created time.Time, consumed *time.Time) bson.D {
	d := bson.D{
		{Key: "_id", Value: "tok"},
		{Key: "user_id", Value: userID},
		{Key: "movie_code", Value: "ab12cd34"},
		{Key: "part", Value: 2},
		{Key: "quality", Value: "720p"},
		{Key: "created_at", Value: created},
	}
	if consumed != nil {
		d = append(d, bson.E{Key: "consumed_at", Value: *consumed})
	}
	return d
}

func TestMongoTokensConsume(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ttl := 10 * time.Minute
	fresh := now.Add(-time.Minute)
	used := now.Add(-30 * time.Second)
	ns := "movielinks.tokens"

	// A nil value in the findAndModify reply is a miss; the FindOne reply
	// that follows decides which credential error it was.
	miss := bson.D{{Key: "ok", Value: 1}, {Key: "value", Value: nil}}

	tests := []struct {
		name      string
		responses []bson.D
		want      error
	}{
		{"owner", []bson.D{miss, mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, tokenDoc(8, fresh, nil))}, tokens.ErrOwnerMismatch},
		{"expired", []bson.D{miss, mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, tokenDoc(7, now.Add(-time.Hour), nil))}, tokens.ErrExpired},
		{"consumed", []bson.D{miss, mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, tokenDoc(7, fresh, &used))}, tokens.ErrConsumed},
		// The record still looks redeemable: a concurrent redemption won.
		{"lost race", []bson.D{miss, mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, tokenDoc(7, fresh, nil))}, tokens.ErrConsumed},
		{"not found", []bson.D{miss, mtest.CreateCursorResponse(0, ns, mtest.FirstBatch)}, tokens.ErrNotFound},
	}
	for _, tt := range tests {
		mt.Run(tt.name, func(mt *mtest.T) {
			mt.AddMockResponses(tt.responses...)
			store := &MongoTokens{col: mt.Coll}
			rec, err := store.Consume(context.Background(), "tok", 7, now, ttl)
			if !errors.Is(err, tt.want) {
				mt.Fatalf("Consume err = %v, want %v", err, tt.want)
			}
			if rec != nil {
				mt.Errorf("rec = %+v, want nil", rec)
			}
		})
	}

	mt.Run("ok", func(mt *mtest.T) {
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "value", Value: tokenDoc(7, fresh, &now)}})
		store := &MongoTokens{col: mt.Coll}
		rec, err := store.Consume(context.Background(), "tok", 7, now, ttl)
		if err != nil {
			mt.Fatal(err)
		}
		if rec.UserID != 7 || rec.Part != 2 || rec.Quality != "720p" || rec.ConsumedAt == nil {
			mt.Errorf("rec = %+v", rec)
		}
	})

	mt.Run("storage error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "bad filter"}))
		store := &MongoTokens{col: mt.Coll}
		_, err := store.Consume(context.Background(), "tok", 7, now, ttl)
		if err == nil || tokens.IsCredentialError(err) {
			mt.Fatalf("err = %v, want a storage error", err)
		}
	})
}

func TestMongoTokensRelease(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	mt.Run("release", func(mt *mtest.T) {
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 1}, {Key: "nModified", Value: 1}})
		store := &MongoTokens{col: mt.Coll}
		if err := store.Release(context.Background(), "tok"); err != nil {
			mt.Fatal(err)
		}
	})
}
