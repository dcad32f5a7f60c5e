package mongodb

import (
	"context"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/storefront/internal/domain/auth"
)

type apiKeyDoc struct {
	ID      string   `bson:"_id"`
	KeyHash string   `bson:"key_hash"`
	Name    string   `bson:"name"`
	Scopes  []string `bson:"scopes"`
	Active  bool     `bson:"active"`
}

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by MongoDB.
type APIKeyRepository struct {
	collection *mongo.Collection
}

// NewAPIKeyRepository returns an APIKeyRepository on the client's database.
func NewAPIKeyRepository(c *Client) *APIKeyRepository {
	return &APIKeyRepository{collection: c.db.Collection(apiKeysCollection)}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var doc apiKeyDoc
	err := r.collection.FindOne(ctx, bson.M{"key_hash": hash, "active": true}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, auth.ErrNotFound
		}
		return nil, errors.Wrap(err, "find api key by hash")
	}
	return &auth.APIKeyInfo{ID: doc.ID, KeyHash: doc.KeyHash, Name: doc.Name, Scopes: doc.Scopes}, nil
}

// Upsert stores an API key, re-activating it if it already exists.
func (r *APIKeyRepository) Upsert(ctx context.Context, key auth.APIKeyInfo) error {
	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": key.ID},
		apiKeyDoc{ID: key.ID, KeyHash: key.KeyHash, Name: key.Name, Scopes: key.Scopes, Active: true},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return errors.Wrapf(err, "upsert api key %q", key.ID)
	}
	return nil
}
