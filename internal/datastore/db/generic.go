package db

import (
	"context"

	"github.com/sunet/fieldcrypt/pkg/fieldcrypt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Coll is the generic document collection. Every document that
// crosses it is passed through codec's tree processor (C5) so the
// configured paths are ciphertext on disk and plaintext in memory.
type Coll struct {
	Service *Service
	Coll    *mongo.Collection

	codec *fieldcrypt.Codec
	req   fieldcrypt.EncryptionRequest
}

func (c *Coll) createIndex(ctx context.Context) error {
	indexModel := mongo.IndexModel{Keys: bson.D{{Key: "_id", Value: 1}}}
	_, err := c.Coll.Indexes().CreateOne(ctx, indexModel)
	return err
}

// NewID generates a fresh document identifier. Callers that don't
// already have a natural key (e.g. one assigned upstream) use this to
// obtain the id passed to Save, which stores it under the reserved
// "/id" path.
func NewID() string {
	return uuid.NewString()
}

// Save encrypts the configured paths of doc in place and inserts the
// resulting document, keyed by id.
func (c *Coll) Save(ctx context.Context, id string, doc map[string]any) error {
	encrypted, err := c.codec.EncryptTree(ctx, doc, c.req)
	if err != nil {
		return err
	}
	encrypted["id"] = id

	_, err = c.Coll.InsertOne(ctx, toBSONDoc(encrypted))
	return err
}

// Get fetches the document stored under id and decrypts it, returning
// the plaintext document and a report of which paths were decrypted.
func (c *Coll) Get(ctx context.Context, id string) (map[string]any, fieldcrypt.DecryptionReport, error) {
	filter := bson.D{{Key: "_id", Value: id}}

	var raw bson.M
	if err := c.Coll.FindOne(ctx, filter).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fieldcrypt.DecryptionReport{}, ErrNoDocuments
		}
		return nil, fieldcrypt.DecryptionReport{}, err
	}

	doc := fromBSONDoc(raw)
	return c.codec.DecryptTree(ctx, doc)
}

// Delete removes the document stored under id.
func (c *Coll) Delete(ctx context.Context, id string) error {
	filter := bson.D{{Key: "_id", Value: id}}
	_, err := c.Coll.DeleteOne(ctx, filter)
	return err
}

// toBSONDoc renames the JSON "id" property to Mongo's reserved "_id"
// so document identity lines up with the store's primary key, without
// the codec ever having to know about Mongo's naming convention.
func toBSONDoc(doc map[string]any) bson.M {
	out := bson.M{}
	for k, v := range doc {
		if k == "id" {
			out["_id"] = v
			continue
		}
		out[k] = v
	}
	return out
}

func fromBSONDoc(doc bson.M) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "_id" {
			out["id"] = v
			continue
		}
		out[k] = v
	}
	return out
}
