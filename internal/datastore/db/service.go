// Package db is the MongoDB-backed document store that sits in front
// of the field-level encryption codec: every document handed to Save
// is encrypted via a fieldcrypt.Codec before it ever reaches the wire,
// and every document returned by Get is decrypted after being read
// back, so the collection on disk only ever holds ciphertext for the
// configured paths.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/sunet/fieldcrypt/pkg/fieldcrypt"
	"github.com/sunet/fieldcrypt/pkg/logger"
	"github.com/sunet/fieldcrypt/pkg/model"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrNoDocuments is returned when no documents match a query.
var ErrNoDocuments = errors.New("no documents in result")

// Service owns the MongoDB connection and the collection wrapper that
// encrypts/decrypts documents passing through it.
type Service struct {
	DBClient *mongo.Client
	cfg      *model.Cfg
	log      *logger.Log

	Coll *Coll
}

// New connects to MongoDB per cfg.Datastore.Mongo and builds the
// generic document collection, wiring codec as the field-level
// encryption pipeline every Save/Get call goes through.
func New(ctx context.Context, cfg *model.Cfg, log *logger.Log, codec *fieldcrypt.Codec) (*Service, error) {
	service := &Service{log: log, cfg: cfg}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	if err := service.connect(ctx); err != nil {
		return nil, err
	}

	service.Coll = &Coll{
		Service: service,
		Coll:    service.DBClient.Database(cfg.Datastore.Mongo.Database).Collection("documents"),
		codec:   codec,
		req:     encryptionRequestFromCfg(cfg.Datastore.DataEncryption),
	}

	service.log.Info("started")
	return service, nil
}

func (s *Service) connect(ctx context.Context) error {
	client, err := mongo.Connect(options.Client().ApplyURI(s.cfg.Datastore.Mongo.URI))
	if err != nil {
		return err
	}
	s.DBClient = client
	return nil
}

// Close disconnects from MongoDB.
func (s *Service) Close(ctx context.Context) error {
	return s.DBClient.Disconnect(ctx)
}

func encryptionRequestFromCfg(cfg model.DataEncryption) fieldcrypt.EncryptionRequest {
	paths := make([]fieldcrypt.Path, 0, len(cfg.PathsToEncrypt))
	for _, p := range cfg.PathsToEncrypt {
		paths = append(paths, fieldcrypt.Path(p))
	}
	return fieldcrypt.EncryptionRequest{
		DataEncryptionKeyID: cfg.DataEncryptionKeyID,
		Algorithm:           fieldcrypt.Algorithm(cfg.Algorithm),
		PathsToEncrypt:      paths,
		Compression: fieldcrypt.CompressionOptions{
			Algorithm:   fieldcrypt.CompressionAlgorithm(cfg.Compression.Algorithm),
			Level:       cfg.Compression.Level,
			MinimumSize: cfg.Compression.MinimumSize,
		},
	}
}
