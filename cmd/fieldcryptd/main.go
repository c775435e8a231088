// Command fieldcryptd boots the document store service: it loads
// configuration, wires the field-level encryption codec in front of
// the MongoDB-backed generic collection, and serves until signaled to
// stop.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sunet/fieldcrypt/internal/datastore/db"
	"github.com/sunet/fieldcrypt/pkg/config"
	"github.com/sunet/fieldcrypt/pkg/fieldcrypt"
	"github.com/sunet/fieldcrypt/pkg/fieldcrypt/cryptoref"
	"github.com/sunet/fieldcrypt/pkg/logger"
	"github.com/sunet/fieldcrypt/pkg/trace"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
)

type service interface {
	Close(ctx context.Context) error
}

func main() {
	wg := &sync.WaitGroup{}
	ctx := context.Background()

	services := make(map[string]service)

	cfg, err := config.New(ctx)
	if err != nil {
		panic(err)
	}

	log, err := logger.New("fieldcryptd", cfg.Common.Log.FolderPath, cfg.Common.Production)
	if err != nil {
		panic(err)
	}

	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		panic(err)
	}
	tracer := trace.New(exp, "fieldcryptd", log)

	keys := cryptoref.NewProvider()
	keys.Register(cfg.Datastore.DataEncryption.DataEncryptionKeyID, rootSecretFromEnv())
	codec := fieldcrypt.New(keys, fieldcrypt.NewBytePool())

	dbService, err := db.New(ctx, cfg, log, codec)
	if err != nil {
		panic(err)
	}
	services["dbService"] = dbService

	mainLog := log.WithName("main")

	if err := seedDemoDocument(ctx, dbService, tracer, cfg.Datastore.DataEncryption.DataEncryptionKeyID); err != nil {
		mainLog.Error(err, "demo seed failed")
	}

	mainLog.Info("started")

	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)

	<-termChan // blocks here until interrupted

	mainLog.Info("halting signal received")

	for name, svc := range services {
		if err := svc.Close(ctx); err != nil {
			mainLog.Error(err, "service shutdown failed", "service", name)
		}
	}

	if err := tracer.Shutdown(ctx); err != nil {
		mainLog.Error(err, "tracer shutdown failed")
	}

	wg.Wait() // block here until all workers are done

	mainLog.Info("stopped")
}

// seedDemoDocument writes and reads back one document so a fresh
// deployment can be smoke-tested without a separate client.
func seedDemoDocument(ctx context.Context, svc *db.Service, tracer *trace.Tracer, keyID string) error {
	ctx, span := tracer.Start(ctx, "fieldcryptd.seed", keyID)
	defer span.End()

	id := db.NewID()
	doc := map[string]any{
		"attributes": map[string]any{"first_name": "Ada", "last_name": "Lovelace"},
	}
	if err := svc.Coll.Save(ctx, id, doc); err != nil {
		return err
	}

	_, _, err := svc.Coll.Get(ctx, id)
	return err
}

// rootSecretFromEnv reads the demo root secret backing the key
// provider. A production deployment resolves this from a managed key
// vault instead; see pkg/fieldcrypt.KeyProvider.
func rootSecretFromEnv() []byte {
	secret := os.Getenv("FIELDCRYPT_ROOT_SECRET")
	if secret == "" {
		secret = "change-me-fieldcrypt-demo-root-secret"
	}
	return []byte(secret)
}
