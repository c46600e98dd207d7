package main

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradegen/tgen-e2e/internal/blobstore"
	"github.com/tradegen/tgen-e2e/internal/config"
	"github.com/tradegen/tgen-e2e/internal/leases"
	leasespg "github.com/tradegen/tgen-e2e/internal/leases/postgres"
	"github.com/tradegen/tgen-e2e/internal/runstore"
	runstorepg "github.com/tradegen/tgen-e2e/internal/runstore/postgres"
)

func openBlobStore(ctx context.Context, bc config.BlobConfig) (blobstore.Store, error) {
	cfg := blobstore.Config{
		Driver: strings.ToLower(strings.TrimSpace(bc.Driver)),
		Bucket: strings.TrimSpace(bc.Bucket),
		Prefix: strings.TrimSpace(bc.Prefix),
		Dir:    bc.Dir,
	}
	if cfg.Driver == blobstore.DriverS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		cfg.S3Client = awss3.NewFromConfig(awsCfg)
	}
	return blobstore.New(cfg)
}

// runStoreOpener returns the store and a func releasing it.
type runStoreOpener func(ctx context.Context, cfg config.Config) (runstore.Store, func(), error)

func openRunStore(ctx context.Context, cfg config.Config) (runstore.Store, func(), error) {
	if err := cfg.RequireRunStore(); err != nil {
		return nil, nil, err
	}
	switch cfg.RunStore.Driver {
	case "memory":
		return runstore.NewMemoryStore(), func() {}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.RunStore.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("init pgx pool: %w", err)
		}
		store, err := runstorepg.New(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported runstore driver %q", cfg.RunStore.Driver)
	}
}

// leaseStoreOpener returns a nil store when account locking is off.
type leaseStoreOpener func(ctx context.Context, cfg config.Config) (leases.Store, func(), error)

func openLeaseStore(ctx context.Context, cfg config.Config) (leases.Store, func(), error) {
	if err := cfg.RequireLock(); err != nil {
		return nil, nil, err
	}
	switch cfg.Lock.Driver {
	case "":
		return nil, func() {}, nil
	case "memory":
		return leases.NewMemoryStore(nil), func() {}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.RunStore.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("init pgx pool: %w", err)
		}
		store, err := leasespg.New(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported lock driver %q", cfg.Lock.Driver)
	}
}
