package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/arkivehq/arkive"
	"github.com/arkivehq/arkive/config"
	"github.com/arkivehq/arkive/database"
	"github.com/arkivehq/arkive/filesystem"
	"github.com/arkivehq/arkive/s3"
)

// wiring bundles the collaborators built from config. PartStore is nil for
// the s3 backend, where capabilities target the store directly.
type wiring struct {
	service   *arkive.ArchiveService
	partStore *filesystem.Store
	signer    *arkive.CapabilitySigner
	cleanup   func()
}

// buildWiring connects the database, the object store backend, and the
// archive service from the loaded configuration.
func buildWiring(ctx context.Context, cfg *config.Config) (*wiring, error) {
	repos, dbCleanup, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("connected to database", "type", cfg.Database.Type)

	cleanup := dbCleanup
	fail := func(err error) (*wiring, error) {
		cleanup()
		return nil, err
	}

	var store arkive.ObjectStore
	var partStore *filesystem.Store
	var signer *arkive.CapabilitySigner

	switch cfg.Storage.Backend {
	case "fs":
		if err := os.MkdirAll(cfg.Storage.Path, 0o750); err != nil {
			return fail(fmt.Errorf("create storage directory: %w", err))
		}
		root, err := os.OpenRoot(cfg.Storage.Path)
		if err != nil {
			return fail(fmt.Errorf("open storage root: %w", err))
		}
		cleanup = func() {
			_ = root.Close()
			dbCleanup()
		}

		signer, err = arkive.NewCapabilitySigner(cfg.Capability.Secret)
		if err != nil {
			return fail(err)
		}
		partStore = filesystem.NewStore(root, signer, cfg.Server.ExternalURL)
		store = partStore
		slog.Info("using filesystem store", "path", cfg.Storage.Path)

	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.Region))
		if err != nil {
			return fail(fmt.Errorf("load aws config: %w", err))
		}

		var optFns []func(*awss3.Options)
		if cfg.Storage.Endpoint != "" {
			optFns = append(optFns, func(o *awss3.Options) {
				o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
				o.UsePathStyle = true
			})
		}

		s3Store, err := s3.New(awsCfg, cfg.Storage.Bucket, optFns...)
		if err != nil {
			return fail(err)
		}
		store = s3Store
		slog.Info("using s3 store", "bucket", cfg.Storage.Bucket, "region", cfg.Storage.Region)

	default:
		return fail(fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend))
	}

	strategist, err := arkive.NewStrategist(arkive.StrategistConfig{
		SmallObjectThreshold: cfg.Upload.SmallObjectThreshold,
		ChunkSize:            cfg.Upload.ChunkSize,
	})
	if err != nil {
		return fail(err)
	}

	service, err := arkive.NewArchiveService(store, repos.Catalog, repos.Sessions, strategist, arkive.ServiceConfig{
		CapabilityTTL: time.Duration(cfg.Upload.CapabilityTTL) * time.Second,
		SessionMaxAge: time.Duration(cfg.Upload.SessionMaxAge) * time.Second,
	})
	if err != nil {
		return fail(fmt.Errorf("create archive service: %w", err))
	}

	return &wiring{
		service:   service,
		partStore: partStore,
		signer:    signer,
		cleanup:   cleanup,
	}, nil
}
