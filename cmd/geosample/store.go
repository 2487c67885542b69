package main

import (
	"context"

	"github.com/geosample/geosample/pkg/checkpoint"
	"github.com/geosample/geosample/pkg/config"
	gserrors "github.com/geosample/geosample/pkg/errors"
	"github.com/geosample/geosample/pkg/raster"
	"github.com/geosample/geosample/pkg/resilience"
)

// openStore builds the configured checkpoint store. The returned close
// function releases backend connections.
func openStore(ctx context.Context, cfg *config.Config) (*checkpoint.Store, func() error, error) {
	compression, err := checkpoint.ParseCompression(cfg.Checkpoint.Compression)
	if err != nil {
		return nil, nil, gserrors.InvalidConfig("checkpoint.compression", cfg.Checkpoint.Compression, err.Error())
	}
	codec, err := checkpoint.NewCodec(compression)
	if err != nil {
		return nil, nil, err
	}

	noop := func() error { return nil }
	switch cfg.Checkpoint.Backend {
	case "redis":
		rc := checkpoint.DefaultRedisConfig(cfg.Checkpoint.Redis.Address)
		rc.Password = cfg.Checkpoint.Redis.Password
		rc.Database = cfg.Checkpoint.Redis.Database
		if cfg.Checkpoint.Redis.Prefix != "" {
			rc.Prefix = cfg.Checkpoint.Redis.Prefix
		}
		backend, err := checkpoint.NewRedisBackend(ctx, rc)
		if err != nil {
			return nil, nil, gserrors.Wrapf(err, gserrors.CodeCheckpointRead, "connect %s checkpoint backend", cfg.Checkpoint.Backend)
		}
		return checkpoint.NewStore(remote(backend), codec), backend.Close, nil

	case "s3":
		sc := checkpoint.DefaultS3Config(cfg.Checkpoint.S3.Bucket)
		sc.Region = cfg.Checkpoint.S3.Region
		sc.Endpoint = cfg.Checkpoint.S3.Endpoint
		sc.UsePathStyle = cfg.Checkpoint.S3.UsePathStyle
		if cfg.Checkpoint.S3.Prefix != "" {
			sc.Prefix = cfg.Checkpoint.S3.Prefix
		}
		backend, err := checkpoint.NewS3Backend(ctx, sc)
		if err != nil {
			return nil, nil, gserrors.Wrapf(err, gserrors.CodeCheckpointRead, "connect %s checkpoint backend", cfg.Checkpoint.Backend)
		}
		return checkpoint.NewStore(remote(backend), codec), noop, nil

	default:
		backend, err := checkpoint.NewLocalBackend(cfg.Checkpoint.Dir)
		if err != nil {
			return nil, nil, gserrors.Wrap(err, gserrors.CodeCheckpointWrite, "open checkpoint directory")
		}
		return checkpoint.NewStore(backend, codec), noop, nil
	}
}

// remote wraps a network backend with retries and a circuit breaker.
func remote(backend checkpoint.Backend) checkpoint.Backend {
	logger := current.logger
	breaker := resilience.NewCircuitBreaker()
	breaker.OnTrip = func(failures int) {
		logger.Warn("checkpoint backend unavailable, pausing calls",
			"backend", backend.Name(), "failures", failures)
	}
	breaker.OnReset = func() {
		logger.Info("checkpoint backend recovered", "backend", backend.Name())
	}
	return checkpoint.NewRetryBackend(backend, resilience.DefaultRetryPolicy(), breaker)
}

// partitions discovers the input partitions and their ids.
func partitions(cfg *config.Config) (paths, ids []string, err error) {
	paths, err = raster.Discover(cfg.Input.Dir, cfg.Input.Pattern)
	if err != nil {
		return nil, nil, err
	}
	ids = make([]string, len(paths))
	for i, p := range paths {
		ids[i] = raster.PartitionID(p)
	}
	return paths, ids, nil
}
