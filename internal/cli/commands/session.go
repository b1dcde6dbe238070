package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/conduit-lang/docengine/internal/cli/config"
	"github.com/conduit-lang/docengine/internal/cli/ui"
	"github.com/conduit-lang/docengine/internal/logging"
	"github.com/conduit-lang/docengine/internal/orm/engine"
	"github.com/conduit-lang/docengine/internal/orm/limits"
	"github.com/conduit-lang/docengine/internal/orm/schema"
	"github.com/conduit-lang/docengine/internal/orm/store"
	"github.com/conduit-lang/docengine/internal/orm/tenant"
)

// session is an engine built from docengine.yaml with every configured
// model registered and wired
type session struct {
	config *config.Config
	logger *zap.Logger
	engine *engine.Engine
	spaces *tenant.StoreDirectory
	cache  *tenant.CachedDirectory
	redis  *redis.Client
}

// reportedError marks a failure already printed in full to the user
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) bool {
	var r *reportedError
	return errors.As(err, &r)
}

// fail prints err the way the engine reports it and marks it reported
func fail(w io.Writer, err error, candidates []string) error {
	fmt.Fprint(w, ui.EngineError(err, candidates, noColorFlag))
	return &reportedError{err: err}
}

// openSession loads the configuration and builds an engine from it. files,
// when given, replace the configured models directory.
func openSession(ctx context.Context, cmd *cobra.Command, files []string) (*session, error) {
	cfg, err := config.Load(configDirFlag)
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError(err.Error(), noColorFlag))
		return nil, &reportedError{err: err}
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError(err.Error(), noColorFlag))
		return nil, &reportedError{err: err}
	}

	shared, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fail(cmd.ErrOrStderr(), err, nil)
	}

	s := &session{
		config: cfg,
		logger: logger,
		spaces: tenant.NewStoreDirectory(shared),
	}
	var directory tenant.Directory = s.spaces
	if cfg.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cacheConfig := tenant.DefaultCacheConfig()
		if cfg.Redis.TTL > 0 {
			cacheConfig.TTL = cfg.Redis.TTL
		}
		s.cache = tenant.NewCachedDirectory(s.spaces, s.redis, cacheConfig, logger)
		directory = s.cache
	}

	s.engine, err = engine.New(engine.Env{
		Store:       shared,
		Connections: tenant.NewConnections(shared, store.OpenURL, logger),
		Directory:   directory,
		Logger:      logger,
		Limits: limits.Guard{
			DataLimit:       cfg.Limits.Data,
			ModelsLimit:     cfg.Limits.Models,
			PropertiesLimit: cfg.Limits.Properties,
		},
		Title:   cfg.API.Title,
		Version: cfg.API.Version,
	})
	if err != nil {
		_ = shared.Close()
		_ = s.closeRedis()
		return nil, fail(cmd.ErrOrStderr(), err, nil)
	}

	if err := s.register(files); err != nil {
		_ = s.Close()
		return nil, fail(cmd.ErrOrStderr(), err, s.candidates())
	}
	return s, nil
}

// register loads the model specifications and wires the engine
func (s *session) register(files []string) error {
	var specs []*schema.ModelSpec
	if len(files) > 0 {
		for _, f := range files {
			spec, err := schema.LoadFile(f)
			if err != nil {
				return err
			}
			specs = append(specs, spec)
		}
	} else if dir := s.config.Models.Dir; dir != "" {
		loaded, err := schema.LoadDir(dir)
		switch {
		case errors.Is(err, os.ErrNotExist):
			s.logger.Debug("no models directory", zap.String("dir", dir))
		case err != nil:
			return err
		default:
			specs = loaded
		}
	}

	for _, spec := range specs {
		if err := s.engine.Register(spec); err != nil {
			return err
		}
	}
	return s.engine.Wire()
}

// candidates are the names an unknown-name failure may have meant
func (s *session) candidates() []string {
	names := s.engine.Registry().List()
	names = append(names, s.engine.Catalog().Names()...)
	return append(names, s.engine.Features().Names()...)
}

func (s *session) closeRedis() error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

// Close drains the engine and releases every connection
func (s *session) Close() error {
	err := s.engine.Close()
	err = multierr.Append(err, s.closeRedis())
	_ = s.logger.Sync()
	return err
}

// invalidate drops a cached space after the directory changed
func (s *session) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.Warn("failed to invalidate cached space", zap.String("space", id), zap.Error(err))
	}
}
