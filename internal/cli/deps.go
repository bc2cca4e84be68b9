package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/songzhibin97/gkit/generator"
	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/transition-engine/internal/config"
	"github.com/songzhibin97/transition-engine/loader"
	"github.com/songzhibin97/transition-engine/storage"
	"github.com/songzhibin97/transition-engine/types"
	"github.com/songzhibin97/transition-engine/workflow"
)

// closer is implemented by storage backends holding connections.
type closer interface {
	Close() error
}

// openStorage opens the backend selected by TRANSITION_STORAGE.
func openStorage() (storage.Storage, func(), error) {
	kind := strings.ToLower(config.GetSystemSettingString(config.STORAGE))
	var (
		store storage.Storage
		err   error
	)
	switch kind {
	case config.STORAGE_MEMORY:
		store = storage.NewMemoryStorage()
	case config.STORAGE_REDIS:
		store, err = storage.NewRedisStorage(storage.RedisOptions{
			Addr:         config.GetSystemSettingString(config.REDIS_ADDR),
			Password:     config.GetSystemSettingString(config.REDIS_PASSWORD),
			DB:           config.GetSystemSettingInteger(config.REDIS_DB),
			PoolSize:     10,
			MinIdleConns: 1,
			IdleTimeout:  5 * time.Minute,
		})
	case config.STORAGE_SQLITE:
		store, err = storage.NewSQLiteStorage(config.GetSystemSettingString(config.SQLITE_PATH))
	default:
		return nil, nil, NewExitError(ExitCommandError,
			fmt.Sprintf("%s must be one of %s, %s, %s; got %q", config.STORAGE,
				config.STORAGE_MEMORY, config.STORAGE_REDIS, config.STORAGE_SQLITE, kind))
	}
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	slog.Debug("storage opened", "backend", kind)

	release := func() {
		if c, ok := store.(closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("failed to close storage", "error", err)
			}
		}
	}
	return store, release, nil
}

// newService builds an engine and service over the configured storage.
func newService(opts *RootOptions) (*workflow.Service, func(), error) {
	store, release, err := openStorage()
	if err != nil {
		return nil, nil, err
	}
	engine := workflow.NewEngine(
		workflow.WithLogger(slog.Default()),
		workflow.WithStrictKinds(opts.Strict),
		workflow.WithGenerator(generator.NewSnowflake(time.Now().Add(-time.Second), 1)),
	)
	svc, err := workflow.NewService(engine, store)
	if err != nil {
		release()
		return nil, nil, err
	}
	return svc, release, nil
}

// resolveGraph treats arg as a graph file when it exists, registering it with
// the service, and as a stored graph id otherwise.
func resolveGraph(ctx context.Context, svc *workflow.Service, arg string) (types.ProcessGraph, error) {
	if _, err := os.Stat(arg); err == nil {
		g, err := loader.LoadGraph(arg)
		if err != nil {
			return g, WrapExitError(ExitCommandError, "failed to load graph", err)
		}
		if err := svc.RegisterGraph(ctx, g); err != nil {
			return g, WrapExitError(ExitFailure, "failed to register graph", err)
		}
		return g, nil
	}
	g, err := svc.Graph(ctx, arg)
	if err != nil {
		return g, WrapExitError(ExitCommandError, fmt.Sprintf("graph %q is neither a file nor a stored graph", arg), err)
	}
	return g, nil
}

// recordFlags collect the record, actor and execution context of a command.
type recordFlags struct {
	recordFile  string
	set         map[string]string
	actorID     string
	roles       []string
	permissions []string
	context     map[string]string
}

func (f *recordFlags) record() (types.Record, error) {
	record := types.Record{}
	if f.recordFile != "" {
		data, err := os.ReadFile(f.recordFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read record", err)
		}
		if err := yaml.Unmarshal(data, &record); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to decode record", err)
		}
	}
	for k, v := range f.set {
		record[k] = v
	}
	return record, nil
}

func (f *recordFlags) actor() types.Actor {
	return types.Actor{ID: f.actorID, Roles: f.roles, Permissions: f.permissions}
}

func (f *recordFlags) execContext() map[string]interface{} {
	ctx := make(map[string]interface{}, len(f.context))
	for k, v := range f.context {
		ctx[k] = v
	}
	return ctx
}
