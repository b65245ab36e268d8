package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"relay/internal/config"
	"relay/internal/repo"
)

// ResolveConfig returns the effective workspace config. A relay.yml in the
// workspace wins and is mirrored into the database; otherwise the stored
// config is used, seeded with defaults on first run.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if fileCfg != nil {
		if err := r.UpsertConfig(ctx, fileCfg); err != nil {
			return nil, fmt.Errorf("mirror config: %w", err)
		}
		return fileCfg, nil
	}

	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	id := filepath.Base(workspace)
	if id == "." || id == "" || id == string(filepath.Separator) {
		id = "relay"
	}
	seed := config.Default(id)
	if err := r.UpsertConfig(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return seed, nil
}
