// Package cmd implements the actions behind the replisync command line:
// sync, export, import, init and version.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/replisync/replisync/pkg/accessor"
	"github.com/replisync/replisync/pkg/config"
	"github.com/replisync/replisync/pkg/index"
	"github.com/replisync/replisync/pkg/localfs"
	"github.com/replisync/replisync/pkg/s3fs"
	"github.com/replisync/replisync/pkg/util"
)

// side selects one replica of a pair.
type side int

const (
	sideLocal side = iota
	sideRemote
)

var sideToString = map[side]string{
	sideLocal:  "local",
	sideRemote: "remote",
}

var stringToSide = util.InvertMap(sideToString)

// Replica side selectors for export and import.
const (
	SideLocal  = "local"
	SideRemote = "remote"
)

// Replica is an accessor whose index store can be flushed and closed.
type Replica interface {
	accessor.Accessor
	Close() error
}

// openReplica builds the backend accessor for one side of a pair.
func openReplica(ctx context.Context, rc config.ReplicaConfig, storeCfg index.StoreConfig) (Replica, error) {
	switch rc.Type {
	case config.ReplicaLocal:
		lcfg := localfs.Config{
			Root:        rc.Root,
			StoreConfig: storeCfg,
		}
		if rc.IndexStore == config.IndexStoreSQLite {
			metaDir := filepath.Join(rc.Root, localfs.MetaDirName)
			if err := os.MkdirAll(metaDir, 0o755); err != nil {
				return nil, fmt.Errorf("could not create meta directory: %w", err)
			}
			store, err := index.NewSQLiteStore(filepath.Join(metaDir, "index.db"))
			if err != nil {
				return nil, err
			}
			lcfg.Store = store
		}
		return localfs.New(lcfg)
	case config.ReplicaS3:
		return s3fs.New(ctx, s3fs.Config{
			Endpoint:     rc.Endpoint,
			Bucket:       rc.Bucket,
			Prefix:       rc.Prefix,
			AccessKey:    rc.AccessKey,
			SecretKey:    rc.SecretKey,
			Region:       rc.Region,
			UsePathStyle: rc.UsePathStyle,
			StoreConfig:  storeCfg,
		})
	default:
		return nil, fmt.Errorf("unknown replica type %q", rc.Type)
	}
}

// selectPair resolves pairName against the configured pairs. An empty name
// is accepted when exactly one pair is configured.
func selectPair(cfg config.Config, pairName string) (config.PairConfig, error) {
	if pairName == "" {
		if len(cfg.Pairs) == 1 {
			return cfg.Pairs[0], nil
		}
		return config.PairConfig{}, fmt.Errorf("config has %d pairs, the -pair flag is required", len(cfg.Pairs))
	}
	for _, pair := range cfg.Pairs {
		if pair.Name == pairName {
			return pair, nil
		}
	}
	return config.PairConfig{}, fmt.Errorf("no pair named %q in config", pairName)
}

// sideConfig picks one replica of a pair by side name.
func sideConfig(pair config.PairConfig, name string) (config.ReplicaConfig, error) {
	s, ok := stringToSide[name]
	if !ok {
		return config.ReplicaConfig{}, fmt.Errorf("unknown replica side %q, want %q or %q", name, SideLocal, SideRemote)
	}
	if s == sideRemote {
		return pair.Remote, nil
	}
	return pair.Local, nil
}
