package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/replisync/replisync/pkg/config"
	"github.com/replisync/replisync/pkg/index"
	"github.com/replisync/replisync/pkg/rlog"
	"github.com/replisync/replisync/pkg/snapshot"
)

// RunImport restores a snapshot archive into one replica. Existing entries
// with the same paths are overwritten; everything else is left untouched,
// so the next sync pass propagates the restored content to the other side.
func RunImport(ctx context.Context, cfg config.Config, pairName, side, inPath string) error {
	pair, err := selectPair(cfg, pairName)
	if err != nil {
		return err
	}
	rc, err := sideConfig(pair, side)
	if err != nil {
		return err
	}

	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("could not open snapshot file: %w", err)
	}
	defer in.Close()

	replica, err := openReplica(ctx, rc, index.StoreConfig{WriteThrottle: cfg.IndexWriteThrottle()})
	if err != nil {
		return fmt.Errorf("could not open %s replica of pair %q: %w", side, pair.Name, err)
	}
	defer closeReplica(pair.Name, side, replica)

	summary, err := snapshot.Import(ctx, in, replica)
	if err != nil {
		return fmt.Errorf("snapshot import failed: %w", err)
	}

	rlog.Info("snapshot imported",
		"pair", pair.Name,
		"side", side,
		"file", inPath,
		"files", summary.Files,
		"dirs", summary.Dirs,
	)
	return nil
}
