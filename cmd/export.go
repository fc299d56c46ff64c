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

// RunExport writes a snapshot archive of one replica to outPath.
func RunExport(ctx context.Context, cfg config.Config, pairName, side, outPath string) error {
	pair, err := selectPair(cfg, pairName)
	if err != nil {
		return err
	}
	rc, err := sideConfig(pair, side)
	if err != nil {
		return err
	}

	replica, err := openReplica(ctx, rc, index.StoreConfig{WriteThrottle: cfg.IndexWriteThrottle()})
	if err != nil {
		return fmt.Errorf("could not open %s replica of pair %q: %w", side, pair.Name, err)
	}
	defer closeReplica(pair.Name, side, replica)

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("could not create snapshot file: %w", err)
	}

	summary, err := snapshot.Export(ctx, replica, out)
	if err != nil {
		out.Close()
		os.Remove(outPath)
		return fmt.Errorf("snapshot export failed: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("could not finish snapshot file: %w", err)
	}

	rlog.Info("snapshot exported",
		"pair", pair.Name,
		"side", side,
		"file", outPath,
		"files", summary.Files,
		"dirs", summary.Dirs,
	)
	return nil
}
