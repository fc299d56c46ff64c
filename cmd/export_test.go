package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replisync/replisync/pkg/config"
)

func TestExportImportRoundTrip(t *testing.T) {
	pair := localPair(t, "docs")
	writeFile(t, pair.Local.Root, "report.txt", "quarterly numbers")
	require.NoError(t, os.Mkdir(filepath.Join(pair.Local.Root, "archive"), 0o755))
	writeFile(t, pair.Local.Root, filepath.Join("archive", "old.txt"), "old")

	cfg := config.NewDefault()
	cfg.IndexWriteThrottleSeconds = 0
	cfg.Pairs = []config.PairConfig{pair}

	archivePath := filepath.Join(t.TempDir(), "docs.tar.gz")
	require.NoError(t, RunExport(context.Background(), cfg, "docs", SideLocal, archivePath))
	require.FileExists(t, archivePath)

	// Exporting to the same path again must not clobber the archive.
	require.Error(t, RunExport(context.Background(), cfg, "docs", SideLocal, archivePath))

	require.NoError(t, RunImport(context.Background(), cfg, "docs", SideRemote, archivePath))
	assert.Equal(t, "quarterly numbers", readFile(t, pair.Remote.Root, "report.txt"))
	assert.Equal(t, "old", readFile(t, pair.Remote.Root, filepath.Join("archive", "old.txt")))
}

func TestExportUnknownSide(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Pairs = []config.PairConfig{localPair(t, "docs")}

	err := RunExport(context.Background(), cfg, "docs", "sideways", filepath.Join(t.TempDir(), "x.tar.gz"))
	require.Error(t, err)
}

func TestImportMissingArchive(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Pairs = []config.PairConfig{localPair(t, "docs")}

	err := RunImport(context.Background(), cfg, "docs", SideLocal, filepath.Join(t.TempDir(), "nope.tar.gz"))
	require.Error(t, err)
}
