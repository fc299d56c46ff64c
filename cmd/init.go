package cmd

import (
	"github.com/replisync/replisync/pkg/config"
	"github.com/replisync/replisync/pkg/rlog"
)

// RunInit generates a default configuration file at path.
func RunInit(path string) error {
	if err := config.Generate(path); err != nil {
		return err
	}
	rlog.Info("default configuration written, edit the replica pairs before syncing", "file", path)
	return nil
}
