// Package snapshot exports a replica into a tar.gz archive and imports one
// back, for seeding new replicas or taking offline copies. Archives are
// written through the accessor interface, so any replica backend can be
// snapshotted.
package snapshot

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/replisync/replisync/pkg/accessor"
	"github.com/replisync/replisync/pkg/index"
	"github.com/replisync/replisync/pkg/rlog"
	"github.com/replisync/replisync/pkg/util"
)

// Summary reports what an export or import moved.
type Summary struct {
	Files int
	Dirs  int
	Bytes int64
}

// Export walks the replica from its root and writes every live entry into a
// tar.gz archive. Tombstones and replica-internal state are not part of a
// snapshot.
func Export(ctx context.Context, acc accessor.Accessor, w io.Writer) (Summary, error) {
	gz := pgzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	var sum Summary
	if err := exportDir(ctx, acc, "/", tw, &sum); err != nil {
		return sum, err
	}
	if err := tw.Close(); err != nil {
		return sum, fmt.Errorf("could not finish archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return sum, fmt.Errorf("could not finish compression: %w", err)
	}
	rlog.Info("snapshot exported",
		"replica", acc.Root(),
		"files", sum.Files,
		"dirs", sum.Dirs,
		"bytes", util.ByteCountIEC(sum.Bytes),
	)
	return sum, nil
}

func exportDir(ctx context.Context, acc accessor.Accessor, dirPath string, tw *tar.Writer, sum *Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ni, err := acc.ListIndex(ctx, dirPath)
	if err != nil {
		return fmt.Errorf("could not list %s: %w", dirPath, err)
	}

	names := ni.Names()
	sort.Strings(names)
	for _, name := range names {
		rec := ni[name]
		if rec.IsTombstone() {
			continue
		}
		obj := rec.Object
		entryName := strings.TrimPrefix(obj.Path, "/")

		if obj.IsDir() {
			hdr := &tar.Header{
				Typeflag: tar.TypeDir,
				Name:     entryName + "/",
				Mode:     0o755,
				ModTime:  time.UnixMilli(obj.ModTime),
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return fmt.Errorf("could not add directory %s: %w", obj.Path, err)
			}
			sum.Dirs++
			if err := exportDir(ctx, acc, obj.Path, tw, sum); err != nil {
				return err
			}
			continue
		}

		data, err := acc.ReadContent(ctx, obj.Path)
		if err != nil {
			if accessor.IsNotFound(err) {
				rlog.Warn("entry vanished during export, skipping", "path", obj.Path)
				continue
			}
			return fmt.Errorf("could not read %s: %w", obj.Path, err)
		}
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     entryName,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  time.UnixMilli(obj.ModTime),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("could not add file %s: %w", obj.Path, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("could not write %s: %w", obj.Path, err)
		}
		sum.Files++
		sum.Bytes += int64(len(data))
	}
	return nil
}

// Import reads a tar.gz archive and writes its entries into the replica.
// Existing entries at the same paths are overwritten. Entry types other than
// files and directories are skipped.
func Import(ctx context.Context, r io.Reader, acc accessor.Accessor) (Summary, error) {
	var sum Summary

	gz, err := pgzip.NewReader(r)
	if err != nil {
		return sum, fmt.Errorf("could not open archive: %w", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sum, fmt.Errorf("could not read archive: %w", err)
		}

		pathKey := util.NormalizePath(hdr.Name)
		if pathKey == "/" {
			continue
		}
		obj := &index.FileObject{
			Path:    pathKey,
			Name:    util.BaseName(pathKey),
			ModTime: hdr.ModTime.UnixMilli(),
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := acc.MakeDirectory(ctx, obj); err != nil {
				return sum, err
			}
			sum.Dirs++
		case tar.TypeReg:
			data, err := io.ReadAll(tr)
			if err != nil {
				return sum, fmt.Errorf("could not read %s from archive: %w", pathKey, err)
			}
			size := int64(len(data))
			obj.Size = &size
			if err := acc.WriteContent(ctx, obj, data); err != nil {
				return sum, err
			}
			sum.Files++
			sum.Bytes += size
		default:
			rlog.Warn("skipping unsupported archive entry", "path", pathKey, "type", hdr.Typeflag)
		}
	}

	rlog.Info("snapshot imported",
		"replica", acc.Root(),
		"files", sum.Files,
		"dirs", sum.Dirs,
		"bytes", util.ByteCountIEC(sum.Bytes),
	)
	return sum, nil
}
