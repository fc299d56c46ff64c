package treesync

import (
	"context"

	"github.com/replisync/replisync/pkg/accessor"
	"github.com/replisync/replisync/pkg/index"
)

// Transfer moves one file's content between accessors and returns the number
// of bytes written to the destination. Implementations may compress, encrypt
// or route the payload; the reconciler only cares that the destination ends
// up with the source content under the destination object's path.
type Transfer interface {
	Transfer(ctx context.Context, from accessor.Accessor, fromObj *index.FileObject, to accessor.Accessor, toObj *index.FileObject) (int64, error)
}

// ByteCopyTransfer is the default Transfer: read the whole content from the
// source accessor, write it to the destination accessor.
type ByteCopyTransfer struct{}

func (ByteCopyTransfer) Transfer(ctx context.Context, from accessor.Accessor, fromObj *index.FileObject, to accessor.Accessor, toObj *index.FileObject) (int64, error) {
	data, err := from.ReadContent(ctx, fromObj.Path)
	if err != nil {
		return 0, err
	}
	if err := to.WriteContent(ctx, toObj, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

var _ Transfer = ByteCopyTransfer{}
