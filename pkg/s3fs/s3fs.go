// Package s3fs implements the replica accessor for an S3 (or S3-compatible,
// e.g. MinIO) bucket. Entries map to object keys under a configurable
// prefix; directories are zero-byte marker objects whose key ends in "/".
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jonboulle/clockwork"

	"github.com/replisync/replisync/pkg/accessor"
	"github.com/replisync/replisync/pkg/index"
	"github.com/replisync/replisync/pkg/rlog"
	"github.com/replisync/replisync/pkg/util"
)

// MetaPrefix is the key prefix (relative to the replica prefix) holding
// replisync's own state. It is invisible to synchronization.
const MetaPrefix = ".replisync/"

// mtimeMetadataKey is the object metadata key carrying the entry's real
// modification time in epoch milliseconds. S3's LastModified is the upload
// time, which says nothing about the content's age.
const mtimeMetadataKey = "replisync-mtime"

// Client is the subset of the S3 API the accessor uses. *s3.Client
// satisfies it; tests inject a fake.
type Client interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Config describes an S3 replica.
type Config struct {
	// Endpoint overrides the S3 endpoint, e.g. for MinIO. Empty uses AWS.
	Endpoint string
	// Bucket is the bucket holding the replica.
	Bucket string
	// Prefix roots the replica inside the bucket. Empty means the whole
	// bucket.
	Prefix string
	// AccessKey/SecretKey are static credentials. Both empty falls back
	// to the default AWS credential chain.
	AccessKey string
	SecretKey string
	// Region is the bucket region.
	Region string
	// UsePathStyle addresses the bucket in the URL path instead of the
	// hostname, required by most S3-compatible servers.
	UsePathStyle bool
	// Client overrides the S3 client; tests inject a fake.
	Client Client
	// Store persists the name indexes. Nil means a blob store inside the
	// meta prefix, configured with StoreConfig.
	Store index.Store
	// StoreConfig configures the default store when Store is nil.
	StoreConfig index.StoreConfig
	// Clock supplies tombstone timestamps for out-of-band deletions
	// discovered while listing. Nil means wall clock.
	Clock clockwork.Clock
}

// Accessor is the S3 replica backend.
type Accessor struct {
	client Client
	bucket string
	// base is the normalized key prefix, "" or ending in "/".
	base  string
	store index.Store
	clock clockwork.Clock
}

// New creates an S3 accessor. The context covers client construction and
// the initial index store load.
func New(ctx context.Context, cfg Config) (*Accessor, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 replica bucket must not be empty")
	}
	client := cfg.Client
	if client == nil {
		var err error
		client, err = newClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	base := strings.Trim(cfg.Prefix, "/")
	if base != "" {
		base += "/"
	}

	a := &Accessor{
		client: client,
		bucket: cfg.Bucket,
		base:   base,
		clock:  clock,
	}

	store := cfg.Store
	if store == nil {
		storeCfg := cfg.StoreConfig
		if storeCfg.Clock == nil {
			storeCfg.Clock = clock
		}
		var err error
		store, err = index.NewBlobStore(&objectBlob{
			client: client,
			bucket: cfg.Bucket,
			key:    base + MetaPrefix + "index.json.gz",
		}, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("could not open index store for s3://%s/%s: %w", cfg.Bucket, base, err)
		}
	}
	a.store = store
	return a, nil
}

func newClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Root describes the replica root for logging.
func (a *Accessor) Root() string {
	return "s3://" + a.bucket + "/" + a.base
}

// Close flushes the index store.
func (a *Accessor) Close() error { return a.store.Close() }

// fileKey translates a path key into the object key of a file.
func (a *Accessor) fileKey(pathKey string) string {
	return a.base + strings.TrimPrefix(util.NormalizePath(pathKey), "/")
}

// dirKey translates a path key into the listing prefix (and marker key) of
// a directory.
func (a *Accessor) dirKey(pathKey string) string {
	key := a.fileKey(pathKey)
	if key == a.base || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

// list returns every object under prefix, following continuation tokens.
// With delimited set, direct children only, plus the grouped subdirectory
// prefixes.
func (a *Accessor) list(ctx context.Context, prefix string, delimited bool) ([]types.Object, []string, error) {
	var (
		objects  []types.Object
		subdirs  []string
		seenDirs = map[string]struct{}{}
		token    *string
	)
	for {
		input := &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		}
		if delimited {
			input.Delimiter = aws.String("/")
		}
		out, err := a.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, nil, fmt.Errorf("list s3://%s/%s: %w", a.bucket, prefix, err)
		}
		objects = append(objects, out.Contents...)
		for _, cp := range out.CommonPrefixes {
			dir := aws.ToString(cp.Prefix)
			if _, ok := seenDirs[dir]; !ok {
				seenDirs[dir] = struct{}{}
				subdirs = append(subdirs, dir)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(subdirs)
	return objects, subdirs, nil
}

// objectModTime reads the entry's modification time off the object's
// metadata, falling back to the upload time for objects written by other
// tools.
func objectModTime(metadata map[string]string, head *s3.HeadObjectOutput) int64 {
	if v, ok := metadata[mtimeMetadataKey]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return ms
		}
	}
	if head != nil && head.LastModified != nil {
		return head.LastModified.UnixMilli()
	}
	return 0
}

// ListIndex merges the persisted index for dirPath with a fresh bucket
// listing. File modification times come from per-object metadata, which
// costs one HeadObject per file; directory stamps are carried from the
// persisted record whenever possible.
func (a *Accessor) ListIndex(ctx context.Context, dirPath string) (index.NameIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirPath = util.NormalizePath(dirPath)

	persisted, err := a.store.Load(dirPath)
	if err != nil {
		return nil, err
	}

	prefix := a.dirKey(dirPath)
	objects, subdirs, err := a.list(ctx, prefix, true)
	if err != nil {
		return nil, err
	}

	var observed []*index.FileObject
	for _, obj := range objects {
		key := aws.ToString(obj.Key)
		if key == prefix || strings.HasPrefix(key, a.base+MetaPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, prefix)
		size := aws.ToInt64(obj.Size)

		head, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("head s3://%s/%s: %w", a.bucket, key, err)
		}
		observed = append(observed, &index.FileObject{
			Path:    util.JoinPath(dirPath, name),
			Name:    name,
			Size:    &size,
			ModTime: objectModTime(head.Metadata, head),
		})
	}

	for _, sub := range subdirs {
		name := strings.TrimSuffix(strings.TrimPrefix(sub, prefix), "/")
		if a.base+MetaPrefix == sub {
			continue
		}
		observed = append(observed, &index.FileObject{
			Path:    util.JoinPath(dirPath, name),
			Name:    name,
			ModTime: a.markerModTime(ctx, sub),
		})
	}

	ni := index.MergeObserved(persisted, observed, a.clock.Now().UnixMilli())

	if !ni.Equal(persisted) {
		if err := a.store.Save(dirPath, ni); err != nil {
			return nil, fmt.Errorf("could not persist observed index for %s: %w", dirPath, err)
		}
	}
	return ni, nil
}

// markerModTime resolves a subdirectory's modification time from its marker
// object. Prefixes without a marker (trees uploaded by other tools) are
// stamped with the current time on first sight; the merge carries the stamp
// forward afterwards.
func (a *Accessor) markerModTime(ctx context.Context, markerKey string) int64 {
	head, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(markerKey),
	})
	if err != nil {
		var notFound *types.NotFound
		if !errors.As(err, &notFound) {
			rlog.Debug("directory marker lookup failed", "key", markerKey, "error", err)
		}
		return a.clock.Now().UnixMilli()
	}
	return objectModTime(head.Metadata, head)
}

// ReadContent returns the full content of a file.
func (a *Accessor) ReadContent(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := a.fileKey(path)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("read %s: %w", path, accessor.ErrNotFound)
		}
		return nil, fmt.Errorf("could not read s3://%s/%s: %w", a.bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read s3://%s/%s: %w", a.bucket, key, err)
	}
	return data, nil
}

// WriteContent uploads a file with its modification time in the object
// metadata. S3 writes are atomic per object, so no temp-and-rename dance is
// needed.
func (a *Accessor) WriteContent(ctx context.Context, obj *index.FileObject, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := a.fileKey(obj.Path)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{mtimeMetadataKey: strconv.FormatInt(obj.ModTime, 10)},
	})
	if err != nil {
		return fmt.Errorf("could not write s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}

// MakeDirectory writes the directory's zero-byte marker object.
func (a *Accessor) MakeDirectory(ctx context.Context, obj *index.FileObject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := a.dirKey(obj.Path)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
		Metadata:      map[string]string{mtimeMetadataKey: strconv.FormatInt(obj.ModTime, 10)},
	})
	if err != nil {
		return fmt.Errorf("could not create directory s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}

// Delete removes a single file, or a directory's marker object.
func (a *Accessor) Delete(ctx context.Context, path string, isFile bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := a.fileKey(path)
	if !isFile {
		key = a.dirKey(path)
	}
	// S3 deletes are idempotent and would mask a vanished object, so probe
	// first: the engine distinguishes "deleted" from "was already gone".
	if _, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}); err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return fmt.Errorf("delete %s: %w", path, accessor.ErrNotFound)
		}
		return fmt.Errorf("could not probe s3://%s/%s: %w", a.bucket, key, err)
	}
	if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("could not delete s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}

// DeleteRecursively removes every object under a directory prefix and drops
// its persisted indexes.
func (a *Accessor) DeleteRecursively(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := a.dirKey(path)
	objects, _, err := a.list(ctx, prefix, false)
	if err != nil {
		return err
	}

	if len(objects) == 0 {
		// Content already gone; still drop stale indexes.
		if err := a.store.DeleteTree(path); err != nil {
			return err
		}
		return fmt.Errorf("delete %s: %w", path, accessor.ErrNotFound)
	}

	const batchSize = 1000
	for start := 0; start < len(objects); start += batchSize {
		end := start + batchSize
		if end > len(objects) {
			end = len(objects)
		}
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, obj := range objects[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		out, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(a.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("could not delete subtree s3://%s/%s: %w", a.bucket, prefix, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("could not delete s3://%s/%s: %s", a.bucket, aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return a.store.DeleteTree(path)
}

// PersistIndex writes back the name index for a directory.
func (a *Accessor) PersistIndex(ctx context.Context, dirPath string, ni index.NameIndex) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.store.Save(dirPath, ni)
}

// ClearCache is a no-op: the S3 accessor never caches listings.
func (a *Accessor) ClearCache(dirPath string) {}

func isNoSuchKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// objectBlob stores the index document as one object. Writes use the
// background context: the document must land even when the pass that
// produced it is being canceled.
type objectBlob struct {
	client Client
	bucket string
	key    string
}

func (b *objectBlob) Read() ([]byte, bool, error) {
	out, err := b.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("s3://%s/%s: %w", b.bucket, b.key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return data, true, nil
}

func (b *objectBlob) Write(data []byte) error {
	_, err := b.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return nil
}

var _ accessor.Accessor = (*Accessor)(nil)
