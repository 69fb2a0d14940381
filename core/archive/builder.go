package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mirlo/logger"
	"mirlo/model"
	"mirlo/storage"

	"github.com/klauspost/compress/flate"
)

// ObjectStore is the slice of object storage the builder needs: an existence
// probe, streaming reads and streaming writes.
type ObjectStore interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
}

// Item is one track to include in an archive.
type Item struct {
	TrackID    int64
	Title      string
	Order      int
	StorageKey string
}

// Request describes one archive build.
type Request struct {
	TargetID int64
	Format   model.AudioFormat
	Items    []Item
}

// Builder assembles release archives from pre-generated per-track masters.
// Items are fetched and written sequentially in ordinal order; the archive
// is staged on local disk so it is never held in memory whole.
type Builder struct {
	store           ObjectStore
	audioBucket     string
	downloadsBucket string
	stagingDir      string
}

// NewBuilder creates a Builder.
func NewBuilder(store ObjectStore, audioBucket, downloadsBucket, stagingDir string) *Builder {
	return &Builder{
		store:           store,
		audioBucket:     audioBucket,
		downloadsBucket: downloadsBucket,
		stagingDir:      stagingDir,
	}
}

// Build produces the archive for a request and persists it under its
// deterministic key. If the artifact already exists the build is a no-op
// success: a duplicate enqueue racing a completed build must not refetch a
// single item. Returns the artifact key and whether this call built it.
func (b *Builder) Build(ctx context.Context, req Request) (string, bool, error) {
	key := ArtifactKey(req.TargetID, req.Format)

	exists, err := b.store.Exists(ctx, b.downloadsBucket, key)
	if err != nil {
		return "", false, err
	}
	if exists {
		logger.Info("archive already built, skipping",
			logger.Int64("targetId", req.TargetID),
			logger.String("format", req.Format.String()))
		return key, false, nil
	}

	if err := os.MkdirAll(b.stagingDir, 0755); err != nil {
		return "", false, fmt.Errorf("failed to create staging dir: %w", err)
	}
	staging, err := os.CreateTemp(b.stagingDir, "archive-*.zip")
	if err != nil {
		return "", false, fmt.Errorf("failed to create staging file: %w", err)
	}
	defer func() {
		staging.Close()
		os.Remove(staging.Name())
	}()

	written, err := b.WriteArchive(ctx, staging, req.Items, req.Format)
	if err != nil {
		return "", false, err
	}

	size, err := staging.Seek(0, io.SeekEnd)
	if err != nil {
		return "", false, fmt.Errorf("failed to measure staged archive: %w", err)
	}
	if _, err := staging.Seek(0, io.SeekStart); err != nil {
		return "", false, fmt.Errorf("failed to rewind staged archive: %w", err)
	}

	if err := b.store.Put(ctx, b.downloadsBucket, key, staging, size, "application/zip"); err != nil {
		return "", false, err
	}

	logger.Info("archive built",
		logger.Int64("targetId", req.TargetID),
		logger.String("format", req.Format.String()),
		logger.Int("entries", written),
		logger.Int64("bytes", size))
	return key, true, nil
}

// WriteArchive streams each item's generated master into w as a zip entry
// named "{order} - {title}.{ext}", in the order given. A missing master is
// logged and skipped so one lost object does not sink the whole archive;
// writer errors abort the build. Returns the number of entries written.
func (b *Builder) WriteArchive(ctx context.Context, w io.Writer, items []Item, format model.AudioFormat) (int, error) {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	written := 0
	for _, item := range items {
		objectKey := GeneratedKey(item.StorageKey, format)
		rc, err := b.store.Get(ctx, b.audioBucket, objectKey)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				logger.Warn("generated master missing, skipping track",
					logger.Int64("trackId", item.TrackID),
					logger.String("key", objectKey))
				continue
			}
			zw.Close()
			return written, err
		}

		header := &zip.FileHeader{
			Name:     EntryName(item.Order, item.Title, format),
			Method:   zip.Deflate,
			Modified: time.Now(),
		}
		entry, err := zw.CreateHeader(header)
		if err != nil {
			rc.Close()
			zw.Close()
			return written, fmt.Errorf("failed to create archive entry for track %d: %w", item.TrackID, err)
		}
		if _, err := io.Copy(entry, rc); err != nil {
			rc.Close()
			zw.Close()
			return written, fmt.Errorf("failed to write archive entry for track %d: %w", item.TrackID, err)
		}
		rc.Close()
		written++
	}

	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return written, nil
}

// EntryName is the display filename of one archive entry.
func EntryName(order int, title string, format model.AudioFormat) string {
	// Slashes would turn the entry into a directory path inside the zip.
	title = strings.NewReplacer("/", "-", "\\", "-").Replace(title)
	return fmt.Sprintf("%d - %s.%s", order, title, format.Extension())
}
