package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxComposeSources is the most source objects a single compose request
// accepts.
const MaxComposeSources = 32

type chunk struct {
	index  int
	offset int64
	size   int64
}

// planChunks splits size bytes into chunks of chunkSize, growing the chunk
// size so that no more than MaxComposeSources chunks are needed.
func planChunks(size, chunkSize int64) []chunk {
	if size <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = size
	}
	if least := (size + MaxComposeSources - 1) / MaxComposeSources; chunkSize < least {
		chunkSize = least
	}

	n := int((size + chunkSize - 1) / chunkSize)
	chunks := make([]chunk, n)
	for i := range chunks {
		off := int64(i) * chunkSize
		end := off + chunkSize
		if end > size {
			end = size
		}
		chunks[i] = chunk{index: i, offset: off, size: end - off}
	}
	return chunks
}

func chunkObject(prefix string, i int) string {
	return fmt.Sprintf("%s.chunk.%d", prefix, i)
}

// putComposed uploads r as parallel temporary chunk objects and composes
// them, in order, into name. Temporary chunks are always removed.
func (g *GCSStore) putComposed(ctx context.Context, name string, r io.ReaderAt, size int64, contentType string) error {
	chunks := planChunks(size, g.chunkSize)
	tempPrefix := fmt.Sprintf("%s.tmp.%d", name, time.Now().UnixNano())
	bkt := g.client.Bucket(g.bucket)

	g.logger.Debug("starting parallel upload",
		zap.String("object", name),
		zap.Int64("bytes", size),
		zap.Int("chunks", len(chunks)))

	defer func() {
		if err := g.cleanup(context.WithoutCancel(ctx), tempPrefix, len(chunks)); err != nil {
			g.logger.Warn("failed to clean up temporary chunks", zap.String("object", name), zap.Error(err))
		}
	}()

	start := time.Now()
	eg, ectx := errgroup.WithContext(ctx)
	for _, c := range chunks {
		c := c
		eg.Go(func() error {
			w := bkt.Object(chunkObject(tempPrefix, c.index)).NewWriter(ectx)
			w.ContentType = "application/octet-stream"
			if _, err := io.Copy(w, io.NewSectionReader(r, c.offset, c.size)); err != nil {
				w.Close()
				return fmt.Errorf("chunk %d write error: %w", c.index, err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("chunk %d close error: %w", c.index, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	sources := make([]*storage.ObjectHandle, len(chunks))
	for i := range chunks {
		sources[i] = bkt.Object(chunkObject(tempPrefix, i))
	}
	composer := bkt.Object(name).ComposerFrom(sources...)
	composer.ContentType = contentType

	attrs, err := composer.Run(ctx)
	if err != nil {
		return fmt.Errorf("compose error: %w", err)
	}
	if attrs.Size != size {
		_ = bkt.Object(name).Delete(context.WithoutCancel(ctx))
		return fmt.Errorf("size mismatch: expected %d bytes, got %d bytes", size, attrs.Size)
	}

	g.logger.Debug("parallel upload completed",
		zap.String("object", name),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (g *GCSStore) cleanup(ctx context.Context, prefix string, n int) error {
	var errs []error
	bkt := g.client.Bucket(g.bucket)
	for i := 0; i < n; i++ {
		err := bkt.Object(chunkObject(prefix, i)).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", chunkObject(prefix, i), err))
		}
	}
	return errors.Join(errs...)
}
