package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/neehar-mavuduru/argosbench/config"
	"github.com/neehar-mavuduru/argosbench/logging"
)

// ObjectStore receives uploaded objects.
type ObjectStore interface {
	Put(ctx context.Context, name string, r io.Reader, contentType string) error
	Close() error
}

// GCSStore writes objects to a Cloud Storage bucket.
type GCSStore struct {
	client           *storage.Client
	bucket           string
	composeThreshold int64
	chunkSize        int64
	logger           *zap.Logger
}

// NewGCSStore creates a GCS client for cfg.Bucket. An empty CredentialsFile
// uses application default credentials. opts are appended to the client
// options.
func NewGCSStore(ctx context.Context, cfg config.UploadConfig, logger *zap.Logger, opts ...option.ClientOption) (*GCSStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{
		client:           client,
		bucket:           cfg.Bucket,
		composeThreshold: int64(cfg.ComposeThresholdMB) << 20,
		chunkSize:        int64(cfg.ChunkSizeMB) << 20,
		logger:           logging.OrNop(logger),
	}, nil
}

// Put implements ObjectStore. Files at or above the compose threshold are
// uploaded in parallel chunks.
func (g *GCSStore) Put(ctx context.Context, name string, r io.Reader, contentType string) error {
	if f, ok := r.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Size() >= g.composeThreshold {
			return g.putComposed(ctx, name, f, info.Size(), contentType)
		}
	}

	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("write error: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close error: %w", err)
	}
	return nil
}

// Close implements ObjectStore.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

// Retryable reports whether an upload error is transient: gRPC Unavailable,
// DeadlineExceeded, ResourceExhausted, Aborted or Internal, HTTP 429 or 5xx,
// or a connection cut mid-transfer.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 429 || gerr.Code >= 500
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	}
	return false
}
