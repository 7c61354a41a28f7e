package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neehar-mavuduru/argosbench/config"
	"github.com/neehar-mavuduru/argosbench/upload"
)

var (
	uploadBucket string
	uploadPrefix string
)

// newObjectStore is replaced in tests.
var newObjectStore = func(ctx context.Context, cfg config.UploadConfig) (upload.ObjectStore, error) {
	return upload.NewGCSStore(ctx, cfg, logger)
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Publish result logs, plots and reports to GCS",
	Args:  cobra.NoArgs,
	RunE:  runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadBucket, "bucket", "", "GCS bucket (default: from config)")
	uploadCmd.Flags().StringVar(&uploadPrefix, "prefix", "", "object prefix (default: from config)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ucfg := config.DefaultUploadConfig("")
	if cfg.Upload != nil {
		ucfg = *cfg.Upload
	}
	if uploadBucket != "" {
		ucfg.Bucket = uploadBucket
	}
	if uploadPrefix != "" {
		ucfg.Prefix = uploadPrefix
	}
	if err := ucfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := newObjectStore(ctx, ucfg)
	if err != nil {
		return err
	}

	u, err := upload.NewUploader(ucfg, store, cfg.ResultsDir, logger)
	if err != nil {
		store.Close()
		return err
	}
	u.Start()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			logger.Warn("interrupted, aborting uploads")
			u.Abort()
		case <-done:
		}
	}()

	n, err := u.EnqueueDir()
	if stopErr := u.Stop(); err == nil {
		err = stopErr
	}
	if err != nil {
		return err
	}

	stats := u.GetStats()
	logger.Info("upload finished",
		zap.Int("queued", n),
		zap.Int64("successful", stats.Successful),
		zap.Int64("failed", stats.Failed),
		zap.Int64("retries", stats.Retries),
		zap.Int64("bytes", stats.TotalBytes))
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d of %d files to gs://%s/%s\n", stats.Successful, n, ucfg.Bucket, ucfg.Prefix)
	return u.Err()
}
