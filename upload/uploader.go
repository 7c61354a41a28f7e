// Package upload publishes result logs, plots and reports to object storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neehar-mavuduru/argosbench/config"
	"github.com/neehar-mavuduru/argosbench/logging"
)

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("uploader stopped")

// Extensions uploaded by EnqueueDir.
var Extensions = []string{".json", ".png", ".csv", ".md", ".db"}

// Uploader handles uploading result files from a channel-fed worker
type Uploader struct {
	config     config.UploadConfig
	store      ObjectStore
	root       string
	uploadChan chan string
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger

	mu        sync.Mutex
	stopped   bool
	closeOnce sync.Once
	closeErr  error

	uploadStats Stats
	statsMu     sync.RWMutex
}

// Stats tracks upload statistics
type Stats struct {
	TotalFiles     int64
	Successful     int64
	Failed         int64
	Retries        int64
	TotalBytes     int64
	TotalDuration  time.Duration
	LastUploadTime time.Time
	Errors         []error
}

// NewUploader creates an uploader for files under root.
func NewUploader(cfg config.UploadConfig, store ObjectStore, root string, logger *zap.Logger) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Uploader{
		config:     cfg,
		store:      store,
		root:       root,
		uploadChan: make(chan string, cfg.ChannelBufferSize),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logging.OrNop(logger),
	}, nil
}

// Start starts the upload worker
func (u *Uploader) Start() {
	u.wg.Add(1)
	go u.uploadWorker()
}

// Enqueue schedules a file for upload. It blocks while the queue is full.
func (u *Uploader) Enqueue(filePath string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return ErrStopped
	}
	u.uploadChan <- filePath
	return nil
}

// EnqueueDir schedules every result file under root and returns how many
// were queued.
func (u *Uploader) EnqueueDir() (int, error) {
	n := 0
	err := filepath.WalkDir(u.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !uploadable(p) {
			return nil
		}
		if err := u.Enqueue(p); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

// Stop waits for queued uploads to finish and closes the store. Every call
// waits for the worker, including concurrent ones.
func (u *Uploader) Stop() error {
	u.mu.Lock()
	if !u.stopped {
		u.stopped = true
		close(u.uploadChan)
	}
	u.mu.Unlock()

	u.wg.Wait()
	u.closeOnce.Do(func() {
		u.cancel()
		u.closeErr = u.store.Close()
	})
	return u.closeErr
}

// Abort cancels in-flight uploads and stops.
func (u *Uploader) Abort() error {
	u.cancel()
	return u.Stop()
}

// GetStats returns current upload statistics
func (u *Uploader) GetStats() Stats {
	u.statsMu.RLock()
	defer u.statsMu.RUnlock()
	s := u.uploadStats
	s.Errors = append([]error(nil), u.uploadStats.Errors...)
	return s
}

// Err joins the errors of failed uploads.
func (u *Uploader) Err() error {
	return errors.Join(u.GetStats().Errors...)
}

func (u *Uploader) uploadWorker() {
	defer u.wg.Done()

	for filePath := range u.uploadChan {
		if filePath == "" {
			continue
		}

		err := u.uploadFileWithRetry(filePath)

		u.statsMu.Lock()
		u.uploadStats.TotalFiles++
		if err != nil {
			u.uploadStats.Failed++
			u.uploadStats.Errors = append(u.uploadStats.Errors, fmt.Errorf("%s: %w", filePath, err))
		} else {
			u.uploadStats.Successful++
			u.uploadStats.LastUploadTime = time.Now()
		}
		u.statsMu.Unlock()

		if err != nil {
			u.logger.Error("upload failed", zap.String("path", filePath), zap.Error(err))
		}
	}
}

func (u *Uploader) uploadFileWithRetry(filePath string) error {
	var lastErr error
	for attempt := 0; attempt <= u.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-u.ctx.Done():
				return ErrStopped
			case <-time.After(u.config.RetryDelay.Std()):
			}
			u.statsMu.Lock()
			u.uploadStats.Retries++
			u.statsMu.Unlock()
		}

		start := time.Now()
		size, err := u.uploadFile(filePath)
		if err == nil {
			u.statsMu.Lock()
			u.uploadStats.TotalBytes += size
			u.uploadStats.TotalDuration += time.Since(start)
			u.statsMu.Unlock()
			u.logger.Debug("uploaded", zap.String("object", u.objectName(filePath)), zap.Int64("bytes", size))
			return nil
		}

		lastErr = err
		if !Retryable(err) {
			return err
		}
		if attempt < u.config.MaxRetries {
			u.logger.Warn("upload attempt failed, retrying",
				zap.String("path", filePath),
				zap.Int("attempt", attempt+1),
				zap.Int("of", u.config.MaxRetries+1),
				zap.Error(err))
		}
	}

	return fmt.Errorf("upload failed after %d attempts: %w", u.config.MaxRetries+1, lastErr)
}

func (u *Uploader) uploadFile(filePath string) (int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}

	if err := u.store.Put(u.ctx, u.objectName(filePath), file, contentType(filePath)); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// objectName maps a local path to <prefix>/<path relative to root>.
func (u *Uploader) objectName(filePath string) string {
	rel, err := filepath.Rel(u.root, filePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(filePath)
	}
	return path.Join(u.config.Prefix, filepath.ToSlash(rel))
}

func uploadable(p string) bool {
	ext := filepath.Ext(p)
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func contentType(p string) string {
	switch filepath.Ext(p) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".csv":
		return "text/csv; charset=utf-8"
	}
	if t := mime.TypeByExtension(filepath.Ext(p)); t != "" {
		return t
	}
	return "application/octet-stream"
}
