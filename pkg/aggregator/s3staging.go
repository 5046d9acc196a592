package aggregator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eunmann/graph-cube/pkg/s3store"
)

// ObjectStore moves graph directories between S3 and local disk.
// *s3store.Client implements it.
type ObjectStore interface {
	DownloadDir(ctx context.Context, src s3store.URI, dir string) (int64, error)
	UploadDir(ctx context.Context, dir string, dst s3store.URI) error
}

// S3Staging lets a local-only aggregator read and write s3:// locations.
// Sources are downloaded to a scratch directory and outputs are written
// there before upload. Local locations pass through unchanged.
type S3Staging struct {
	inner   Aggregator
	store   ObjectStore
	tempDir string
}

// NewS3Staging wraps inner. tempDir may be empty for os.TempDir().
func NewS3Staging(inner Aggregator, store ObjectStore, tempDir string) *S3Staging {
	return &S3Staging{inner: inner, store: store, tempDir: tempDir}
}

// Aggregate stages, delegates and uploads. The scratch directory is removed
// on return.
func (s *S3Staging) Aggregate(ctx context.Context, req Request) (Result, error) {
	srcRemote, outRemote := s3store.IsURI(req.Source), s3store.IsURI(req.Output)
	if !srcRemote && !outRemote {
		return s.inner.Aggregate(ctx, req)
	}

	stage, err := os.MkdirTemp(s.tempDir, "graphcube-stage-*")
	if err != nil {
		return Result{}, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stage)

	local := req
	if srcRemote {
		uri, err := s3store.ParseURI(req.Source)
		if err != nil {
			return Result{}, err
		}
		local.Source = filepath.Join(stage, "src")
		if _, err := s.store.DownloadDir(ctx, uri, local.Source); err != nil {
			return Result{}, fmt.Errorf("stage source: %w", err)
		}
	}

	var dst s3store.URI
	if outRemote {
		if dst, err = s3store.ParseURI(req.Output); err != nil {
			return Result{}, err
		}
		local.Output = filepath.Join(stage, "out")
	}

	res, err := s.inner.Aggregate(ctx, local)
	if err != nil {
		return Result{}, err
	}

	if outRemote {
		if err := s.store.UploadDir(ctx, local.Output, dst); err != nil {
			return Result{}, fmt.Errorf("upload output: %w", err)
		}
	}
	return res, nil
}
