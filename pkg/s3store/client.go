// Package s3store stages graph directories between S3 prefixes and local disk.
package s3store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"
)

// Config tunes transfers.
type Config struct {
	// Region overrides the region from the default AWS configuration.
	Region string
	// Concurrency bounds both parallel objects and parts per object.
	Concurrency int
	// PartSize is the multipart chunk size in bytes.
	PartSize int64
}

// DefaultConfig returns max(4, NumCPU) capped at 16 and 16MB parts.
func DefaultConfig() Config {
	c := runtime.NumCPU()
	if c < 4 {
		c = 4
	}
	if c > 16 {
		c = 16
	}
	return Config{Concurrency: c, PartSize: 16 * 1024 * 1024}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.PartSize <= 0 {
		c.PartSize = d.PartSize
	}
}

// Client moves whole directories to and from S3.
type Client struct {
	s3         *s3.Client
	downloader *manager.Downloader
	uploader   *manager.Uploader
	cfg        Config
}

// NewClient loads the default AWS credential chain.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewClientWithConfig(awsCfg, cfg), nil
}

// NewClientWithConfig builds a client from an existing AWS config.
func NewClientWithConfig(awsCfg aws.Config, cfg Config) *Client {
	cfg.applyDefaults()
	api := s3.NewFromConfig(awsCfg)
	return &Client{
		s3: api,
		downloader: manager.NewDownloader(api, func(d *manager.Downloader) {
			d.Concurrency = cfg.Concurrency
			d.PartSize = cfg.PartSize
		}),
		uploader: manager.NewUploader(api, func(u *manager.Uploader) {
			u.Concurrency = cfg.Concurrency
			u.PartSize = cfg.PartSize
		}),
		cfg: cfg,
	}
}

// DownloadDir copies every object under src into dir, preserving relative
// key paths. It returns the total bytes transferred.
func (c *Client) DownloadDir(ctx context.Context, src URI, dir string) (int64, error) {
	prefix := src.Prefix()
	var keys []string
	p := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(src.Bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list %s: %w", src, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	if len(keys) == 0 {
		return 0, fmt.Errorf("no objects under %s", src)
	}

	sizes := make([]int64, len(keys))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, key := range keys {
		g.Go(func() error {
			dst, err := localPath(dir, prefix, key)
			if err != nil {
				return err
			}
			n, err := c.downloadFile(ctx, src.Bucket, key, dst)
			if err != nil {
				return err
			}
			sizes[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total int64
	for _, n := range sizes {
		total += n
	}
	return total, nil
}

func (c *Client) downloadFile(ctx context.Context, bucket, key, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("create dir for %s: %w", dst, err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}
	n, err := c.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return 0, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	return n, nil
}

// UploadDir copies every regular file under dir to dst.
func (c *Client) UploadDir(ctx context.Context, dir string, dst URI) error {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", dir, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, p := range files {
		g.Go(func() error {
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			return c.uploadFile(ctx, p, dst.Join(filepath.ToSlash(rel)))
		})
	}
	return g.Wait()
}

func (c *Client) uploadFile(ctx context.Context, src string, dst URI) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(dst.Bucket),
		Key:    aws.String(dst.Key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload %s to %s: %w", src, dst, err)
	}
	return nil
}
