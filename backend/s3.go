/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/launix-de/distcell/cell"
)

// S3Config carries the connection details an S3 backend needs,
// mirroring the field set memcp's storage/persistence-s3.go
// S3Factory exposes (region/endpoint/credentials/path-style), so
// a MinIO or Ceph RGW endpoint works the same as AWS S3 proper.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Key             string
	ForcePathStyle  bool
	PollInterval    time.Duration
}

// S3 is a cell.Backend storing the cell as a single S3 object, using
// the object's ETag as the version token and S3's conditional-write
// headers (If-Match / If-None-Match) for try_write's compare-and-swap,
// an approach S3 and S3-compatible stores (MinIO, Ceph RGW) support
// natively without any auxiliary locking object.
type S3 struct {
	cfg S3Config

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

// NewS3 returns an S3 backend; the client connects lazily on first
// use, the same ensureOpen pattern memcp's S3Storage follows.
func NewS3(cfg S3Config) *S3 {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	return &S3{cfg: cfg}
}

func (s *S3) ensureOpen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}

	var opts []func(*config.LoadOptions) error
	if s.cfg.Region != "" {
		opts = append(opts, config.WithRegion(s.cfg.Region))
	}
	if s.cfg.AccessKeyID != "" && s.cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("s3 backend: load config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if s.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(s.cfg.Endpoint) })
	}
	if s.cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	s.client = s3.NewFromConfig(awsCfg, s3Opts...)
	s.opened = true
	return nil
}

// responseStatus extracts the HTTP status code smithy-go attaches to
// a failed S3 call, used to tell "object absent" and "precondition
// failed" apart from other request errors.
func responseStatus(err error) int {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.Response.StatusCode
	}
	return 0
}

func (s *S3) Read(ctx context.Context) ([]byte, cell.Version, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, cell.VersionAbsent, err
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
	})
	if err != nil {
		if responseStatus(err) == 404 {
			return nil, cell.VersionAbsent, nil
		}
		return nil, cell.VersionAbsent, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cell.VersionAbsent, err
	}
	return data, cell.Version(aws.ToString(resp.ETag)), nil
}

func (s *S3) Write(ctx context.Context, blob []byte) (cell.Version, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return cell.VersionAbsent, err
	}
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
		Body:   bytes.NewReader(blob),
	})
	if err != nil {
		return cell.VersionAbsent, err
	}
	return cell.Version(aws.ToString(out.ETag)), nil
}

func (s *S3) TryWrite(ctx context.Context, expected cell.Version, blob []byte) (cell.Version, bool, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return cell.VersionAbsent, false, err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
		Body:   bytes.NewReader(blob),
	}
	if expected == cell.VersionAbsent {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String(string(expected))
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		status := responseStatus(err)
		if status == 412 || status == 409 {
			return cell.VersionAbsent, false, nil
		}
		return cell.VersionAbsent, false, err
	}
	return cell.Version(aws.ToString(out.ETag)), true, nil
}

// WaitForChange polls the object with Read (GetObject) at
// cfg.PollInterval, comparing ETags: S3 has no
// server-side change-notification primitive a single reader can block
// on the way a filesystem or an in-process channel can, so polling is
// the only portable option (noted as an accepted trade-off in the
// backend contract's Design Notes).
func (s *S3) WaitForChange(ctx context.Context, since cell.Version) ([]byte, cell.Version, error) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		blob, version, err := s.Read(ctx)
		if err != nil {
			return nil, cell.VersionAbsent, err
		}
		if version != since {
			return blob, version, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, cell.VersionAbsent, ctx.Err()
		}
	}
}
