// Package archive keeps a copy of every fetched raw message in an S3
// compatible bucket.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mailingest/internal/config"
)

const contentType = "message/rfc822"

// Archiver stores one raw RFC 822 payload.
type Archiver interface {
	Archive(ctx context.Context, obj Object) error
}

// Object identifies a message in the archive.
type Object struct {
	Account string
	Mailbox string
	UID     uint32
	Body    []byte
}

// Key builds "<prefix>/<account>/<mailbox>/<uid>.eml". Each segment is path
// escaped so mailbox hierarchies cannot create extra levels.
func Key(prefix string, obj Object) string {
	parts := []string{
		url.PathEscape(strings.ToLower(strings.TrimSpace(obj.Account))),
		url.PathEscape(obj.Mailbox),
		strconv.FormatUint(uint64(obj.UID), 10) + ".eml",
	}
	if p := strings.Trim(prefix, "/ "); p != "" {
		parts = append([]string{p}, parts...)
	}
	return path.Join(parts...)
}

type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

func New(cfg config.ArchiveConfig) (*S3Archiver, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("archive bucket is not configured")
	}

	var endpointURL string
	if strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://") {
		endpointURL = cfg.Endpoint
	} else {
		protocol := "http"
		if cfg.UseSSL {
			protocol = "https"
		}
		endpointURL = protocol + "://" + cfg.Endpoint
	}

	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		BaseEndpoint: aws.String(endpointURL),
		UsePathStyle: true,
	})

	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, obj Object) error {
	key := Key(a.prefix, obj)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(obj.Body),
		ContentLength: aws.Int64(int64(len(obj.Body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	return nil
}
