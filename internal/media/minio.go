// Package media stores uploaded images and video in an S3-compatible bucket
// and hands back the stable URL that content entities reference.
package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"memoria/api/internal/util"
)

type Uploader struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewUploader connects to the object store and makes sure the bucket exists.
// publicURL overrides the endpoint in returned URLs when a CDN or reverse
// proxy fronts the bucket; empty means link straight to the endpoint.
func NewUploader(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, publicURL string) (*Uploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, endpoint, bucket)
	}
	return &Uploader{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Upload stores one file and returns its public URL. Object names are
// generated, never taken from the client filename, so uploads cannot
// overwrite each other; the original extension is kept for content
// negotiation.
func (u *Uploader) Upload(ctx context.Context, filename, contentType string, r io.Reader, size int64) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	object := fmt.Sprintf("%s/%s%s", time.Now().UTC().Format("2006/01"), util.NewID(), ext)

	_, err := u.client.PutObject(ctx, u.bucket, object, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return u.publicURL + "/" + object, nil
}

// Remove deletes an object by the URL Upload returned. Unknown URLs are
// ignored so content cleanup can be retried.
func (u *Uploader) Remove(ctx context.Context, url string) error {
	object, ok := strings.CutPrefix(url, u.publicURL+"/")
	if !ok {
		return nil
	}
	if err := u.client.RemoveObject(ctx, u.bucket, object, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}
