package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore は Google Cloud Storage のバケットにオブジェクトを保存します。
type GCSStore struct {
	client *gcs.Client
	bucket string
}

// NewGCSStore は既存のクライアントとバケット名から GCSStore を作成します。
func NewGCSStore(client *gcs.Client, bucket string) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("storage: gcs client is nil")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: bucket is required")
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put はオブジェクトが存在しない場合のみ書き込みます。既に存在する場合 (412) は成功扱いです。
func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	location := fmt.Sprintf("gs://%s/%s", s.bucket, cleanKey)

	writer := s.client.Bucket(s.bucket).Object(cleanKey).
		If(gcs.Conditions{DoesNotExist: true}).
		NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			return location, nil
		}
		return "", fmt.Errorf("storage: write gcs object %s: %w", cleanKey, err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return location, nil
		}
		return "", fmt.Errorf("storage: finalize gcs object %s: %w", cleanKey, err)
	}
	return location, nil
}

// Get は gs://bucket/key 形式のロケーションから読み込みます。
func (s *GCSStore) Get(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := parseGCSLocation(location)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("storage: open gcs object %s: %w", key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("storage: read gcs object %s: %w", key, err)
	}
	return data, nil
}

func parseGCSLocation(location string) (string, string, error) {
	rest, ok := strings.CutPrefix(location, "gs://")
	if !ok {
		return "", "", fmt.Errorf("storage: unsupported location %q", location)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("storage: malformed gcs location %q", location)
	}
	return bucket, key, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
