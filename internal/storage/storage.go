// Package storage はソースドキュメントと生成成果物のオブジェクトストレージを提供します。
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrObjectNotFound は指定のロケーションにオブジェクトが存在しない場合に返されます。
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStore はオブジェクトの保存と取得を行います。
//
// Put は作成専用です。同じキーが既に存在する場合は上書きせず、既存のロケーションを返します。
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
}

// sanitizeKey はキーを正規化し、ルート外への脱出を防ぎます。
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
