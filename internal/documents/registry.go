// Package documents はアップロードされたソースドキュメントの所有者情報を管理します。
package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	documentKeyPrefix  = "document:"
	userIndexKeyPrefix = "documents:user:"
)

var (
	// ErrNotFound は fileId に対応するドキュメントが登録されていない場合に返されます。
	ErrNotFound = errors.New("documents: not found")
	// ErrForbidden は他のユーザーのドキュメントを参照しようとした場合に返されます。
	ErrForbidden = errors.New("documents: forbidden")
)

// Document は登録済みソースドキュメントのメタデータです。
type Document struct {
	FileID      string    `json:"fileId"`
	UserID      string    `json:"userId"`
	Filename    string    `json:"filename"`
	Location    string    `json:"location"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Pages       int       `json:"pages"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RedisRegistry はドキュメント情報を document:<fileId> に保存します。
type RedisRegistry struct {
	rdb *redis.Client
}

// NewRedisRegistry は RedisRegistry を作成します。
func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

// Register はドキュメントを登録し、所有者の一覧 documents:user:<userId> に追加します。
// 同じ fileId の再登録はエラーです。
func (r *RedisRegistry) Register(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("documents: document is nil")
	}
	if doc.FileID == "" || doc.UserID == "" || doc.Location == "" {
		return errors.New("documents: fileId, userId and location are required")
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, documentKey(doc.FileID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("documents: register %s: %w", doc.FileID, err)
	}
	if !ok {
		return fmt.Errorf("documents: %s already registered", doc.FileID)
	}
	err = r.rdb.ZAdd(ctx, userIndexKey(doc.UserID), redis.Z{
		Score:  float64(doc.CreatedAt.UnixMilli()),
		Member: doc.FileID,
	}).Err()
	if err != nil {
		return fmt.Errorf("documents: index %s: %w", doc.FileID, err)
	}
	return nil
}

// ListByUser は userId のドキュメントをアップロードの新しい順に返します。
// 索引に残っていても本体が無いものは一覧から外します。
func (r *RedisRegistry) ListByUser(ctx context.Context, userID string) ([]*Document, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("documents: userID is required")
	}
	ids, err := r.rdb.ZRevRange(ctx, userIndexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("documents: list %s: %w", userID, err)
	}
	if len(ids) == 0 {
		return []*Document{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = documentKey(id)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("documents: load %s: %w", userID, err)
	}

	docs := make([]*Document, 0, len(values))
	var missing []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("documents: decode %s: %w", ids[i], err)
		}
		docs = append(docs, &doc)
	}
	if len(missing) > 0 {
		_ = r.rdb.ZRem(ctx, userIndexKey(userID), missing...).Err()
	}
	return docs, nil
}

// Lookup は fileId のドキュメント情報を返します。
func (r *RedisRegistry) Lookup(ctx context.Context, fileID string) (*Document, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, ErrNotFound
	}
	data, err := r.rdb.Get(ctx, documentKey(fileID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("documents: lookup %s: %w", fileID, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("documents: decode %s: %w", fileID, err)
	}
	return &doc, nil
}

// CheckOwnership は fileId が存在し userId の所有であるかを返します。
func (r *RedisRegistry) CheckOwnership(ctx context.Context, userID, fileID string) (bool, error) {
	doc, err := r.Lookup(ctx, fileID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return doc.UserID == userID, nil
}

func documentKey(fileID string) string {
	return documentKeyPrefix + fileID
}

func userIndexKey(userID string) string {
	return userIndexKeyPrefix + userID
}
