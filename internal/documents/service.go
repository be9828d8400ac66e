package documents

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/pdf"
	"github.com/dpeshrijal/pdf-summarizer-backend/internal/storage"
)

// Registrar はドキュメント情報の登録先です。
type Registrar interface {
	Register(ctx context.Context, doc *Document) error
	Lookup(ctx context.Context, fileID string) (*Document, error)
	ListByUser(ctx context.Context, userID string) ([]*Document, error)
}

// Service はソースドキュメントのアップロードを処理します。
type Service struct {
	registry Registrar
	objects  storage.ObjectStore
	limits   pdf.Limits
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// NewService は Service を作成します。
func NewService(registry Registrar, objects storage.ObjectStore, limits pdf.Limits, logger zerolog.Logger) (*Service, error) {
	if registry == nil {
		return nil, errors.New("documents: registry is nil")
	}
	if objects == nil {
		return nil, errors.New("documents: object store is nil")
	}
	return &Service{
		registry: registry,
		objects:  objects,
		limits:   limits,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// Upload は data を検査して保存し、userId の所有として登録します。
func (s *Service) Upload(ctx context.Context, userID, filename string, data []byte) (*Document, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("documents: userID is required")
	}
	info, err := pdf.Inspect(data, s.limits)
	if err != nil {
		return nil, err
	}

	fileID := s.newID()
	key := fmt.Sprintf("uploads/%s/%s.pdf", keySegment(userID), fileID)
	location, err := s.objects.Put(ctx, key, data, info.ContentType)
	if err != nil {
		return nil, fmt.Errorf("documents: store upload: %w", err)
	}

	doc := &Document{
		FileID:      fileID,
		UserID:      userID,
		Filename:    cleanFilename(filename),
		Location:    location,
		ContentType: info.ContentType,
		Size:        info.Size,
		Pages:       info.Pages,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.registry.Register(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("file_id", fileID).
		Str("user_id", userID).
		Int("pages", info.Pages).
		Msg("source document registered")
	return doc, nil
}

// List は userID がアップロードしたドキュメントを新しい順に返します。
func (s *Service) List(ctx context.Context, userID string) ([]*Document, error) {
	return s.registry.ListByUser(ctx, userID)
}

// Get は fileID のドキュメントを返します。所有者以外には ErrForbidden を返します。
func (s *Service) Get(ctx context.Context, userID, fileID string) (*Document, error) {
	doc, err := s.registry.Lookup(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, ErrForbidden
	}
	return doc, nil
}

// keySegment は userID を1つのパス要素として使える形にします。
func keySegment(userID string) string {
	seg := url.PathEscape(userID)
	if seg == "." || seg == ".." {
		seg = strings.ReplaceAll(seg, ".", "%2E")
	}
	return seg
}

func cleanFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		return "document.pdf"
	}
	return name
}
