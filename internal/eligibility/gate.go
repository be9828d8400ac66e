// Package eligibility はジョブ作成前の所有権とクレジットの確認を行います。
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotOwned はソースドキュメントが存在しないか、他のユーザーの所有である場合に返されます。
	ErrNotOwned = errors.New("eligibility: source document not owned by user")
	// ErrQuotaExhausted は生成クレジットが残っていない場合に返されます。
	ErrQuotaExhausted = errors.New("eligibility: generation quota exhausted")
)

// OwnershipChecker は fileId の所有者を確認します。
type OwnershipChecker interface {
	CheckOwnership(ctx context.Context, userID, fileID string) (bool, error)
}

// CreditLedger はクレジットの消費と返却を行います。
type CreditLedger interface {
	CheckAndDebit(ctx context.Context, userID string) (remaining int, ok bool, err error)
	Refund(ctx context.Context, userID string) error
}

// Token は Authorize が成功したことを示します。Release で消費したクレジットを戻せます。
type Token struct {
	UserID           string
	FileID           string
	RemainingCredits int
	IssuedAt         time.Time
}

// Gate は所有権を確認した後にクレジットを1消費します。
type Gate struct {
	owners  OwnershipChecker
	credits CreditLedger
	now     func() time.Time
}

// NewGate は Gate を作成します。
func NewGate(owners OwnershipChecker, credits CreditLedger) (*Gate, error) {
	if owners == nil {
		return nil, errors.New("eligibility: ownership checker is nil")
	}
	if credits == nil {
		return nil, errors.New("eligibility: credit ledger is nil")
	}
	return &Gate{owners: owners, credits: credits, now: time.Now}, nil
}

// Authorize は userId が fileId からジョブを作成できるかを確認します。
// 所有権の確認に失敗した場合、クレジットは消費されません。
func (g *Gate) Authorize(ctx context.Context, userID, fileID string) (*Token, error) {
	userID = strings.TrimSpace(userID)
	fileID = strings.TrimSpace(fileID)
	if userID == "" || fileID == "" {
		return nil, ErrNotOwned
	}

	owned, err := g.owners.CheckOwnership(ctx, userID, fileID)
	if err != nil {
		return nil, fmt.Errorf("eligibility: check ownership: %w", err)
	}
	if !owned {
		return nil, ErrNotOwned
	}

	remaining, ok, err := g.credits.CheckAndDebit(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("eligibility: debit credit: %w", err)
	}
	if !ok {
		return nil, ErrQuotaExhausted
	}

	return &Token{
		UserID:           userID,
		FileID:           fileID,
		RemainingCredits: remaining,
		IssuedAt:         g.now().UTC(),
	}, nil
}

// Release はトークンで消費したクレジットを返却します。
func (g *Gate) Release(ctx context.Context, token *Token) error {
	if token == nil {
		return nil
	}
	return g.credits.Refund(ctx, token.UserID)
}
