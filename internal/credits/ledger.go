// Package credits はユーザーごとの生成クレジットを Redis で管理します。
package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	profileKeyPrefix = "profile:"
	creditsField     = "creditsRemaining"
)

// debitScript は残高が無ければ初期値で作成し、1以上なら1減らします。
// 戻り値は減算後の残高、残高不足なら -1 です。
var debitScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], ARGV[2])
if not v then
  redis.call('HSET', KEYS[1], ARGV[2], ARGV[1])
  v = ARGV[1]
end
local n = tonumber(v)
if n <= 0 then
  return -1
end
return redis.call('HINCRBY', KEYS[1], ARGV[2], -1)
`)

// RedisLedger はクレジット残高を profile:<userId> のハッシュに保持します。
type RedisLedger struct {
	rdb         *redis.Client
	freeCredits int
}

// NewRedisLedger は RedisLedger を作成します。freeCredits は初回参照時の残高です。
func NewRedisLedger(rdb *redis.Client, freeCredits int) (*RedisLedger, error) {
	if rdb == nil {
		return nil, errors.New("credits: redis client is nil")
	}
	if freeCredits < 0 {
		freeCredits = 0
	}
	return &RedisLedger{rdb: rdb, freeCredits: freeCredits}, nil
}

// CheckAndDebit は残高があれば1消費し、残りの残高を返します。残高が無ければ ok=false です。
func (l *RedisLedger) CheckAndDebit(ctx context.Context, userID string) (int, bool, error) {
	key, err := profileKey(userID)
	if err != nil {
		return 0, false, err
	}
	remaining, err := debitScript.Run(ctx, l.rdb, []string{key}, l.freeCredits, creditsField).Int()
	if err != nil {
		return 0, false, fmt.Errorf("credits: debit %s: %w", userID, err)
	}
	if remaining < 0 {
		return 0, false, nil
	}
	return remaining, true, nil
}

// Refund は消費済みのクレジットを1戻します。
func (l *RedisLedger) Refund(ctx context.Context, userID string) error {
	key, err := profileKey(userID)
	if err != nil {
		return err
	}
	if err := l.rdb.HIncrBy(ctx, key, creditsField, 1).Err(); err != nil {
		return fmt.Errorf("credits: refund %s: %w", userID, err)
	}
	return nil
}

// Balance は現在の残高を返します。まだ記録がないユーザーは無料分を返します。
func (l *RedisLedger) Balance(ctx context.Context, userID string) (int, error) {
	key, err := profileKey(userID)
	if err != nil {
		return 0, err
	}
	n, err := l.rdb.HGet(ctx, key, creditsField).Int()
	if errors.Is(err, redis.Nil) {
		return l.freeCredits, nil
	}
	if err != nil {
		return 0, fmt.Errorf("credits: balance %s: %w", userID, err)
	}
	return n, nil
}

func profileKey(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("credits: userID is required")
	}
	return profileKeyPrefix + userID, nil
}
