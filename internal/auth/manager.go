// Package auth はセッションベースのログインとCSRF保護を提供します。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/dpeshrijal/pdf-summarizer-backend/internal/config"
)

const (
	SessionCookieName    = "ps_session"
	sessionKeyUser       = "auth_user"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	CSRFHeader = "X-CSRF-Token"
)

// ContextUserKey はログイン済みユーザーIDを gin.Context に保存するキーです。
const ContextUserKey = "auth.user"

// Policy はセッションとログイン試行の制限です。
type Policy struct {
	MaxSessionLifetime time.Duration
	IdleTimeout        time.Duration
	LoginWindow        time.Duration
	LockDuration       time.Duration
	MaxLoginAttempts   int
}

// DefaultPolicy は既定の制限です。
var DefaultPolicy = Policy{
	MaxSessionLifetime: 12 * time.Hour,
	IdleTimeout:        30 * time.Minute,
	LoginWindow:        15 * time.Minute,
	LockDuration:       10 * time.Minute,
	MaxLoginAttempts:   5,
}

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(DefaultPolicy.MaxSessionLifetime.Seconds())
}

var errNoUsers = errors.New("APP_USERS が設定されていません")

// ユーザーが存在しない場合も bcrypt の比較時間を揃えるためのハッシュ
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), bcrypt.MinCost)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager はユーザーの資格情報とログイン試行の状態を保持します。
type Manager struct {
	users    map[string]string
	policy   Policy
	logger   zerolog.Logger
	now      func() time.Time
	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewManager は cfg.Users() のユーザーで認証マネージャーを作成します。
func NewManager(cfg *config.Config, logger zerolog.Logger) *Manager {
	return newManager(cfg.Users(), DefaultPolicy, logger)
}

func newManager(users map[string]string, policy Policy, logger zerolog.Logger) *Manager {
	return &Manager{
		users:    users,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

// authenticate は username と password の組を検証します。
func (m *Manager) authenticate(username, password string) (bool, error) {
	if len(m.users) == 0 {
		return false, errNoUsers
	}
	hash, ok := m.users[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// retryAfter はロック中であれば解除までの時間を返します。
func (m *Manager) retryAfter(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := m.now()
	if !now.Before(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

// recordFailure は失敗を記録し、ロックまでの残り回数を返します。
func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > m.policy.LoginWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= m.policy.MaxLoginAttempts {
		state.count = m.policy.MaxLoginAttempts
		state.lockedUntil = now.Add(m.policy.LockDuration)
		m.logger.Warn().Str("ip", ip).Msg("auth: login locked after repeated failures")
	}
	return m.policy.MaxLoginAttempts - state.count
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v any) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
