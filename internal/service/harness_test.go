package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/sendme/internal/cache/memory"
	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/lock"
	"github.com/prn-tf/sendme/internal/repository"
	"github.com/prn-tf/sendme/internal/repository/sqlite"
	memstore "github.com/prn-tf/sendme/internal/storage/memory"
)

// testEnv wires the services against a real SQLite database and an
// in-memory blob store.
type testEnv struct {
	repos    *repository.Repositories
	store    *memstore.Backend
	cache    *memory.Cache
	locker   *lock.MemoryLocker
	events   *recordingPublisher
	notifier *capturingNotifier
	ledger   *CapacityLedger
	messages *MessageService
	auth     *AuthService
	tokens   *TokenManager
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, MessageConfig{UploadTimeout: 5 * time.Second})
}

func newTestEnvWithConfig(t *testing.T, cfg MessageConfig) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(t.TempDir()+"/sendme.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	env := &testEnv{
		repos:    sqlite.NewRepositories(db),
		store:    memstore.New(),
		cache:    memory.NewCache(),
		locker:   lock.NewMemoryLocker(),
		events:   &recordingPublisher{},
		notifier: &capturingNotifier{codes: make(map[string]string)},
		tokens:   NewTokenManager("test-secret-test-secret-test-secret", time.Minute, time.Hour),
	}
	t.Cleanup(env.cache.Stop)
	t.Cleanup(env.locker.Stop)

	env.ledger = NewCapacityLedger(env.repos.User, env.repos.Tx, nil, logger)
	env.messages = NewMessageService(env.repos.Message, env.repos.Tx, env.ledger, env.store, env.events, nil, logger, cfg)
	env.auth = NewAuthService(env.repos.User, env.repos.RefreshToken, env.repos.Tx, env.cache, env.tokens,
		env.notifier, logger, AuthConfig{BcryptCost: bcrypt.MinCost})
	return env
}

// createUser inserts a verified user with the given quota.
func (e *testEnv) createUser(t *testing.T, username string, maxQuota int64) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	user := domain.NewUser(username, string(hash), maxQuota)
	user.IsVerified = true
	require.NoError(t, e.repos.User.Create(context.Background(), user))
	return user
}

func (e *testEnv) used(t *testing.T, userID int64) int64 {
	t.Helper()
	used, err := e.repos.User.GetUsedCapacity(context.Background(), userID)
	require.NoError(t, err)
	return used
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []MessageEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ int64, event MessageEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []MessageEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]MessageEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type capturingNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func (n *capturingNotifier) SendOTP(_ context.Context, username, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[username] = code
	return nil
}

func (n *capturingNotifier) code(username string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[username]
}
