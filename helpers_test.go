package identio

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tamrel/identio/password"
	"github.com/tamrel/identio/user"
)

// memStore is an in-memory user.Store for tests.
type memStore struct {
	mu         sync.Mutex
	users      map[string]*user.User
	byEmail    map[string]string
	byUsername map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		users:      map[string]*user.User{},
		byEmail:    map[string]string{},
		byUsername: map[string]string{},
	}
}

func cloneUser(u *user.User) *user.User {
	copied := *u
	if u.DeletedAt != nil {
		at := *u.DeletedAt
		copied.DeletedAt = &at
	}
	if u.LastLoginAt != nil {
		at := *u.LastLoginAt
		copied.LastLoginAt = &at
	}
	return &copied
}

func (m *memStore) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, user.ErrNotFound
	}
	u := m.users[id]
	if u.SoftDeleted() {
		return nil, user.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *memStore) FindByUsername(ctx context.Context, username string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byUsername[strings.ToLower(username)]
	if !ok {
		return nil, user.ErrNotFound
	}
	u := m.users[id]
	if u.SoftDeleted() {
		return nil, user.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *memStore) FindByID(ctx context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok || u.SoftDeleted() {
		return nil, user.ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *memStore) FindByExternalID(ctx context.Context, provider user.Provider, externalID string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Provider == provider && u.ExternalID == externalID && externalID != "" && !u.SoftDeleted() {
			return cloneUser(u), nil
		}
	}
	return nil, user.ErrNotFound
}

func (m *memStore) FindByEmailIncludeDeleted(ctx context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, user.ErrNotFound
	}
	return cloneUser(m.users[id]), nil
}

func (m *memStore) Insert(ctx context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUsername[strings.ToLower(u.Username)]; exists {
		return &user.DuplicateError{Field: "username"}
	}
	if _, exists := m.byEmail[strings.ToLower(u.Email)]; exists {
		return &user.DuplicateError{Field: "email"}
	}
	for _, existing := range m.users {
		if u.ExternalID != "" && existing.Provider == u.Provider && existing.ExternalID == u.ExternalID {
			return &user.DuplicateError{Field: "external_id"}
		}
	}

	m.users[u.ID] = cloneUser(u)
	m.byEmail[strings.ToLower(u.Email)] = u.ID
	m.byUsername[strings.ToLower(u.Username)] = u.ID
	return nil
}

func (m *memStore) UpdateFields(ctx context.Context, id string, f user.Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return user.ErrNotFound
	}

	if f.PasswordHash != nil {
		u.PasswordHash = *f.PasswordHash
	}
	if f.Verified != nil {
		u.Verified = *f.Verified
	}
	if f.TOTPSecret != nil {
		u.TOTPSecret = *f.TOTPSecret
	}
	if f.TOTPEnabled != nil {
		u.TOTPEnabled = *f.TOTPEnabled
	}
	if f.Status != nil {
		u.Status = *f.Status
	}
	if f.LastLoginAt != nil {
		at := *f.LastLoginAt
		u.LastLoginAt = &at
	}
	if f.SetDeletedAt {
		u.DeletedAt = f.DeletedAt
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) get(id string) *user.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneUser(m.users[id])
}

// recordingEmailSender captures outgoing template invocations.
type recordingEmailSender struct {
	mu   sync.Mutex
	sent []sentEmail
}

type sentEmail struct {
	To       string
	Template string
	Params   map[string]string
}

func (s *recordingEmailSender) SendTemplated(ctx context.Context, to, templateName, language string, params map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentEmail{To: to, Template: templateName, Params: params})
	return nil
}

func (s *recordingEmailSender) last(t *testing.T) sentEmail {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("expected at least one email to be sent")
	}
	return s.sent[len(s.sent)-1]
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Audit.Enabled = false
	return cfg
}

type testCore struct {
	core  *Core
	store *memStore
	redis *miniredis.Miniredis
	mail  *recordingEmailSender
}

func newTestCore(t *testing.T, mutate ...func(*Config)) *testCore {
	t.Helper()

	mr, client := newTestRedis(t)
	store := newMemStore()
	mail := &recordingEmailSender{}

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	core, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(store).
		WithEmailSender(mail).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(core.Close)

	return &testCore{core: core, store: store, redis: mr, mail: mail}
}

// register creates a verified, active account ready for login.
func (tc *testCore) register(t *testing.T, username, email, pass string) *user.User {
	t.Helper()

	u, err := tc.core.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: pass,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	verified := true
	active := user.StatusActive
	if err := tc.store.UpdateFields(context.Background(), u.ID, user.Fields{
		Verified: &verified,
		Status:   &active,
	}); err != nil {
		t.Fatalf("mark verified failed: %v", err)
	}
	return u
}

func (tc *testCore) login(t *testing.T, email, pass string) *LoginResult {
	t.Helper()

	result, err := tc.core.Login(context.Background(), email, pass, ClientMeta{IP: "10.0.0.1", UserAgent: "test"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return result
}
