package authkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/authkit-dev/authkit/secret"
)

// testClock is a mutable time source handed to the builder so tests can
// cross expiry boundaries without sleeping.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mockDirectory struct {
	mu       sync.Mutex
	accounts map[string]*Account
	nextID   int

	createErr         error
	updatePasswordErr error
	lastLoginErr      error

	getByEmailCalls     int
	getByIDCalls        int
	createCalls         int
	updatePasswordCalls int
	setMustChangeCalls  int
	lastLoginCalls      int
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{accounts: make(map[string]*Account)}
}

func (d *mockDirectory) project(a *Account, includeSecrets bool) Account {
	out := *a
	if !includeSecrets {
		out.PasswordHash = ""
	}
	return out
}

func (d *mockDirectory) GetByEmail(_ context.Context, email string, includeSecrets bool) (Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.getByEmailCalls++
	for _, a := range d.accounts {
		if strings.EqualFold(a.Email, email) {
			return d.project(a, includeSecrets), nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (d *mockDirectory) GetByID(_ context.Context, accountID string, includeSecrets bool) (Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.getByIDCalls++
	a, ok := d.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return d.project(a, includeSecrets), nil
}

func (d *mockDirectory) Create(_ context.Context, input NewAccount) (Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.createCalls++
	if d.createErr != nil {
		return Account{}, d.createErr
	}
	for _, a := range d.accounts {
		if strings.EqualFold(a.Email, input.Email) {
			return Account{}, ErrEmailExists
		}
	}
	d.nextID++
	account := &Account{
		ID:                 fmt.Sprintf("acct-%d", d.nextID),
		Email:              input.Email,
		Name:               input.Name,
		Role:               input.Role,
		PasswordHash:       input.PasswordHash,
		Active:             input.Active,
		MustChangePassword: input.MustChangePassword,
	}
	d.accounts[account.ID] = account
	return d.project(account, true), nil
}

func (d *mockDirectory) UpdatePasswordHash(_ context.Context, accountID, passwordHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updatePasswordCalls++
	if d.updatePasswordErr != nil {
		return d.updatePasswordErr
	}
	a, ok := d.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.PasswordHash = passwordHash
	return nil
}

func (d *mockDirectory) SetMustChangePassword(_ context.Context, accountID string, must bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setMustChangeCalls++
	a, ok := d.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.MustChangePassword = must
	return nil
}

func (d *mockDirectory) UpdateLastLogin(_ context.Context, accountID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastLoginCalls++
	if d.lastLoginErr != nil {
		return d.lastLoginErr
	}
	a, ok := d.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.LastLoginAt = at
	return nil
}

func (d *mockDirectory) get(t *testing.T, accountID string) Account {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[accountID]
	if !ok {
		t.Fatalf("account %s not in directory", accountID)
	}
	return *a
}

func (d *mockDirectory) setActive(t *testing.T, accountID string, active bool) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[accountID]
	if !ok {
		t.Fatalf("account %s not in directory", accountID)
	}
	a.Active = active
}

type sentMail struct {
	email    string
	name     string
	value    string
	issuedBy string
}

type mockNotifier struct {
	mu      sync.Mutex
	otps    []sentMail
	resets  []sentMail
	temps   []sentMail
	changed []string

	otpErr     error
	resetErr   error
	changedErr error
	tempErr    error
}

func (n *mockNotifier) SendOTP(_ context.Context, email, name, code string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.otpErr != nil {
		return n.otpErr
	}
	n.otps = append(n.otps, sentMail{email: email, name: name, value: code})
	return nil
}

func (n *mockNotifier) SendPasswordReset(_ context.Context, email, name, token string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.resetErr != nil {
		return n.resetErr
	}
	n.resets = append(n.resets, sentMail{email: email, name: name, value: token})
	return nil
}

func (n *mockNotifier) SendPasswordChanged(_ context.Context, email, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.changedErr != nil {
		return n.changedErr
	}
	n.changed = append(n.changed, email)
	return nil
}

func (n *mockNotifier) SendTemporaryPassword(_ context.Context, email, name, password, issuedBy string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tempErr != nil {
		return n.tempErr
	}
	n.temps = append(n.temps, sentMail{email: email, name: name, value: password, issuedBy: issuedBy})
	return nil
}

func (n *mockNotifier) lastOTP(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.otps) == 0 {
		t.Fatal("no one-time code was sent")
	}
	return n.otps[len(n.otps)-1]
}

func (n *mockNotifier) lastReset(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.resets) == 0 {
		t.Fatal("no reset token was sent")
	}
	return n.resets[len(n.resets)-1]
}

func (n *mockNotifier) lastTemp(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.temps) == 0 {
		t.Fatal("no temporary password was sent")
	}
	return n.temps[len(n.temps)-1]
}

func (n *mockNotifier) otpCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.otps)
}

func (n *mockNotifier) resetCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.resets)
}

// testCost keeps argon2 cheap so flow tests stay fast.
func testCost() secret.Cost {
	return secret.Cost{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessKey = []byte(strings.Repeat("a", 32))
	cfg.JWT.RefreshKey = []byte(strings.Repeat("b", 32))
	cfg.Hasher = testCost()
	return cfg
}

func newTestEngine(t *testing.T) (*Engine, *mockDirectory, *mockNotifier, *testClock) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	dir := newMockDirectory()
	notifier := &mockNotifier{}
	clock := newTestClock()

	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(client).
		WithDirectory(dir).
		WithNotifier(notifier).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, dir, notifier, clock
}

// seedAccount writes an account straight into the mock directory with a
// real hash, bypassing the engine's creation flows.
func seedAccount(t *testing.T, e *Engine, d *mockDirectory, email, password string) Account {
	t.Helper()

	hash, err := e.hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	account, err := d.Create(context.Background(), NewAccount{
		Email:        normalizeEmail(email),
		Name:         "Seeded Account",
		Role:         "user",
		PasswordHash: hash,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return account
}
