package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tradebridge/backend/internal/models"
)

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type mockUsers struct {
	mu      sync.Mutex
	byEmail map[string]*models.User
	byID    map[uuid.UUID]*models.User
}

func newMockUsers() *mockUsers {
	return &mockUsers{byEmail: map[string]*models.User{}, byID: map[uuid.UUID]*models.User{}}
}

func (m *mockUsers) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *mockUsers) CreateTx(_ context.Context, _ pgx.Tx, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[u.Email]; exists {
		return &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	}
	cp := *u
	m.byEmail[u.Email] = &cp
	m.byID[u.ID] = &cp
	return nil
}

func (m *mockUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

func (m *mockUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

type mockAccounts struct {
	mu      sync.Mutex
	created []uuid.UUID
}

func (m *mockAccounts) CreateTx(_ context.Context, _ pgx.Tx, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, userID)
	return nil
}

func TestRegisterAndLogin(t *testing.T) {
	users := newMockUsers()
	accounts := &mockAccounts{}
	svc := NewService(users, accounts, "test-secret", time.Hour)

	user, err := svc.Register(context.Background(), "jo@example.com", "hunter22", "Jo Baker", models.RoleTradesperson)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.PasswordHash == "hunter22" {
		t.Fatal("password stored in plaintext")
	}
	if len(accounts.created) != 1 || accounts.created[0] != user.ID {
		t.Fatalf("credit account not opened for tradesperson: %v", accounts.created)
	}

	token, err := svc.Login(context.Background(), "jo@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	id, role, err := svc.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id != user.ID || role != models.RoleTradesperson {
		t.Errorf("token claims = (%s, %s), want (%s, %s)", id, role, user.ID, models.RoleTradesperson)
	}
}

func TestRegisterCustomerHasNoCreditAccount(t *testing.T) {
	users := newMockUsers()
	accounts := &mockAccounts{}
	svc := NewService(users, accounts, "test-secret", time.Hour)

	if _, err := svc.Register(context.Background(), "sam@example.com", "pw123456", "Sam", models.RoleCustomer); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(accounts.created) != 0 {
		t.Errorf("customer should not get a credit account, got %v", accounts.created)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	users := newMockUsers()
	svc := NewService(users, &mockAccounts{}, "test-secret", time.Hour)

	if _, err := svc.Register(context.Background(), "dup@example.com", "pw123456", "A", models.RoleCustomer); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(context.Background(), "dup@example.com", "pw123456", "B", models.RoleCustomer); err != ErrDuplicateEmail {
		t.Fatalf("error = %v, want ErrDuplicateEmail", err)
	}
}

func TestRegisterRejectsAdminRole(t *testing.T) {
	svc := NewService(newMockUsers(), &mockAccounts{}, "test-secret", time.Hour)
	if _, err := svc.Register(context.Background(), "a@example.com", "pw123456", "A", models.RoleAdmin); err == nil {
		t.Fatal("expected error for admin self-registration")
	}
}

func TestLoginFailures(t *testing.T) {
	users := newMockUsers()
	svc := NewService(users, &mockAccounts{}, "test-secret", time.Hour)

	if _, err := svc.Login(context.Background(), "ghost@example.com", "pw"); err != ErrInvalidCredentials {
		t.Fatalf("unknown user: error = %v, want ErrInvalidCredentials", err)
	}

	if _, err := svc.Register(context.Background(), "jo@example.com", "rightpass", "Jo", models.RoleCustomer); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Login(context.Background(), "jo@example.com", "wrongpass"); err != ErrInvalidCredentials {
		t.Fatalf("bad password: error = %v, want ErrInvalidCredentials", err)
	}
}

func TestValidateTokenRejectsForgedSignature(t *testing.T) {
	users := newMockUsers()
	svc := NewService(users, &mockAccounts{}, "real-secret", time.Hour)
	other := NewService(users, &mockAccounts{}, "other-secret", time.Hour)

	if _, err := svc.Register(context.Background(), "jo@example.com", "pw123456", "Jo", models.RoleCustomer); err != nil {
		t.Fatalf("Register: %v", err)
	}
	forged, err := other.Login(context.Background(), "jo@example.com", "pw123456")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, _, err := svc.ValidateToken(context.Background(), forged); err == nil {
		t.Fatal("expected validation failure for token signed with a different secret")
	}
}
