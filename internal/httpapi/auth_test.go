package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"stockmanager/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func (s *userStoreStub) UpdateUserRole(_ context.Context, username string, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Role = role
	s.users[username] = user
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"boss": {
				Username:  "boss",
				Password:  "boss123",
				Role:      domain.RoleBoss,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	_, err := manager.Login(domain.LoginRequest{
		Username: "boss",
		Password: "boss123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "boss123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestCreateUserStoresPasswordHashAndRole(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}

	manager := NewAuthManager("test-secret", time.Hour, store)
	user, err := manager.CreateUser(domain.UserCreateRequest{
		Username: "newstaff",
		Password: "pass1234",
		Role:     domain.RoleStaff,
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if user.Username != "newstaff" || user.Role != domain.RoleStaff {
		t.Fatalf("unexpected user %+v", user)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == "newstaff" {
			found = &users[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected user to be saved")
	}
	if found.Password == "pass1234" {
		t.Fatalf("expected password to be hashed")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}

	_, err = manager.Login(domain.LoginRequest{
		Username: "newstaff",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("login with hashed password failed: %v", err)
	}
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &userStoreStub{})

	_, err := manager.CreateUser(domain.UserCreateRequest{
		Username: "someone",
		Password: "pass1234",
		Role:     "superadmin",
	})
	if err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestUpdateUserRole(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, store)

	if _, err := manager.CreateUser(domain.UserCreateRequest{
		Username: "promoteme",
		Password: "pass1234",
		Role:     domain.RoleStaff,
	}); err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	user, err := manager.UpdateUserRole("promoteme", domain.RoleManager)
	if err != nil {
		t.Fatalf("update role failed: %v", err)
	}
	if user.Role != domain.RoleManager {
		t.Fatalf("expected manager role, got %s", user.Role)
	}

	actor, err := func() (domain.Actor, error) {
		resp, err := manager.Login(domain.LoginRequest{Username: "promoteme", Password: "pass1234"})
		if err != nil {
			return domain.Actor{}, err
		}
		return manager.ParseToken(resp.AccessToken)
	}()
	if err != nil {
		t.Fatalf("login after promotion failed: %v", err)
	}
	if actor.Role != domain.RoleManager {
		t.Fatalf("token carries stale role %s", actor.Role)
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"boss": {Username: "boss", Password: "boss123", Role: domain.RoleBoss, Active: true, CreatedAt: time.Now().UTC()},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, store)

	resp, err := manager.Login(domain.LoginRequest{Username: "boss", Password: "boss123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "boss" || actor.Role != domain.RoleBoss {
		t.Fatalf("unexpected actor %+v", actor)
	}

	if _, err := manager.ParseToken(resp.AccessToken + "tampered"); err == nil {
		t.Fatalf("expected tampered token to fail")
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"gone": {Username: "gone", Password: "pass1234", Role: domain.RoleStaff, Active: false, CreatedAt: time.Now().UTC()},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, store)

	_, err := manager.Login(domain.LoginRequest{Username: "gone", Password: "pass1234"})
	if err == nil {
		t.Fatalf("expected inactive account login to fail")
	}
}
