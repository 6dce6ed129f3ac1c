package authpw

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"memoria/api/internal/store"
)

type fakeUsers struct {
	byUsername map[string]store.User
	created    []store.User
	updated    map[string]string
	mustChange map[string]bool
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		byUsername: map[string]store.User{},
		updated:    map[string]string{},
		mustChange: map[string]bool{},
	}
}

func (f *fakeUsers) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	user, ok := f.byUsername[username]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, userID string) (store.User, error) {
	for _, user := range f.byUsername {
		if user.ID == userID {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeUsers) CreateUser(_ context.Context, user store.User) error {
	if _, exists := f.byUsername[user.Username]; exists {
		return nil
	}
	f.byUsername[user.Username] = user
	f.created = append(f.created, user)
	return nil
}

func (f *fakeUsers) UpdateUserPassword(_ context.Context, userID, hash string, mustChange bool) error {
	f.updated[userID] = hash
	f.mustChange[userID] = mustChange
	for name, user := range f.byUsername {
		if user.ID == userID {
			user.PasswordHash = hash
			user.MustChangePassword = mustChange
			f.byUsername[name] = user
		}
	}
	return nil
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func TestLogin(t *testing.T) {
	users := newFakeUsers()
	users.byUsername["elena"] = store.User{ID: "u-1", Username: "elena", PasswordHash: hashOf(t, "correct horse")}
	svc := NewService(users)

	user, err := svc.Login(context.Background(), "elena", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID != "u-1" {
		t.Fatalf("user = %+v", user)
	}

	if _, err := svc.Login(context.Background(), "elena", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: want ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: want ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty input: want ErrInvalidCredentials, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	users := newFakeUsers()
	users.byUsername["elena"] = store.User{ID: "u-1", Username: "elena", PasswordHash: hashOf(t, "old password"), MustChangePassword: true}
	svc := NewService(users)

	if err := svc.ChangePassword(context.Background(), "u-1", "old password", "new password"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if users.mustChange["u-1"] {
		t.Fatal("must-change flag should clear after a rotation")
	}
	if _, err := svc.Login(context.Background(), "elena", "new password"); err != nil {
		t.Fatalf("login with rotated password: %v", err)
	}

	if err := svc.ChangePassword(context.Background(), "u-1", "wrong", "another password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current password: want ErrInvalidCredentials, got %v", err)
	}
	if err := svc.ChangePassword(context.Background(), "u-1", "new password", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("short password: want ErrWeakPassword, got %v", err)
	}
}

func TestEnsureDefaultAdmin(t *testing.T) {
	users := newFakeUsers()
	svc := NewService(users)

	if err := svc.EnsureDefaultAdmin(context.Background(), "bootstrap-password"); err != nil {
		t.Fatalf("EnsureDefaultAdmin: %v", err)
	}
	if len(users.created) != 1 {
		t.Fatalf("created %d accounts", len(users.created))
	}
	admin := users.created[0]
	if admin.Role != "admin" || admin.Username != "admin" {
		t.Fatalf("admin = %+v", admin)
	}
	if len(admin.Countries) != 1 || admin.Countries[0] != "all" {
		t.Fatalf("countries = %v", admin.Countries)
	}
	if !admin.Permissions.CanCreate || !admin.Permissions.CanEdit || !admin.Permissions.CanDelete {
		t.Fatalf("permissions = %+v", admin.Permissions)
	}
	if admin.Permissions.RequiresApproval {
		t.Fatal("default admin must not require approval")
	}
	if !admin.MustChangePassword {
		t.Fatal("default admin must be forced to rotate the bootstrap password")
	}

	// A second boot must not create another account.
	if err := svc.EnsureDefaultAdmin(context.Background(), "different-password"); err != nil {
		t.Fatalf("second EnsureDefaultAdmin: %v", err)
	}
	if len(users.created) != 1 {
		t.Fatalf("bootstrap is not idempotent: %d accounts", len(users.created))
	}
	if _, err := svc.Login(context.Background(), "admin", "bootstrap-password"); err != nil {
		t.Fatalf("original bootstrap password stopped working: %v", err)
	}
}

func TestEnsureDefaultAdminGeneratesPassword(t *testing.T) {
	users := newFakeUsers()
	svc := NewService(users)

	if err := svc.EnsureDefaultAdmin(context.Background(), ""); err != nil {
		t.Fatalf("EnsureDefaultAdmin: %v", err)
	}
	if len(users.created) != 1 {
		t.Fatalf("created %d accounts", len(users.created))
	}
	if users.created[0].PasswordHash == "" {
		t.Fatal("generated password was not hashed and stored")
	}
}
