package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"inkwell/api/internal/store"

	"golang.org/x/crypto/bcrypt"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string // email -> userID
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
	}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) VerifyUserEmail(_ context.Context, token string) error {
	for id, user := range m.users {
		if user.VerificationToken != token {
			continue
		}
		if user.VerificationExpiresAt != nil && user.VerificationExpiresAt.Before(time.Now()) {
			return errors.New("token expired")
		}
		user.IsEmailVerified = true
		user.VerificationToken = ""
		m.users[id] = user
		return nil
	}
	return errors.New("token not found")
}

func TestSignUpCreatesFreePlanUser(t *testing.T) {
	userStore := newMockUserStore()
	svc := NewService(userStore)

	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "avery@example.com",
		Password:    "correct-horse",
		DisplayName: "Avery",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if resp.UserID == "" || resp.VerificationToken == "" {
		t.Fatalf("incomplete response: %+v", resp)
	}
	if !resp.RequiresEmailVerify {
		t.Error("new accounts must require verification")
	}

	user := userStore.users[resp.UserID]
	if user.Plan != "free" {
		t.Errorf("plan = %q, want free", user.Plan)
	}
	if user.PasswordHash == "correct-horse" {
		t.Error("password stored in plain text")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct-horse")); err != nil {
		t.Errorf("stored hash does not match password: %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	cases := []SignUpRequest{
		{Email: "", Password: "longenough", DisplayName: "A"},
		{Email: "not-an-email", Password: "longenough", DisplayName: "A"},
		{Email: "a@example.com", Password: "short", DisplayName: "A"},
		{Email: "a@example.com", Password: "longenough", DisplayName: ""},
	}
	for _, req := range cases {
		if _, err := svc.SignUp(ctx, req); err == nil {
			t.Errorf("SignUp(%+v) expected validation error", req)
		}
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	svc := NewService(newMockUserStore())
	ctx := context.Background()

	req := SignUpRequest{Email: "avery@example.com", Password: "correct-horse", DisplayName: "Avery"}
	if _, err := svc.SignUp(ctx, req); err != nil {
		t.Fatalf("first SignUp() error = %v", err)
	}
	if _, err := svc.SignUp(ctx, req); err == nil {
		t.Fatal("expected error for duplicate email")
	}
}

func TestSignInFlow(t *testing.T) {
	userStore := newMockUserStore()
	svc := NewService(userStore)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "avery@example.com",
		Password:    "correct-horse",
		DisplayName: "Avery",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	// Unverified accounts sign in but are flagged.
	signIn, err := svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if !signIn.RequiresVerify {
		t.Error("unverified account should require verification")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	signIn, err = svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn() after verify error = %v", err)
	}
	if signIn.RequiresVerify {
		t.Error("verified account still flagged")
	}
	if signIn.User.Email != "avery@example.com" {
		t.Errorf("unexpected user: %+v", signIn.User)
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	userStore := newMockUserStore()
	svc := NewService(userStore)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "avery@example.com",
		Password:    "correct-horse",
		DisplayName: "Avery",
	}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "wrong"}); err == nil {
		t.Error("expected error for wrong password")
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@example.com", Password: "correct-horse"}); err == nil {
		t.Error("expected error for unknown email")
	}
}

func TestVerifyEmailRejectsUnknownToken(t *testing.T) {
	svc := NewService(newMockUserStore())
	if err := svc.VerifyEmail(context.Background(), "bogus"); err == nil {
		t.Fatal("expected error for unknown token")
	}
	if err := svc.VerifyEmail(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}
