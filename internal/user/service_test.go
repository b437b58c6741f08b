package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fakeRepo backs the service in tests; a non-nil err makes every call fail
// the way an unreachable database would.
type fakeRepo struct {
	users map[string]*User
	err   error
}

func (f *fakeRepo) CreateUser(_ context.Context, u *User) (*User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, exists := f.users[u.Username]; exists {
		return nil, ErrDuplicateUsername
	}
	f.users[u.Username] = u
	return u, nil
}

func (f *fakeRepo) GetUserByUsername(_ context.Context, username string) (*User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeRepo) SearchUsers(_ context.Context, _ string) ([]User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

func repoWithUser(t *testing.T, username, password string) *fakeRepo {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &fakeRepo{users: map[string]*User{
		username: {ID: "u-123", Username: username, Password: string(hash)},
	}}
}

func Test_Token_Round_Trip(t *testing.T) {
	req := require.New(t)
	s := NewService(nil, "test-secret")

	token, err := s.issueToken(&User{ID: "u-123", Username: "alice"})
	req.NoError(err)

	id, username, err := s.ValidateToken(token)
	req.NoError(err)
	req.Equal("u-123", id)
	req.Equal("alice", username)
}

func Test_Token_Rejects_Wrong_Secret(t *testing.T) {
	req := require.New(t)
	issuer := NewService(nil, "secret-a")
	verifier := NewService(nil, "secret-b")

	token, err := issuer.issueToken(&User{ID: "u-123", Username: "alice"})
	req.NoError(err)

	_, _, err = verifier.ValidateToken(token)
	req.Error(err)
}

func Test_Token_Rejects_Garbage(t *testing.T) {
	s := NewService(nil, "test-secret")
	_, _, err := s.ValidateToken("not-a-token")
	require.Error(t, err)
}

func Test_Login_Wrong_Password_Is_Invalid_Credentials(t *testing.T) {
	req := require.New(t)
	s := NewService(repoWithUser(t, "alice", "right"), "test-secret")

	_, err := s.Login(context.Background(), &RegisterRequest{Username: "alice", Password: "wrong"})
	req.ErrorIs(err, ErrInvalidCredentials)
}

func Test_Login_Unknown_User_Is_Invalid_Credentials(t *testing.T) {
	req := require.New(t)
	s := NewService(&fakeRepo{users: map[string]*User{}}, "test-secret")

	_, err := s.Login(context.Background(), &RegisterRequest{Username: "nobody", Password: "pw"})
	req.ErrorIs(err, ErrInvalidCredentials)
}

func Test_Login_Storage_Failure_Is_Not_Invalid_Credentials(t *testing.T) {
	req := require.New(t)
	s := NewService(&fakeRepo{err: storageErr("get user", context.DeadlineExceeded)}, "test-secret")

	_, err := s.Login(context.Background(), &RegisterRequest{Username: "alice", Password: "pw"})
	req.ErrorIs(err, ErrStorageUnavailable)
	req.NotErrorIs(err, ErrInvalidCredentials)
}
