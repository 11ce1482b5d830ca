package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	val   string
	err   error
	calls int
	names []string
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.calls++
	f.names = append(f.names, name)
	return f.val, f.err
}

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func validClaims(id string) jwt.MapClaims {
	return jwt.MapClaims{"id": id, "exp": time.Now().Add(time.Hour).Unix()}
}

func TestNewVerifier_Validation(t *testing.T) {
	_, err := NewVerifier(nil, "/shikkha")
	require.Error(t, err)

	_, err = NewVerifier(&fakeGetter{}, " / ")
	require.Error(t, err)

	_, err = NewVerifier(nil, "", WithStaticSecret("dev"))
	require.NoError(t, err)
}

func TestAuthenticate_LoadsSecretOnce(t *testing.T) {
	g := &fakeGetter{val: `{"secret":"s3cr3t"}`}
	v, err := NewVerifier(g, "/shikkha/")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		id, err := v.Authenticate(context.Background(), sign(t, "s3cr3t", validClaims("user-1")))
		require.NoError(t, err)
		require.Equal(t, "user-1", id)
	}
	require.Equal(t, 1, g.calls)
	require.Equal(t, []string{"/shikkha/jwt-secret"}, g.names)
}

func TestAuthenticate_SecretLoadFailureIsRetried(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	v, err := NewVerifier(g, "/shikkha")
	require.NoError(t, err)

	token := sign(t, "s3cr3t", validClaims("user-1"))
	_, err = v.Authenticate(context.Background(), token)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidToken)

	g.err = nil
	g.val = `{"secret":"s3cr3t"}`
	id, err := v.Authenticate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, "user-1", id)
	require.Equal(t, 2, g.calls)
}

func TestAuthenticate_SubClaimFallback(t *testing.T) {
	v, err := NewVerifier(nil, "", WithStaticSecret("dev"))
	require.NoError(t, err)
	id, err := v.Authenticate(context.Background(), sign(t, "dev", jwt.MapClaims{"sub": "user-2"}))
	require.NoError(t, err)
	require.Equal(t, "user-2", id)
}

func TestAuthenticate_Rejects(t *testing.T) {
	v, err := NewVerifier(nil, "", WithStaticSecret("dev"))
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims("user-1")).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong secret", token: sign(t, "other", validClaims("user-1"))},
		{name: "expired", token: sign(t, "dev", jwt.MapClaims{"id": "user-1", "exp": time.Now().Add(-time.Minute).Unix()})},
		{name: "no id", token: sign(t, "dev", jwt.MapClaims{"role": "student"})},
		{name: "numeric id", token: sign(t, "dev", jwt.MapClaims{"id": 42})},
		{name: "alg none", token: none},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Authenticate(context.Background(), tc.token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"Bearer  ", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%q", tc.header), func(t *testing.T) {
			token, ok := BearerToken(tc.header)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.token, token)
		})
	}
}
