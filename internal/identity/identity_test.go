package identity

import (
	"context"
	"errors"
	"flag"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
)

func init() {
	flag.Set("logtostderr", "true")
	flag.Set("v", "0")
}

type mapUsers map[string]string

func (m mapUsers) UserIDForExternal(ctx context.Context, externalID string) (string, error) {
	userID, ok := m[externalID]
	if !ok {
		return "", ErrUnknownUser
	}
	return userID, nil
}

func sign(t *testing.T, method gojwt.SigningMethod, key any, claims gojwt.MapClaims) string {
	token, err := gojwt.NewWithClaims(method, claims).SignedString(key)
	assert.Equal(t, err, nil)
	return token
}

func TestJWTResolver(t *testing.T) {
	secret := []byte("s3cret")
	resolver := NewJWTResolver(secret, mapUsers{"user_2abc": "u1"})
	ctx := context.Background()
	exp := time.Now().Add(time.Hour).Unix()

	userID, err := resolver.Resolve(ctx, sign(t, gojwt.SigningMethodHS256, secret, gojwt.MapClaims{
		"sub": "user_2abc",
		"exp": exp,
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, userID, "u1")

	_, err = resolver.Resolve(ctx, sign(t, gojwt.SigningMethodHS256, secret, gojwt.MapClaims{
		"sub": "user_other",
		"exp": exp,
	}))
	assert.Equal(t, errors.Is(err, ErrUnknownUser), true)

	_, err = resolver.Resolve(ctx, sign(t, gojwt.SigningMethodHS256, []byte("wrong"), gojwt.MapClaims{
		"sub": "user_2abc",
		"exp": exp,
	}))
	assert.Equal(t, errors.Is(err, ErrInvalidToken), true)

	_, err = resolver.Resolve(ctx, sign(t, gojwt.SigningMethodHS256, secret, gojwt.MapClaims{
		"sub": "user_2abc",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}))
	assert.Equal(t, errors.Is(err, ErrInvalidToken), true)

	_, err = resolver.Resolve(ctx, sign(t, gojwt.SigningMethodHS256, secret, gojwt.MapClaims{
		"exp": exp,
	}))
	assert.Equal(t, errors.Is(err, ErrInvalidToken), true)

	_, err = resolver.Resolve(ctx, "")
	assert.Equal(t, errors.Is(err, ErrInvalidToken), true)
}

func TestJWTResolverWithoutUserStore(t *testing.T) {
	secret := []byte("s3cret")
	resolver := NewJWTResolver(secret, nil)
	userID, err := resolver.Resolve(context.Background(), sign(t, gojwt.SigningMethodHS256, secret, gojwt.MapClaims{
		"sub": "u9",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	assert.Equal(t, err, nil)
	assert.Equal(t, userID, "u9")
}

func TestNewResolver(t *testing.T) {
	userID, err := NewResolver("", nil).Resolve(context.Background(), "anything")
	assert.Equal(t, err, nil)
	assert.Equal(t, userID, "")

	_, ok := NewResolver("k", nil).(*JWTResolver)
	assert.Equal(t, ok, true)
}
