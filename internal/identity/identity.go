package identity

import (
	"context"
	"errors"
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
)

var ErrInvalidToken = errors.New("invalid token")
var ErrUnknownUser = errors.New("unknown user")

// Resolver maps a bearer token to an internal user id. A resolver that does
// not authenticate returns ("", nil) and the caller trusts the user id the
// client names itself.
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// UserStore maps an external identity (the token subject) to the internal
// user id used for board ownership and membership.
type UserStore interface {
	UserIDForExternal(ctx context.Context, externalID string) (string, error)
}

// Anonymous resolves nothing.
type Anonymous struct{}

func (Anonymous) Resolve(ctx context.Context, token string) (string, error) {
	return "", nil
}

// JWTResolver verifies HS256 tokens signed with a shared secret.
type JWTResolver struct {
	secret []byte
	users  UserStore
	parser *gojwt.Parser
}

// users may be nil, in which case the subject is the user id.
func NewJWTResolver(secret []byte, users UserStore) *JWTResolver {
	return &JWTResolver{
		secret: secret,
		users:  users,
		parser: gojwt.NewParser(
			gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
			gojwt.WithExpirationRequired(),
		),
	}
}

func (r *JWTResolver) Resolve(ctx context.Context, tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", fmt.Errorf("%w: missing", ErrInvalidToken)
	}
	claims := gojwt.MapClaims{}
	_, err := r.parser.ParseWithClaims(tokenStr, claims, func(token *gojwt.Token) (any, error) {
		return r.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	if r.users == nil {
		return subject, nil
	}
	userID, err := r.users.UserIDForExternal(ctx, subject)
	if err != nil {
		glog.V(1).Infof("[identity]no user for %s = %s\n", subject, err)
		return "", err
	}
	return userID, nil
}

// NewResolver picks the resolver for the configured secret.
func NewResolver(secret string, users UserStore) Resolver {
	if secret == "" {
		glog.Infof("[identity]no jwt secret, join user ids are trusted\n")
		return Anonymous{}
	}
	return NewJWTResolver([]byte(secret), users)
}
