package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/config"
)

const clockSkew = 2 * time.Minute

type callerKey struct{}

// Authenticator validates HS256 bearer tokens whose subject is the caller's
// address.
type Authenticator struct {
	secret         []byte
	issuer         string
	anonymousReads bool
}

// NewAuthenticator builds an Authenticator from the daemon's auth settings.
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		secret:         []byte(strings.TrimSpace(cfg.HMACSecret)),
		issuer:         strings.TrimSpace(cfg.Issuer),
		anonymousReads: cfg.AllowAnonymousReads,
	}
}

// SignToken issues a token for caller valid for ttl.
func SignToken(secret, issuer string, caller common.Address, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   caller.Hex(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

// CallerFrom returns the authenticated caller stored on ctx.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(common.Address)
	return caller, ok
}

// Require rejects requests without a valid bearer token.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return a.middleware(false, next)
}

// Reads authenticates read routes, letting anonymous requests through when
// configured to.
func (a *Authenticator) Reads(next http.Handler) http.Handler {
	return a.middleware(a.anonymousReads, next)
}

func (a *Authenticator) middleware(allowAnonymous bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearer(r.Header.Get("Authorization"))
		if raw == "" {
			if allowAnonymous {
				next.ServeHTTP(w, r)
				return
			}
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthenticated", Message: "missing bearer token", RequestID: RequestIDFrom(r.Context())})
			return
		}
		caller, err := a.authenticate(raw)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthenticated", Message: "invalid token", RequestID: RequestIDFrom(r.Context())})
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(raw string) (common.Address, error) {
	if len(a.secret) == 0 {
		return common.Address{}, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, err
	}
	if !token.Valid {
		return common.Address{}, errors.New("token invalid")
	}
	subject := strings.TrimSpace(claims.Subject)
	if !common.IsHexAddress(subject) {
		return common.Address{}, fmt.Errorf("subject %q is not an address", subject)
	}
	caller := common.HexToAddress(subject)
	if caller == (common.Address{}) {
		return common.Address{}, errors.New("subject is the zero address")
	}
	return caller, nil
}

func extractBearer(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
