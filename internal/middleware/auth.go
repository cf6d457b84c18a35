package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ternarybob/arbor"

	"studio-board/internal/common"
)

// User is the authenticated caller of a request.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type contextKey string

const userContextKey contextKey = "user"

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userContextKey).(User)
	return user, ok
}

// UserID returns the email of the request's user, or "" when there is none.
func UserID(ctx context.Context) string {
	user, _ := UserFromContext(ctx)
	return user.Email
}

// Claims is the payload of a session token.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 session tokens and restricts access to the
// configured email domains.
type Authenticator struct {
	config *common.AuthConfig
	logger arbor.ILogger
}

func NewAuthenticator(config *common.AuthConfig, logger arbor.ILogger) *Authenticator {
	return &Authenticator{config: config, logger: logger}
}

// IssueToken signs a session token for email, valid for ttl.
func IssueToken(config *common.AuthConfig, email, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		Name:  name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.Secret))
}

// Verify parses a session token and checks its email domain.
func (a *Authenticator) Verify(tokenString string) (User, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(a.config.Secret), nil
	}, opts...)
	if err != nil {
		return User{}, common.WrapError(err, common.ErrorTypeAuth, "INVALID_SESSION", "session token is invalid or expired")
	}

	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return User{}, common.NewAuthError("INVALID_SESSION", "session token has no email")
	}
	if !a.domainAllowed(email) {
		return User{}, common.NewForbiddenError("DOMAIN_NOT_ALLOWED", "your account's domain is not allowed").
			WithContext("email", email)
	}
	return User{Email: email, Name: claims.Name}, nil
}

// domainAllowed reports whether email belongs to an allowed domain. An
// empty allow-list admits every domain.
func (a *Authenticator) domainAllowed(email string) bool {
	if len(a.config.AllowedDomains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := email[at+1:]
	return slices.ContainsFunc(a.config.AllowedDomains, func(allowed string) bool {
		return strings.EqualFold(strings.TrimSpace(allowed), domain)
	})
}

// token finds the session token in the cookie, the Authorization header or,
// for websocket upgrades, the access_token query parameter.
func (a *Authenticator) token(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if a.config.CookieName != "" {
		if cookie, err := r.Cookie(a.config.CookieName); err == nil {
			return cookie.Value
		}
	}
	return r.URL.Query().Get("access_token")
}

// Middleware puts the authenticated user into the request context. With
// auth disabled every request runs as the configured development user.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.config.Enabled {
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), User{Email: a.config.DevUser})))
			return
		}

		tokenString := a.token(r)
		if tokenString == "" {
			writeError(w, common.NewAuthError("NO_SESSION", "sign in required"))
			return
		}

		user, err := a.Verify(tokenString)
		if err != nil {
			a.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Rejected session")
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func writeError(w http.ResponseWriter, err error) {
	status, body := common.NewErrorResponse(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
