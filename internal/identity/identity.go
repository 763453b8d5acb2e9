// Package identity resolves the signed-in user from an HS256 token.
package identity

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/econtest/internal/errors"
)

const userKey = "identity.user"

// errNoSecret rejects every token while no secret is configured.
var errNoSecret = stderrors.New("identity: no secret configured")

// Claims carries the user id in the subject.
type Claims struct {
	Staff bool `json:"staff,omitempty"`
	jwt.RegisteredClaims
}

type User struct {
	ID    string
	Staff bool
}

type Config struct {
	Secret string
	// Cookie is read when the request has no Authorization header.
	Cookie string
	Now    func() time.Time
}

type Authenticator struct {
	secret []byte
	cookie string
	now    func() time.Time
}

func New(c Config) *Authenticator {
	a := &Authenticator{
		secret: []byte(c.Secret),
		cookie: c.Cookie,
		now:    c.Now,
	}

	if a.now == nil {
		a.now = time.Now
	}

	return a
}

// Issue signs a token for u valid for ttl.
func (a *Authenticator) Issue(u User, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Staff: u.Staff,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	if len(a.secret) == 0 {
		return "", fmt.Errorf("identity: sign token: %w", errNoSecret)
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}

	return s, nil
}

func (a *Authenticator) Parse(token string) (User, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		if len(a.secret) == 0 {
			return nil, errNoSecret
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return User{}, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid or expired token"),
			errors.WithCause(err))
	}

	if claims.Subject == "" {
		return User{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token has no subject"))
	}

	return User{ID: claims.Subject, Staff: claims.Staff}, nil
}

// Middleware attaches the user to the request when a valid token is present.
// Requests without one, or with a broken one, continue anonymously.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := a.token(c)
		if token == "" {
			c.Next()
			return
		}

		u, err := a.Parse(token)
		if err != nil {
			c.Next()
			return
		}

		c.Set(userKey, u)
		c.Next()
	}
}

func (a *Authenticator) token(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if a.cookie == "" {
		return ""
	}

	v, err := c.Cookie(a.cookie)
	if err != nil {
		return ""
	}

	return v
}

// FromContext returns the user attached by Middleware.
func FromContext(c *gin.Context) (User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return User{}, false
	}

	u, ok := v.(User)
	return u, ok
}

// UserID is the id of the signed-in user, empty for anonymous visitors.
func UserID(c *gin.Context) string {
	u, _ := FromContext(c)
	return u.ID
}

// RequireStaff rejects anonymous requests with 401 and non-staff users with 403.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := FromContext(c)
		if !ok {
			e := errors.New(errors.CodeUnauthenticated, errors.WithMessagef("authorization required"))
			c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
			return
		}

		if !u.Staff {
			e := errors.New(errors.CodePermissionDenied, errors.WithMessagef("staff only"))
			c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
			return
		}

		c.Next()
	}
}
