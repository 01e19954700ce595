package api

import (
	"errors"
	"strings"
	"time"

	"payment-service/internal/apperror"
	"payment-service/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const contextPrincipal = "principal"

// Claims is the bearer token payload issued by the identity service
type Claims struct {
	UserID string   `json:"user_id"`
	Role   string   `json:"role,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts claims into the caller identity
func (c *Claims) Principal() models.Principal {
	roles := append([]string(nil), c.Roles...)
	if c.Role != "" {
		roles = append(roles, c.Role)
	}
	userID := c.UserID
	if userID == "" {
		userID = c.Subject
	}
	return models.Principal{UserID: userID, Roles: roles}
}

// Authenticator validates HS256 bearer tokens
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Parse validates tokenStr and returns its claims
func (a *Authenticator) Parse(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, errors.New("missing token")
	}
	if len(a.secret) == 0 {
		return nil, errors.New("authentication is not configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" && claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Issue signs a token for principal; used by tests and local tooling
func (a *Authenticator) Issue(p models.Principal, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: p.UserID,
		Roles:  p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate attaches the caller's principal when a valid bearer token is present.
// Requests without a token continue anonymously; an invalid token is rejected.
func (a *Authenticator) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.Next()
			return
		}

		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortError(c, apperror.New(apperror.KindUnauthorized, "invalid Authorization header"))
			return
		}

		claims, err := a.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			abortError(c, apperror.New(apperror.KindUnauthorized, "invalid or expired token"))
			return
		}

		c.Set(contextPrincipal, claims.Principal())
		c.Next()
	}
}

// RequireAuth rejects anonymous callers
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if principalFrom(c).Anonymous() {
			abortError(c, apperror.New(apperror.KindUnauthorized, "authentication required"))
			return
		}
		c.Next()
	}
}

// RequireRole rejects callers holding none of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principalFrom(c)
		if p.Anonymous() {
			abortError(c, apperror.New(apperror.KindUnauthorized, "authentication required"))
			return
		}
		for _, role := range roles {
			if p.HasRole(role) {
				c.Next()
				return
			}
		}
		abortError(c, apperror.New(apperror.KindForbidden, "insufficient role"))
	}
}

func principalFrom(c *gin.Context) models.Principal {
	if v, ok := c.Get(contextPrincipal); ok {
		if p, ok := v.(models.Principal); ok {
			return p
		}
	}
	return models.Principal{}
}

func abortError(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	c.AbortWithStatusJSON(apperror.HTTPStatus(kind), errorBody(err))
}

func errorBody(err error) gin.H {
	body := gin.H{"error": apperror.PublicMessage(err)}
	if code := apperror.CodeOf(err); code != "" {
		body["code"] = code
	} else {
		body["code"] = string(apperror.KindOf(err))
	}
	return body
}
