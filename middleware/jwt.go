package middleware

import (
	"strings"
	"time"

	"mention-engine/apperr"
	"mention-engine/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type claims struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer issues and verifies bearer tokens carrying {id, email}.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), expiry: expiry}
}

func (t *TokenIssuer) Issue(actor models.Actor) (string, error) {
	now := time.Now()
	c := claims{
		ID:    actor.ID,
		Email: actor.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(t.secret)
}

func (t *TokenIssuer) Verify(tokenStr string) (models.Actor, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenStr, &c, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return models.Actor{}, apperr.New(apperr.Unauthorized, "invalid token")
	}
	return models.Actor{ID: c.ID, Email: c.Email}, nil
}

// ActorKey is the gin context key the authenticated Actor is stored
// under by RequireBearer.
const ActorKey = "actor"

// RequireBearer is gin middleware enforcing a valid bearer token.
// Missing/invalid token => 401.
func RequireBearer(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(401, gin.H{"error": "missing bearer token"})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		actor, err := issuer.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ActorKey, actor)
		c.Next()
	}
}

// ActorFrom extracts the Actor RequireBearer stored on the context.
func ActorFrom(c *gin.Context) models.Actor {
	v, _ := c.Get(ActorKey)
	a, _ := v.(models.Actor)
	return a
}
