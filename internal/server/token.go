package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// signToken mints a bearer token for subject, valid for ttl, using the
// same sub-claim/HS256 shape the gateway's websocket handshake verifies.
func signToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// verifyToken parses and validates tok against secret, returning the
// subject claim on success.
func verifyToken(secret []byte, tok string) (string, error) {
	if tok == "" {
		return "", jwt.ErrTokenMalformed
	}
	parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) { return secret, nil })
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", jwt.ErrTokenInvalidClaims
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return sub, nil
}

// extractBearerToken reads the token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return h[7:]
	}
	return ""
}

// authMiddleware rejects requests without a valid bearer token and stashes
// the authenticated principal id in the echo context under "principalId".
func authMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sub, err := verifyToken(secret, extractBearerToken(c.Request()))
			if err != nil {
				return fail(c, http.StatusUnauthorized, "invalid or missing token")
			}
			c.Set("principalId", sub)
			return next(c)
		}
	}
}

func principalID(c echo.Context) string {
	id, _ := c.Get("principalId").(string)
	return id
}
