package middleware

import (
	"errors"
	"strings"

	"github.com/elevate-workforce/enrollpay/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v4"
)

// Claims are the access token claims issued by the hosted auth provider.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// JWTConfig configures access token verification.
type JWTConfig struct {
	Secret string
	Issuer string
}

// ParseToken verifies an HS256 access token and returns its claims.
func ParseToken(tokenString string, cfg JWTConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	if cfg.Issuer != "" && !claims.VerifyIssuer(cfg.Issuer, true) {
		return nil, errors.New("unexpected token issuer")
	}
	return claims, nil
}

// RequireJWT authenticates API requests with a bearer access token and
// stores the caller in the user context. Failures answer JSON 401.
func RequireJWT(cfg JWTConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing bearer token"})
		}

		claims, err := ParseToken(tokenString, cfg)
		if err != nil {
			log.Warnf("[Auth] Rejected token for %s %s: %v", c.Method(), c.Path(), err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid token"})
		}

		usercontext.Set(c, usercontext.UserContext{
			UserID:     claims.Subject,
			Email:      claims.Email,
			Name:       claims.Name,
			IsLoggedIn: true,
			IsAdmin:    claims.Role == usercontext.RoleAdmin,
		})
		return c.Next()
	}
}

// RequireAdmin ensures the authenticated caller has the admin role.
func RequireAdmin(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
	}
	if !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "admin role required"})
	}
	return c.Next()
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
