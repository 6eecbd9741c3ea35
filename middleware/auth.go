package middleware

import (
	"context"
	"strings"
	"time"

	"sekolah_absenku/config"
	"sekolah_absenku/database"
	"sekolah_absenku/models"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

const blacklistPrefix = "blacklist:jwt:"

type Claims struct {
	UserID     uint   `json:"user_id"`
	Identifier string `json:"identifier"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken creates a new JWT token for a user
func GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:     user.ID,
		Identifier: user.Identifier,
		Role:       user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(config.AppConfig.JWTExpiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

// TokenBlacklist remembers logged-out tokens until they expire.
type TokenBlacklist interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// redisBlacklist looks the client up per call since Redis connects after routes are built.
type redisBlacklist struct{}

func (redisBlacklist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	rdb := database.GetRedisClient()
	if rdb == nil {
		return nil
	}
	return rdb.Set(ctx, blacklistPrefix+token, "1", ttl).Err()
}

func (redisBlacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	rdb := database.GetRedisClient()
	if rdb == nil {
		return false, nil
	}
	err := rdb.Get(ctx, blacklistPrefix+token).Err()
	if err == redis.Nil {
		return false, nil
	}
	return err == nil, err
}

var blacklist TokenBlacklist = redisBlacklist{}

// SetTokenBlacklist replaces the Redis blacklist. Nil restores it.
func SetTokenBlacklist(b TokenBlacklist) {
	if b == nil {
		b = redisBlacklist{}
	}
	blacklist = b
}

// RevokeToken blacklists a token until it would have expired anyway.
// Without Redis logout is client-side only.
func RevokeToken(ctx context.Context, tokenString string, claims *Claims) error {
	if claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return blacklist.Revoke(ctx, tokenString, ttl)
}

func isRevoked(ctx context.Context, tokenString string) bool {
	revoked, err := blacklist.IsRevoked(ctx, tokenString)
	if err != nil {
		logrus.WithError(err).Warn("Token blacklist lookup failed")
	}
	return revoked
}

// JWTMiddleware validates JWT tokens
func JWTMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization header",
			})
		}

		// Extract token from "Bearer <token>"
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader || tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authorization header format",
			})
		}

		claims, err := ParseToken(tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired token",
			})
		}

		if isRevoked(c.UserContext(), tokenString) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "token has been revoked",
			})
		}

		// Verify user still exists and is active
		var user models.User
		err = database.DB.WithContext(c.UserContext()).
			Preload("Student").
			Preload("Teacher").
			First(&user, claims.UserID).Error
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "user not found",
			})
		}
		if user.Status != models.UserActive {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "account is inactive",
			})
		}

		c.Locals("user", &user)
		c.Locals("claims", claims)
		c.Locals("token", tokenString)

		return c.Next()
	}
}

// ParseToken validates the signature and expiry of a token.
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// RequireRole middleware checks if user has required role
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := GetCurrentUser(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing user",
			})
		}

		for _, role := range roles {
			if user.Role == role {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "insufficient permissions",
		})
	}
}

// RequireAdmin allows admins only
func RequireAdmin() fiber.Handler {
	return RequireRole(models.RoleAdmin)
}

// RequireStaff allows admins and teachers
func RequireStaff() fiber.Handler {
	return RequireRole(models.RoleAdmin, models.RoleTeacher)
}

// GetCurrentUser returns the current authenticated user
func GetCurrentUser(c *fiber.Ctx) (*models.User, error) {
	user, ok := c.Locals("user").(*models.User)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "user not found in context")
	}
	return user, nil
}

// GetCurrentClaims returns the current JWT claims
func GetCurrentClaims(c *fiber.Ctx) (*Claims, error) {
	claims, ok := c.Locals("claims").(*Claims)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "claims not found in context")
	}
	return claims, nil
}

// GetCurrentToken returns the raw bearer token of the request.
func GetCurrentToken(c *fiber.Ctx) string {
	token, _ := c.Locals("token").(string)
	return token
}
