package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const callerKey contextKey = "caller"

// Claims is the bearer token payload. DoctorID is set for doctor accounts;
// the messaging integration authenticates with the channel role and no doctor.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	DoctorID string   `json:"doctor_id,omitempty"`
	Roles    []string `json:"roles"`
}

// Caller is the authenticated identity attached to each request.
type Caller struct {
	UserID   string
	Roles    []string
	DoctorID uuid.UUID
}

// HasRole reports whether the caller holds role. Admin holds every role.
func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

// IsDoctor reports whether the caller is bound to a doctor account.
func (c Caller) IsDoctor() bool {
	return c.DoctorID != uuid.Nil
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 validation; used for development and tests
	SigningKey []byte
	Skipper    func(echo.Context) bool
}

// JWTMiddleware validates the bearer token and attaches a Caller to the
// request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	} else {
		jwksURL := cfg.JWKSURL
		if jwksURL == "" && cfg.Issuer != "" {
			if discovered, err := DiscoverJWKSURL(cfg.Issuer); err == nil {
				jwksURL = discovered
			}
		}
		keyFunc = NewJWKSCache(jwksURL, defaultJWKSCacheTTL).KeyFunc()
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			caller := Caller{UserID: claims.Subject, Roles: claims.Roles}
			if claims.DoctorID != "" {
				id, err := uuid.Parse(claims.DoctorID)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
				}
				caller.DoctorID = id
			}

			// read by the tenant middleware
			c.Set("jwt_tenant_id", claims.TenantID)
			c.SetRequest(c.Request().WithContext(WithCaller(c.Request().Context(), caller)))
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as an admin in
// development. X-Doctor-ID acts as the doctor the request is made for.
func DevAuthMiddleware(skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			caller := Caller{UserID: "dev-user", Roles: []string{RoleAdmin}}
			if raw := c.Request().Header.Get("X-Doctor-ID"); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, "invalid X-Doctor-ID header")
				}
				caller.DoctorID = id
			}

			c.Set("jwt_tenant_id", c.Request().Header.Get("X-Tenant-ID"))
			c.SetRequest(c.Request().WithContext(WithCaller(c.Request().Context(), caller)))
			return next(c)
		}
	}
}

// WithCaller stores the caller on ctx.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext returns the caller attached by the auth middleware.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey).(Caller)
	return caller, ok
}

func RolesFromContext(ctx context.Context) []string {
	caller, _ := CallerFromContext(ctx)
	return caller.Roles
}

func UserIDFromContext(ctx context.Context) string {
	caller, _ := CallerFromContext(ctx)
	return caller.UserID
}
