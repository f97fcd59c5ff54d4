package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var allPermissions = []string{
	PermGraphRead,
	PermGraphWrite,
	PermGraphExport,
}

// NewKeyfunc builds the token verifier. A JWKS url takes precedence over
// an HMAC secret. Both empty yields a nil Keyfunc.
func NewKeyfunc(jwksURL string, secret string) (jwt.Keyfunc, error) {
	if jwksURL != "" {
		k, err := keyfunc.NewDefault([]string{strings.TrimSuffix(jwksURL, "/") + "/jwks"})
		if err != nil {
			return nil, fmt.Errorf("failed to load jwks keys: %w", err)
		}
		return k.Keyfunc, nil
	}
	if secret != "" {
		return HMACKeyfunc([]byte(secret)), nil
	}
	return nil, nil
}

// HMACKeyfunc accepts tokens signed with secret using an HMAC method.
func HMACKeyfunc(secret []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

// AuthMiddleware resolves the bearer token into an AppUser. Without any
// configured authentication every request acts as admin.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ac := c.(*AppContext)
		app := ac.App

		if !app.AuthEnabled() {
			ac.User = &AppUser{Subject: "anonymous", Role: "admin", Permissions: allPermissions}
			return next(c)
		}

		authHeader := c.Request().Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			return unauthorized(c)
		}

		// Master API Key bypass
		if app.MasterAPIKey != "" && token == app.MasterAPIKey {
			ac.User = &AppUser{Subject: "master", Role: "admin", Permissions: allPermissions}
			return next(c)
		}
		if app.Keyfunc == nil {
			return unauthorized(c)
		}

		user, err := userFromToken(token, app.Keyfunc)
		if err != nil {
			return unauthorized(c)
		}
		ac.User = user
		return next(c)
	}
}

func userFromToken(token string, kf jwt.Keyfunc) (*AppUser, error) {
	parsed, err := jwt.Parse(token, kf)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, errors.New("token without subject")
	}

	role := "user"
	if roleClaim, ok := claims["role"].(string); ok {
		role = roleClaim
	}

	var permissions []string
	if permsClaim, ok := claims["permissions"].([]any); ok {
		for _, p := range permsClaim {
			if pStr, ok := p.(string); ok {
				permissions = append(permissions, pStr)
			}
		}
	}
	if role == "admin" && len(permissions) == 0 {
		permissions = allPermissions
	}
	if role == "user" && len(permissions) == 0 {
		permissions = []string{PermGraphRead}
	}

	return &AppUser{Subject: subject, Role: role, Permissions: permissions}, nil
}
