package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	SubjectKey contextKey = "subject_id"
	AdminKey   contextKey = "is_admin"
)

// Claims is the token payload: sub carries the subject id, is_admin gates
// the admin-only routes.
type Claims struct {
	jwt.RegisteredClaims
	IsAdmin bool `json:"is_admin,omitempty"`
}

// Auth verifies HS256 bearer tokens minted by the account service.
type Auth struct {
	Secret []byte
}

// Verify extracts and validates the bearer token, storing the subject id
// and admin flag in the request context.
func (a *Auth) Verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		if raw == "" {
			writeAuthError(w, http.StatusUnauthorized, "未提供认证令牌")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
		if token == "" {
			writeAuthError(w, http.StatusUnauthorized, "认证令牌格式错误")
			return
		}

		parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		claims := &Claims{}
		parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return a.Secret, nil
		})
		if err != nil || !parsed.Valid {
			writeAuthError(w, http.StatusUnauthorized, "认证令牌无效或已过期")
			return
		}

		subjectID, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || subjectID <= 0 {
			writeAuthError(w, http.StatusUnauthorized, "认证令牌无效或已过期")
			return
		}

		ctx := context.WithValue(r.Context(), SubjectKey, subjectID)
		ctx = context.WithValue(ctx, AdminKey, claims.IsAdmin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects non-admin callers. Must run after Verify.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r.Context()) {
			writeAuthError(w, http.StatusForbidden, "需要管理员权限")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SubjectID returns the authenticated subject id, 0 when unauthenticated.
func SubjectID(ctx context.Context) int64 {
	if id, ok := ctx.Value(SubjectKey).(int64); ok {
		return id
	}
	return 0
}

// IsAdmin reports whether the caller carries the admin claim.
func IsAdmin(ctx context.Context) bool {
	if admin, ok := ctx.Value(AdminKey).(bool); ok {
		return admin
	}
	return false
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
