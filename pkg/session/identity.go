package session

import (
	"log/slog"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "profesor"
	RoleStudent Role = "estudiante"
	RoleUnknown Role = "unknown"
)

// Identity is the registration-relevant view of the authenticated user.
// It is re-derived from the store on every use and never cached; the
// instant the underlying session state changes it is stale.
type Identity struct {
	UserID    int
	Role      Role
	CourseIDs []int
}

func (i Identity) Equal(other Identity) bool {
	return i.UserID == other.UserID &&
		i.Role == other.Role &&
		slices.Equal(i.CourseIDs, other.CourseIDs)
}

// Resolve derives the current identity from persisted session state.
// It tries the stored user record first and falls back to the bearer
// token's claims. Any parse or decode failure is logged and reported as
// "no identity"; callers must treat that as "do not register yet".
func Resolve(logger *slog.Logger, store Store) (Identity, bool) {
	id := Identity{Role: RoleUnknown}

	if raw, ok := store.Get(KeyUser); ok {
		userID := gjson.Get(raw, "id_usuario")
		if !userID.Exists() {
			userID = gjson.Get(raw, "id")
		}
		if userID.Exists() {
			id.UserID = int(userID.Int())
			if rol := gjson.Get(raw, "rol"); rol.Exists() {
				id.Role = normalizeRole(rol.String())
			} else if role, ok := roleFromToken(store); ok {
				id.Role = role
			}
			return id, true
		}
		logger.Warn("stored user record has no identity field, falling back to token")
	}

	claims, ok := tokenClaims(store)
	if !ok {
		return Identity{}, false
	}

	userID, ok := claimInt(claims, "id_usuario")
	if !ok {
		userID, ok = claimInt(claims, "id")
	}
	if !ok {
		logger.Warn("token claims carry no identity field")
		return Identity{}, false
	}
	id.UserID = userID
	if rol, found := claims["rol"].(string); found {
		id.Role = normalizeRole(rol)
	}
	return id, true
}

// tokenClaims decodes the stored bearer token without verifying its
// signature. The client holds no signing key; it only needs the claims
// the server already vouched for when it issued the token.
func tokenClaims(store Store) (jwt.MapClaims, bool) {
	raw, ok := store.Get(KeyToken)
	if !ok || raw == "" {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, false
	}
	return claims, true
}

func roleFromToken(store Store) (Role, bool) {
	claims, ok := tokenClaims(store)
	if !ok {
		return RoleUnknown, false
	}
	rol, ok := claims["rol"].(string)
	if !ok {
		return RoleUnknown, false
	}
	return normalizeRole(rol), true
}

func claimInt(claims jwt.MapClaims, key string) (int, bool) {
	// JSON numbers decode as float64.
	if v, ok := claims[key].(float64); ok {
		return int(v), true
	}
	return 0, false
}

func normalizeRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return Role(s)
	default:
		return RoleUnknown
	}
}
