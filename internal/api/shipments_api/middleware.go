package shipments_api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Role is the caller's access level, asserted by the fronting gateway.
type Role string

const (
	RoleUser       Role = "user"
	RoleStaff      Role = "staff"
	RoleSuperadmin Role = "superadmin"
)

var roleRank = map[Role]int{
	RoleUser:       0,
	RoleStaff:      1,
	RoleSuperadmin: 2,
}

// AtLeast reports whether r grants at least min's access. Unknown roles rank
// below user.
func (r Role) AtLeast(min Role) bool {
	rr, ok := roleRank[r]
	if !ok {
		rr = -1
	}
	return rr >= roleRank[min]
}

// Identity is the authenticated caller. The gateway terminates auth and
// forwards it via headers; this service only reads them.
type Identity struct {
	UserID string
	Role   Role
}

type ctxKey int

const identityKey ctxKey = iota

// IdentityMiddleware lifts X-User-Id / X-User-Role into the request context.
// Requests without a user id stay anonymous; handlers decide what that means.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		role := Role(strings.ToLower(strings.TrimSpace(r.Header.Get("X-User-Role"))))
		if _, ok := roleRank[role]; !ok {
			role = RoleUser
		}
		ctx := context.WithValue(r.Context(), identityKey, Identity{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// RequestIDMiddleware echoes the inbound X-Request-Id or mints one.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
