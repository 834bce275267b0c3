package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/petmarket/internal/domain"
)

// Заголовки, которые выставляет шлюз аутентификации после проверки токена.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type principalKey struct{}

func withPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext возвращает пользователя, прошедшего authenticate.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

func parseRole(raw string) domain.Role {
	if domain.Role(strings.ToLower(strings.TrimSpace(raw))) == domain.RoleAdmin {
		return domain.RoleAdmin
	}
	return domain.RoleCustomer
}

// authenticate требует идентификатор пользователя. Без него 401.
func authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			writeMessage(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		p := domain.Principal{ID: id, Role: parseRole(r.Header.Get(HeaderUserRole))}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// requireAdmin пропускает только администраторов.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || !p.IsAdmin() {
			writeMessage(w, http.StatusForbidden, msgForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
