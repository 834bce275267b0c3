package domain

// Role — роль пользователя, выданная внешним сервисом аутентификации.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Principal — аутентифицированный пользователь запроса.
type Principal struct {
	ID   string
	Role Role
}

// IsAdmin сообщает, может ли пользователь менять статусы заказов.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
