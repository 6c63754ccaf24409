package usercontext

// Locals keys shared by middlewares and controllers
const (
	KeyUserContext = "USER_CONTEXT"
	KeyUserID      = "user_id"
	KeyIsAdmin     = "isAdmin"
)

// RoleAdmin is the token role allowed to read operational endpoints.
const RoleAdmin = "admin"
