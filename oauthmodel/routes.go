package oauthmodel

// Backend route constants
const (
	// Public auth routes
	RouteLogin          = "/auth/login"
	RouteRegister       = "/auth/register"
	RouteForgotPassword = "/auth/forgot-password"
	RouteResetPassword  = "/auth/reset-password"

	// Token exchange, called outside the request pipeline
	RouteRefresh = "/auth/refresh"

	// Protected routes used by the session itself
	RouteTenants = "/auth/tenants"

	// Public business routes
	RoutePublicPlans = "/plans/public"
)
