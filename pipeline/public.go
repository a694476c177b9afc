package pipeline

import (
	"strings"

	"github.com/jrsteele09/go-auth-client/oauthmodel"
)

// DefaultPublicPaths never carry credentials and are never retried.
var DefaultPublicPaths = []string{
	oauthmodel.RouteLogin,
	oauthmodel.RouteRegister,
	oauthmodel.RouteForgotPassword,
	oauthmodel.RouteResetPassword,
	oauthmodel.RoutePublicPlans,
}

// isPublic matches path exactly against the allow-list once the API base path (/api/v1) is
// stripped. A path outside the base path is never public.
func isPublic(publicPaths []string, basePath, path string) bool {
	if basePath != "" {
		rest, ok := strings.CutPrefix(path, basePath)
		if !ok || (rest != "" && rest[0] != '/') {
			return false
		}
		path = rest
	}
	path = strings.TrimSuffix(path, "/")
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
