package credentials

import "time"

// Fixed keys in the primary store.
const (
	KeyAccessToken  = "auth_token"
	KeyUser         = "auth_user"
	KeyExpiresAt    = "auth_token_expires_at" // epoch millis
	KeyRefreshToken = "auth_refresh_token"
	KeyActiveTenant = "active_tenant_id"
	KeyTenantList   = "tenant_list"
)

// CookieName is the mirror of the access token that edge middleware reads.
const CookieName = "auth_token"

// DefaultCookieMaxAge is used for the cookie mirror when the server gives no expiry.
const DefaultCookieMaxAge = 7 * 24 * time.Hour

var sessionKeys = []string{KeyAccessToken, KeyUser, KeyExpiresAt, KeyRefreshToken}

var tenantKeys = []string{KeyActiveTenant, KeyTenantList}
