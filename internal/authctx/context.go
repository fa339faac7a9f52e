// Package authctx holds the authenticated identity a request carries through
// the pipeline, and the token-validation contract the auth stage delegates to.
package authctx

// AuthContext is produced by the authentication stage and read by every
// stage after it. Values are owned by the request's goroutine.
type AuthContext struct {
	TenantID      string
	UserID        string
	Roles         []string
	Permissions   []string
	Token         string
	APIVersion    string
	RequestID     string
	ClientType    string
	ClientVersion string
}

// Anonymous returns the sentinel context for requests that matched the
// anonymous allow-list and carry no credentials.
func Anonymous(requestID, apiVersion string) AuthContext {
	return AuthContext{
		TenantID:   "anonymous",
		UserID:     "anonymous",
		Roles:      []string{"anonymous"},
		RequestID:  requestID,
		APIVersion: apiVersion,
	}
}

// HasRole reports whether the context carries the named role.
func (a AuthContext) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the context carries the named permission.
func (a AuthContext) HasPermission(perm string) bool {
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// IsAnonymous reports whether this is the anonymous sentinel.
func (a AuthContext) IsAnonymous() bool {
	return a.UserID == "anonymous"
}

// IsSystem reports whether this is a privileged system context. Both the
// user id and the role must match, so a spoofed header alone never grants
// system privileges.
func (a AuthContext) IsSystem() bool {
	return a.UserID == "system" && a.HasRole("system")
}
