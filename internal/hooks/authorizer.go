package hooks

import (
	"github.com/lumencanvas/clasp-sub002/internal/address"
	"github.com/lumencanvas/clasp-sub002/internal/auth"
)

// JWTAuthorizer backs Authorizer with internal/auth's JWTManager.
// Scopes are address patterns prefixed "write:" or "sub:"; a session
// with scope "write:/lights/**" may SET any address under /lights.
// Scope "admin" grants everything.
type JWTAuthorizer struct {
	manager *auth.JWTManager
}

func NewJWTAuthorizer(manager *auth.JWTManager) *JWTAuthorizer {
	return &JWTAuthorizer{manager: manager}
}

func (a *JWTAuthorizer) OnHello(token string) (auth.ScopeSet, error) {
	return a.manager.Verify(token)
}

func (a *JWTAuthorizer) CheckWrite(scopes auth.ScopeSet, addr string) bool {
	return scopeMatches(scopes, "write:", addr)
}

func (a *JWTAuthorizer) CheckSubscribe(scopes auth.ScopeSet, pattern string) bool {
	return scopeMatches(scopes, "sub:", pattern)
}

func scopeMatches(scopes auth.ScopeSet, prefix string, target string) bool {
	if scopes.Has("admin") {
		return true
	}
	for scope := range scopes.Scopes {
		if len(scope) <= len(prefix) || scope[:len(prefix)] != prefix {
			continue
		}
		pattern := scope[len(prefix):]
		norm, err := address.NormalizePattern(pattern)
		if err != nil {
			continue
		}
		if address.Match(norm, target) || address.Match(norm, target+"/") {
			return true
		}
		// target itself may be a pattern (CheckSubscribe case): a scope
		// pattern authorizes a subscribe pattern when the scope pattern
		// is equal to or a generalization of it.
		if address.HasWildcard(target) && norm == target {
			return true
		}
	}
	return false
}

// AllowAllAuthorizer grants every request. Used when CLASP_AUTH=off.
type AllowAllAuthorizer struct{}

func (AllowAllAuthorizer) OnHello(string) (auth.ScopeSet, error) {
	return auth.NewScopeSet([]string{"admin"}), nil
}
func (AllowAllAuthorizer) CheckWrite(auth.ScopeSet, string) bool     { return true }
func (AllowAllAuthorizer) CheckSubscribe(auth.ScopeSet, string) bool { return true }
