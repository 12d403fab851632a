package hooks

import (
	"testing"

	"github.com/lumencanvas/clasp-sub002/internal/auth"
)

func TestJWTAuthorizerScopeMatch(t *testing.T) {
	mgr := auth.NewJWTManager("test-secret", 0)
	a := NewJWTAuthorizer(mgr)

	scopes := auth.NewScopeSet([]string{"write:/lights/**", "sub:/audio/*/level"})

	if !a.CheckWrite(scopes, "/lights/room1/brightness") {
		t.Error("expected write allowed under /lights/**")
	}
	if a.CheckWrite(scopes, "/audio/master/gain") {
		t.Error("expected write denied outside granted scope")
	}
	if !a.CheckSubscribe(scopes, "/audio/master/level") {
		t.Error("expected subscribe allowed for /audio/*/level pattern")
	}
}

func TestAllowAllAuthorizer(t *testing.T) {
	a := AllowAllAuthorizer{}
	scopes, err := a.OnHello("anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.CheckWrite(scopes, "/anything/goes") {
		t.Error("expected allow-all to permit any write")
	}
}

func TestNoopPersistenceAlwaysHealthy(t *testing.T) {
	p := NoopPersistence{}
	p.Publish(WriteRecord{Address: "/x"})
	if !p.Healthy() {
		t.Error("expected noop persistence to report healthy")
	}
}
