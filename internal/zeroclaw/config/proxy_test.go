package config

import "testing"

func TestValidateProxy_RejectsUnknownScope(t *testing.T) {
	p := &ProxyConfig{Scope: "bogus"}
	if err := ValidateProxy(p); err == nil {
		t.Fatal("expected error for unknown scope")
	}
}

func TestValidateProxy_StrictRejectsWildcardHost(t *testing.T) {
	p := &ProxyConfig{Scope: ProxyScopeZeroclaw, URL: "http://*.example.com", StrictHostRejection: true}
	if err := ValidateProxy(p); err == nil {
		t.Fatal("expected error for wildcard host under strict rejection")
	}
}

func TestValidateProxy_NonStrictDropsWildcardHost(t *testing.T) {
	p := &ProxyConfig{Scope: ProxyScopeZeroclaw, URL: "http://*.example.com"}
	if err := ValidateProxy(p); err != nil {
		t.Errorf("ValidateProxy() = %v, want nil under non-strict mode", err)
	}
}

func TestRouter_ClientForCachesByKey(t *testing.T) {
	r := NewRouter(ProxyConfig{Scope: ProxyScopeEnvironment})
	c1 := r.ClientFor("provider.openai", 30, 10)
	c2 := r.ClientFor("provider.openai", 30, 10)
	if c1 != c2 {
		t.Error("ClientFor should return the cached client for an identical key")
	}
	c3 := r.ClientFor("provider.openai", 60, 10)
	if c1 == c3 {
		t.Error("ClientFor should build a new client when timeoutSecs differs")
	}
}

func TestRouter_SetConfigClearsCache(t *testing.T) {
	r := NewRouter(ProxyConfig{Scope: ProxyScopeEnvironment})
	c1 := r.ClientFor("provider.openai", 30, 10)
	r.SetConfig(ProxyConfig{Scope: ProxyScopeEnvironment})
	c2 := r.ClientFor("provider.openai", 30, 10)
	if c1 == c2 {
		t.Error("SetConfig should invalidate the existing client cache")
	}
}

func TestRouter_ServicesScopeExactAndWildcardSelectors(t *testing.T) {
	r := NewRouter(ProxyConfig{
		Scope: ProxyScopeServices,
		Services: map[string]string{
			"provider.openai": "http://exact-proxy:8080",
			"provider.*":      "http://wildcard-proxy:8080",
		},
	})

	if got := r.resolveProxyURL("provider.openai"); got != "http://exact-proxy:8080" {
		t.Errorf("resolveProxyURL(exact) = %q", got)
	}
	if got := r.resolveProxyURL("provider.anthropic"); got != "http://wildcard-proxy:8080" {
		t.Errorf("resolveProxyURL(wildcard) = %q", got)
	}
	if got := r.resolveProxyURL("unrelated"); got != "" {
		t.Errorf("resolveProxyURL(no match) = %q, want empty", got)
	}
}
