package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProxyScope selects how a proxy selector is interpreted.
const (
	ProxyScopeEnvironment = "environment"
	ProxyScopeZeroclaw    = "zeroclaw"
	ProxyScopeServices    = "services"
)

// ValidateProxy rejects a ProxyConfig with an unrecognized scope or a
// malformed host in any configured service URL.
func ValidateProxy(p *ProxyConfig) error {
	switch p.Scope {
	case "", ProxyScopeEnvironment, ProxyScopeZeroclaw, ProxyScopeServices:
	default:
		return fmt.Errorf("proxy: unknown scope %q", p.Scope)
	}
	if p.URL != "" {
		if _, err := normalizeProxyHost(p.URL, p.StrictHostRejection); err != nil {
			return fmt.Errorf("proxy: url: %w", err)
		}
	}
	for selector, rawURL := range p.Services {
		if _, err := normalizeProxyHost(rawURL, p.StrictHostRejection); err != nil {
			return fmt.Errorf("proxy: services[%q]: %w", selector, err)
		}
	}
	return nil
}

// normalizeProxyHost trims, lowercases, and validates a proxy URL's host
// component: no wildcards, no bare scheme-only values, and a well-formed
// host[:port]. When strict is false, a malformed host is dropped with a
// zero value and no error instead of rejecting the whole config.
func normalizeProxyHost(raw string, strict bool) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", nil
	}
	if strings.Contains(trimmed, "*") {
		if strict {
			return "", fmt.Errorf("wildcard host %q is not allowed", raw)
		}
		return "", nil
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		if strict {
			return "", fmt.Errorf("invalid proxy host %q", raw)
		}
		return "", nil
	}

	host := parsed.Hostname()
	if host == "" {
		if strict {
			return "", fmt.Errorf("invalid proxy host %q", raw)
		}
		return "", nil
	}
	if port := parsed.Port(); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			if strict {
				return "", fmt.Errorf("invalid proxy port in %q", raw)
			}
			return "", nil
		}
	}

	return parsed.Host, nil
}

// clientCacheKey identifies one cached HTTP client by the service it's
// scoped to and the timeouts it was built with.
type clientCacheKey struct {
	serviceKey        string
	timeoutSecs       int
	connectTimeoutSecs int
}

// Router maintains the process-wide ProxyConfig and a cache of HTTP
// clients keyed by (service_key, timeout_secs, connect_timeout_secs). Any
// call to SetConfig clears the cache so stale clients never outlive a
// proxy config change.
type Router struct {
	mu      sync.RWMutex
	cfg     ProxyConfig
	clients map[clientCacheKey]*http.Client
}

// NewRouter builds a Router with the given initial ProxyConfig.
func NewRouter(cfg ProxyConfig) *Router {
	return &Router{cfg: cfg, clients: make(map[clientCacheKey]*http.Client)}
}

// SetConfig replaces the process-wide ProxyConfig and clears the client
// cache.
func (r *Router) SetConfig(cfg ProxyConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.clients = make(map[clientCacheKey]*http.Client)
}

// ClientFor returns a cached (or newly built) HTTP client for serviceKey,
// applying the proxy selected for that service under the router's
// current scope.
//
// In "services" scope, serviceKey is matched first as an exact key
// (e.g. "provider.openai"), then as a "category.*" wildcard
// (e.g. "provider.*") against the part of serviceKey before the first
// dot.
func (r *Router) ClientFor(serviceKey string, timeoutSecs, connectTimeoutSecs int) *http.Client {
	key := clientCacheKey{serviceKey, timeoutSecs, connectTimeoutSecs}

	r.mu.RLock()
	if c, ok := r.clients[key]; ok {
		r.mu.RUnlock()
		return c
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[key]; ok {
		return c
	}

	client := r.buildClient(serviceKey, timeoutSecs, connectTimeoutSecs)
	r.clients[key] = client
	return client
}

func (r *Router) buildClient(serviceKey string, timeoutSecs, connectTimeoutSecs int) *http.Client {
	proxyURL := r.resolveProxyURL(serviceKey)

	transport := &http.Transport{}
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	}
	if connectTimeoutSecs > 0 {
		transport.TLSHandshakeTimeout = time.Duration(connectTimeoutSecs) * time.Second
	}

	client := &http.Client{Transport: transport}
	if timeoutSecs > 0 {
		client.Timeout = time.Duration(timeoutSecs) * time.Second
	}
	return client
}

func (r *Router) resolveProxyURL(serviceKey string) string {
	switch r.cfg.Scope {
	case ProxyScopeEnvironment:
		return ""
	case ProxyScopeServices:
		if direct, ok := r.cfg.Services[serviceKey]; ok {
			return direct
		}
		if idx := strings.Index(serviceKey, "."); idx >= 0 {
			category := serviceKey[:idx] + ".*"
			if wild, ok := r.cfg.Services[category]; ok {
				return wild
			}
		}
		return ""
	case ProxyScopeZeroclaw:
		return r.cfg.URL
	default:
		return ""
	}
}
