package lark

import (
	"fmt"
	"net/http"
	"time"
)

const (
	invalidAccessTokenCode = 99991663
	defaultTokenTTL        = 7200 * time.Second
	tokenRefreshSkew       = 120 * time.Second
)

// tenantToken is a cached tenant-access-token lease.
type tenantToken struct {
	Value     string
	RefreshAt time.Time
}

func (t tenantToken) expired(now time.Time) bool {
	return t.Value == "" || !now.Before(t.RefreshAt)
}

// extractTokenTTLSeconds reads a token TTL out of a decoded token-endpoint
// response body. Lark's endpoint has used both `expire` and `expires_in`
// across API versions, and has represented the value as either a JSON
// number or, via some client libraries, a numeric string; this accepts any
// of those, floors at one second, and falls back to the documented default
// when the field is absent or unparsable.
func extractTokenTTLSeconds(body map[string]any) time.Duration {
	for _, key := range []string{"expire", "expires_in"} {
		if v, ok := body[key]; ok {
			if secs, ok := numberSeconds(v); ok {
				if secs < 1 {
					secs = 1
				}
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultTokenTTL
}

func numberSeconds(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		var secs int64
		if _, err := fmt.Sscanf(n, "%d", &secs); err == nil {
			return secs, true
		}
	}
	return 0, false
}

// nextTokenRefreshDeadline reserves tokenRefreshSkew off the end of the
// lease so a refresh is attempted before the token actually expires, while
// never scheduling a refresh less than one second out even for very
// short-lived tokens.
func nextTokenRefreshDeadline(now time.Time, ttl time.Duration) time.Time {
	lead := ttl - tokenRefreshSkew
	if lead < time.Second {
		lead = time.Second
	}
	return now.Add(lead)
}

// shouldRefreshTenantToken reports whether a token-authenticated call's
// response indicates the cached token is no longer valid: either an HTTP
// 401, or a 200 response whose body still carries Lark's
// invalid-access-token business code.
func shouldRefreshTenantToken(httpStatus int, bodyCode int) bool {
	return httpStatus == http.StatusUnauthorized || isInvalidAccessTokenCode(bodyCode)
}

func isInvalidAccessTokenCode(code int) bool {
	return code == invalidAccessTokenCode
}

// ensureSendSuccess turns a send response into an error unless the
// transport succeeded and the business code reports success. Lark's APIs
// use HTTP 200 with a non-zero body code to signal application errors, so
// checking the HTTP status alone is not sufficient.
func ensureSendSuccess(httpStatus int, bodyCode int, bodyMsg string) error {
	if httpStatus < 200 || httpStatus >= 300 {
		return fmt.Errorf("lark: send failed with HTTP %d: %s", httpStatus, bodyMsg)
	}
	if bodyCode != 0 {
		return fmt.Errorf("lark: send rejected with code %d: %s", bodyCode, bodyMsg)
	}
	return nil
}
