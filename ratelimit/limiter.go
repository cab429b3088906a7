package ratelimit

import (
	"crypto/subtle"
	"math"
	"net/http"
	"strings"
	"time"
)

// UnknownClientKey is shared by every request whose client cannot be identified.
const UnknownClientKey = "unknown"

// KeyFunc derives a client key from a request.
type KeyFunc func(r *http.Request) string

// SkipFunc reports whether a request bypasses limiting.
type SkipFunc func(r *http.Request) bool

// Policy is the immutable limiting configuration for one endpoint class.
type Policy struct {
	Name        string
	Window      time.Duration
	MaxRequests int
	KeyFunc     KeyFunc
	Skip        SkipFunc
	Message     string
}

// Decision is the outcome of one check.
type Decision struct {
	Allowed bool
	Limit   int
	// Remaining is the number of requests left in the current window.
	Remaining int
	ResetAt   time.Time
	// RetryAfter is set on denials, in whole seconds.
	RetryAfter int
	// Skipped is true when the policy's skip predicate exempted the request.
	Skipped bool
}

// Limiter applies policies against a shared WindowStore.
type Limiter struct {
	store *WindowStore
	now   func() time.Time
}

// NewLimiter creates a limiter over store. Pass nil for time.Now.
func NewLimiter(store *WindowStore, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{store: store, now: now}
}

// Check decides whether r may proceed under p. It never fails: requests whose
// key cannot be derived are counted against UnknownClientKey.
func (l *Limiter) Check(r *http.Request, p Policy) Decision {
	if p.Skip != nil && p.Skip(r) {
		return Decision{Allowed: true, Limit: p.MaxRequests, Remaining: p.MaxRequests, Skipped: true}
	}

	now := l.now()
	entry, allowed := l.store.Hit(storeKey(r, p), now, p.Window, p.MaxRequests)

	d := Decision{
		Allowed:   allowed,
		Limit:     p.MaxRequests,
		Remaining: max(p.MaxRequests-entry.Count, 0),
		ResetAt:   entry.ResetAt,
	}
	if !allowed {
		d.RetryAfter = retryAfterSeconds(entry.ResetAt.Sub(now))
	}
	return d
}

// Peek reports what the next Check would decide without counting r.
func (l *Limiter) Peek(r *http.Request, p Policy) Decision {
	if p.Skip != nil && p.Skip(r) {
		return Decision{Allowed: true, Limit: p.MaxRequests, Remaining: p.MaxRequests, Skipped: true}
	}

	now := l.now()
	entry, ok := l.store.Get(storeKey(r, p))
	if !ok || entry.Expired(now) {
		return Decision{Allowed: true, Limit: p.MaxRequests, Remaining: p.MaxRequests, ResetAt: now.Add(p.Window)}
	}

	d := Decision{
		Allowed:   entry.Count < p.MaxRequests,
		Limit:     p.MaxRequests,
		Remaining: max(p.MaxRequests-entry.Count, 0),
		ResetAt:   entry.ResetAt,
	}
	if !d.Allowed {
		d.RetryAfter = retryAfterSeconds(entry.ResetAt.Sub(now))
	}
	return d
}

// storeKey namespaces the client key by policy so policies never share counters.
func storeKey(r *http.Request, p Policy) string {
	key := UnknownClientKey
	if p.KeyFunc != nil {
		if k := strings.TrimSpace(p.KeyFunc(r)); k != "" {
			key = k
		}
	}
	return p.Name + ":" + key
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// ClientAddressKey identifies a client by the first X-Forwarded-For hop, then
// X-Real-IP. Requests with neither header share UnknownClientKey.
func ClientAddressKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return UnknownClientKey
}

// InternalTokenHeader carries the bypass token for trusted internal callers.
const InternalTokenHeader = "X-Internal-Token"

// BypassToken exempts requests presenting token in X-Internal-Token. An empty
// token disables the bypass.
func BypassToken(token string) SkipFunc {
	if token == "" {
		return nil
	}
	return func(r *http.Request) bool {
		return subtle.ConstantTimeCompare([]byte(r.Header.Get(InternalTokenHeader)), []byte(token)) == 1
	}
}
