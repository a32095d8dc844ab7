package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Audit events.
const (
	EventLogin        = "auth.login"
	EventRegistration = "auth.registration"
	EventAuthenticate = "auth.authenticate"
	EventLibrarian    = "access.librarian"
)

// Outcomes.
const (
	OutcomeFail        = "fail"
	OutcomeDenied      = "denied"
	OutcomeRateLimited = "rate_limited"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// AlertResult contains alert evaluation output.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter counts security events per client IP in fixed windows and
// reports when a rule's threshold is reached. A nil alerter observes nothing.
type AuditAlerter struct {
	client *redis.Client
	prefix string
}

// NewAuditAlerter creates an alerter on a shared Redis client. A nil client
// yields a nil alerter.
func NewAuditAlerter(client *redis.Client, prefix string) *AuditAlerter {
	if client == nil {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "booktrak:alerts"
	}
	return &AuditAlerter{client: client, prefix: prefix}
}

// Observe records one event and evaluates its rule.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	result := AlertResult{}
	if a == nil {
		return result, nil
	}
	threshold, window, ok := alertRule(event, outcome)
	if !ok {
		return result, nil
	}
	windowMs := window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return result, err
	}
	result.Count = count
	result.Threshold = threshold
	result.Window = window
	result.Triggered = count >= threshold
	return result, nil
}

func alertRule(event, outcome string) (threshold int64, window time.Duration, ok bool) {
	switch strings.TrimSpace(outcome) {
	case OutcomeRateLimited:
		return 20, time.Minute, true
	case OutcomeFail:
		switch strings.TrimSpace(event) {
		case EventLogin, EventRegistration:
			return 10, 5 * time.Minute, true
		case EventAuthenticate:
			return 25, 5 * time.Minute, true
		}
	case OutcomeDenied:
		if strings.TrimSpace(event) == EventLibrarian {
			return 15, 5 * time.Minute, true
		}
	}
	return 0, 0, false
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.NewReplacer(":", "_", "|", "_", " ", "_").Replace(in)
}
