package ticket

import "time"

// PolicyKind tags an ExpirationPolicy variant for persistence.
type PolicyKind string

const (
	PolicyNeverExpires           PolicyKind = "never_expires"
	PolicyHardTimeout            PolicyKind = "hard_timeout"
	PolicyTimeout                PolicyKind = "timeout"
	PolicyMultiTimeUseOrTimeout  PolicyKind = "multi_time_use_or_timeout"
	PolicyGrantingTicket         PolicyKind = "granting_ticket"
	PolicyThrottledUseAndTimeout PolicyKind = "throttled_use_and_timeout"
)

// ExpirationPolicy decides whether a ticket is expired. Implementations hold only
// thresholds, so one value can be shared by any number of tickets and nodes.
type ExpirationPolicy interface {
	Kind() PolicyKind
	IsExpired(u Usage, now time.Time) bool
	// Deadline is the latest instant a ticket in state u could still be valid,
	// or the zero time when the policy never expires it. Registries use it as a TTL.
	Deadline(u Usage) time.Time
}

func reached(now, deadline time.Time) bool { return !now.Before(deadline) }

// NeverExpiresPolicy never expires a ticket.
type NeverExpiresPolicy struct{}

func (NeverExpiresPolicy) Kind() PolicyKind                { return PolicyNeverExpires }
func (NeverExpiresPolicy) IsExpired(Usage, time.Time) bool { return false }
func (NeverExpiresPolicy) Deadline(Usage) time.Time        { return time.Time{} }

// HardTimeoutPolicy expires a ticket a fixed duration after creation regardless of use.
type HardTimeoutPolicy struct {
	TTL time.Duration `json:"ttl"`
}

func (p HardTimeoutPolicy) Kind() PolicyKind { return PolicyHardTimeout }

func (p HardTimeoutPolicy) IsExpired(u Usage, now time.Time) bool { return reached(now, p.Deadline(u)) }

func (p HardTimeoutPolicy) Deadline(u Usage) time.Time { return u.CreatedAt.Add(p.TTL) }

// TimeoutPolicy expires a ticket after Idle without use.
type TimeoutPolicy struct {
	Idle time.Duration `json:"idle"`
}

func (p TimeoutPolicy) Kind() PolicyKind { return PolicyTimeout }

func (p TimeoutPolicy) IsExpired(u Usage, now time.Time) bool { return reached(now, p.Deadline(u)) }

func (p TimeoutPolicy) Deadline(u Usage) time.Time { return u.LastUsedAt.Add(p.Idle) }

// MultiTimeUseOrTimeoutPolicy expires a ticket once it has been used Uses times or
// TTL has passed since it was last used. Service tickets default to one use.
type MultiTimeUseOrTimeoutPolicy struct {
	Uses int           `json:"uses"`
	TTL  time.Duration `json:"ttl"`
}

func (p MultiTimeUseOrTimeoutPolicy) Kind() PolicyKind { return PolicyMultiTimeUseOrTimeout }

func (p MultiTimeUseOrTimeoutPolicy) IsExpired(u Usage, now time.Time) bool {
	return u.CountOfUses >= p.Uses || reached(now, p.Deadline(u))
}

func (p MultiTimeUseOrTimeoutPolicy) Deadline(u Usage) time.Time { return u.LastUsedAt.Add(p.TTL) }

// GrantingTicketPolicy bounds a login session by an absolute Lifetime and an Idle timeout.
type GrantingTicketPolicy struct {
	Lifetime time.Duration `json:"lifetime"`
	Idle     time.Duration `json:"idle"`
}

func (p GrantingTicketPolicy) Kind() PolicyKind { return PolicyGrantingTicket }

func (p GrantingTicketPolicy) IsExpired(u Usage, now time.Time) bool { return reached(now, p.Deadline(u)) }

func (p GrantingTicketPolicy) Deadline(u Usage) time.Time {
	hard := u.CreatedAt.Add(p.Lifetime)
	idle := u.LastUsedAt.Add(p.Idle)
	if idle.Before(hard) {
		return idle
	}
	return hard
}

// ThrottledUseAndTimeoutPolicy expires a ticket after Idle without use and also treats it
// as expired while less than Throttle has passed since its last use.
type ThrottledUseAndTimeoutPolicy struct {
	Idle     time.Duration `json:"idle"`
	Throttle time.Duration `json:"throttle"`
}

func (p ThrottledUseAndTimeoutPolicy) Kind() PolicyKind { return PolicyThrottledUseAndTimeout }

func (p ThrottledUseAndTimeoutPolicy) IsExpired(u Usage, now time.Time) bool {
	sinceUse := now.Sub(u.LastUsedAt)
	if sinceUse >= p.Idle {
		return true
	}
	if u.CountOfUses == 0 {
		return false
	}
	return sinceUse <= p.Throttle
}

func (p ThrottledUseAndTimeoutPolicy) Deadline(u Usage) time.Time { return u.LastUsedAt.Add(p.Idle) }
