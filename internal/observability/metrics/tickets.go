package metrics

import (
	"time"

	obserrors "github.com/target/sso-ticket-core/internal/observability/errors"
	"github.com/target/sso-ticket-core/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Ticket lifecycle transitions.
const (
	TransitionCreate       = "create"
	TransitionGrant        = "grant"
	TransitionValidate     = "validate"
	TransitionProxy        = "proxy"
	TransitionExpire       = "expire"
	TransitionDestroy      = "destroy"
	TransitionSweep        = "sweep"
	TransitionAuthenticate = "authenticate"
)

// TicketMetric captures details about a ticket lifecycle event for metric emission.
type TicketMetric struct {
	Kind       string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitTicketTransition emits standardised ticket lifecycle metrics.
func EmitTicketTransition(sink statsd.Sink, in TicketMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Kind != "" {
		tags["kind"] = in.Kind
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("ticket.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("ticket.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
