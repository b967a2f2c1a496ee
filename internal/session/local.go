package session

import "github.com/eclipse-zenoh/zenoh-pico-sub002/internal/transport"

// Options configures session-wide behavior that does not belong to any
// single declaration (spec.md §4.5, §6 feature flags).
type Options struct {
	// LocalSubscriberLoopback mirrors Z_FEATURE_LOCAL_SUBSCRIBER: when
	// set, a local Put is also dispatched to locally declared
	// subscribers whose keyexpr includes it, without going over the
	// wire (spec.md §4.5 "Subscriber dispatch").
	LocalSubscriberLoopback bool

	// Logger receives connectivity and dispatch-error events (peer
	// attach/loss, unresolvable resource ids). Defaults to a no-op if
	// nil, the same convention
	// internal/transport's own Config.Logger uses.
	Logger transport.Logger
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

func (o Options) logger() transport.Logger {
	if o.Logger == nil {
		return noopLogger{}
	}
	return o.Logger
}
