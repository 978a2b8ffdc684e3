package transports

import "context"

// Transport is a telephony webhook surface. Implementations own their
// network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// OutboundDialer places outbound calls that are answered by the voice webhook.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
}

// DialOptions carries optional outbound dial settings.
type DialOptions struct {
	SendDigits string
	// StatusCallback overrides the status webhook URL.
	StatusCallback string
}

type OutboundDialerWithOptions interface {
	DialWithOptions(ctx context.Context, to, from, url string, opts DialOptions) (callSID string, err error)
}

// CallController acts on a live call outside of a webhook response.
type CallController interface {
	Hangup(ctx context.Context, callSID string) error
	Redirect(ctx context.Context, callSID, url string) error
	SendDTMF(ctx context.Context, callSID, digits string) error
}

// ReadyReporter exposes readiness metadata such as webhook URLs for
// startup logging.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
