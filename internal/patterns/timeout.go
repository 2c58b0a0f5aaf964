package patterns

import "time"

// DefaultTimeout bounds outbound calls on the purchase path (token exchange,
// charge). A timeout here is surfaced to the caller as a request failure.
const DefaultTimeout = 10 * time.Second

// SinkTimeout bounds best-effort notification sinks. A timeout here is
// absorbed by the dispatcher.
const SinkTimeout = 5 * time.Second
