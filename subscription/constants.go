package subscription

import "time"

// Default configuration values for Listener.
const (
	// DefaultBatchSize is the default number of messages buffered per pull request.
	DefaultBatchSize = 16

	// DefaultMaxWaiting is the default maximum number of outstanding pull requests.
	DefaultMaxWaiting = 512

	// DefaultFetchTimeout is the default pull request expiry.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of consumer creation retries.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the default wait between consumer creation retries
	// and between iterator restarts.
	DefaultRetryBackoff = 100 * time.Millisecond

	// DefaultAckWait is the default time the server waits for an ack before redelivery.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxDeliver is the default maximum number of deliveries per message.
	DefaultMaxDeliver = 20

	// DefaultInactiveThreshold is the default inactive consumer cleanup threshold.
	DefaultInactiveThreshold = 24 * time.Hour

	// DefaultNakBaseDelay is the redelivery delay after the first transient failure.
	DefaultNakBaseDelay = 200 * time.Millisecond

	// DefaultNakMaxDelay caps the redelivery delay.
	DefaultNakMaxDelay = 30 * time.Second

	// DefaultNakMultiplier is the growth factor of the redelivery delay.
	DefaultNakMultiplier = 2.0
)
