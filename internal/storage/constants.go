package db

import "time"

// Discovery status constants
const (
	DiscoveryStatusNew      = "new"
	DiscoveryStatusApproved = "approved"
	DiscoveryStatusRejected = "rejected"
	DiscoveryStatusSelf     = "self"
)

// Discovery source types. Mentions of a public username count as public
// links since both name the same identifier space.
const (
	DiscoverySourceForward    = "forward"
	DiscoverySourcePublicLink = "public_link"
	DiscoverySourceInviteLink = "invite_link"
)

// Event origin constants
const (
	EventOriginListener = "listener"
	EventOriginBatch    = "batch"
)

// Database connection constants
const (
	// ConnectionRetrySleep is the sleep duration between connection retries
	ConnectionRetrySleep = 2 * time.Second
	// maxConnectionRetries is the number of retries for initial connection
	maxConnectionRetries = 10
)

// Database pool default constants
const (
	defaultMaxConns          int32         = 25
	defaultMinConns          int32         = 5
	defaultMaxConnIdleTime   time.Duration = 30 * time.Minute
	defaultMaxConnLifetime   time.Duration = time.Hour
	defaultHealthCheckPeriod time.Duration = time.Minute
)
