package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Per-IP limits on the unauthenticated pairing endpoints, per minute.
// Check is higher because the desktop client polls every few seconds.
const (
	PairingRequestLimitPerMin = 10
	PairingCheckLimitPerMin   = 30
	DeviceClaimLimitPerMin    = 10
)

// Default rate limiting for authenticated accounts
const DefaultRateLimitPerMin = 60

// Device quota and pricing defaults. Every plan starts at BaseMaxDevices;
// upgrades add one device slot at a time.
const (
	BaseMaxDevices = 2
)

// A device that has not heartbeated for this long is shown offline.
const DeviceOfflineAfter = 3 * time.Minute

// Expired and consumed pairing tokens are kept readable this long before
// the cleanup job removes them: expired polls must keep answering expired,
// confirmed polls must stay idempotent, and a paired device may retry a
// token past expiry. Must exceed the claim replay window.
const TokenRetention = 48 * time.Hour

// Acknowledged commands are history, not queue; prune them after a week.
const AckedCommandRetention = 7 * 24 * time.Hour
