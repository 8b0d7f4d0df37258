package config

import "time"

// DefaultSyncInterval is the interval at which the daemon re-runs a full
// synchronization cycle when the configuration does not specify one.
const DefaultSyncInterval = 10 * time.Minute

// DefaultMetricsAddr is the address the Prometheus endpoint binds to when
// the configuration does not specify one.
const DefaultMetricsAddr = "127.0.0.1:8080"

// DefaultFallbackStoreFile holds the last-known-good offset between runs.
const DefaultFallbackStoreFile = "netclock-offset.toml"
