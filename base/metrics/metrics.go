package metrics

const (
	SyncCyclesStartedH = "The total number of synchronization cycles started"
	SyncCyclesStartedN = "netclock_sync_cycles_started"
	SyncCompletionsH   = "The total number of synchronization cycles that reached a trusted sample"
	SyncCompletionsN   = "netclock_sync_completions"
	SyncSynchronizedH  = "Whether a trusted sample has arrived in the current cycle (0 or 1)"
	SyncSynchronizedN  = "netclock_sync_synchronized"
	SyncOffsetH        = "The current estimated clock offset in seconds"
	SyncOffsetN        = "netclock_sync_offset_seconds"

	AssocTotalH   = "The current number of associations in the pool"
	AssocTotalN   = "netclock_assoc_total"
	AssocTrustedH = "The number of trusted associations used by the last estimate"
	AssocTrustedN = "netclock_assoc_trusted"
	AssocEvictedH = "The total number of untrusted associations evicted from the pool"
	AssocEvictedN = "netclock_assoc_evicted"
)
