// Package assoc maintains the pool of time-source associations from which
// clock offset estimates are derived.
package assoc

// An Association is one remote time source together with its latest
// measurement state. Implementations report measurement attempts
// asynchronously through the registered Delegate.
type Association interface {
	// Address returns the resolved network address of the time source,
	// unique within the pool.
	Address() string
	// Active reports whether the association may still contribute samples.
	// It becomes false permanently once the association is finished.
	Active() bool
	// Trusty reports whether the latest sample passed the association's
	// own validity checks.
	Trusty() bool
	// Offset is the latest estimated clock offset in seconds, local minus
	// source. Only meaningful while Trusty.
	Offset() float64
	// Dispersion is the uncertainty bound on Offset in seconds; smaller
	// is more reliable.
	Dispersion() float64
	// Enable starts the association's measurement exchanges. Results are
	// reported to d. The first exchange is staggered by a random delay.
	Enable(d Delegate)
	// Finish stops the association and detaches its delegate. It is
	// idempotent and safe to call concurrently with result delivery; no
	// delegate callback is initiated after Finish returns.
	Finish()
}

// A Delegate receives the result of each measurement attempt, successful
// or not. Callbacks may arrive on arbitrary goroutines.
type Delegate interface {
	OnAssociationResult(a Association)
}
