package broadcastcache

// Inspector examines an outgoing payload before it is cached. Returning false
// vetoes caching for the whole publish event. Inspectors are evaluated in
// registration order and evaluation stops at the first veto, so cheap checks
// should be registered first.
type Inspector[T any] func(payload T) bool
