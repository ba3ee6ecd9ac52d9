// Package cache provides the bounded, expiring cache behind the credential
// broker.
//
// MemoryCache is an LRU with per-entry expiry, DelegationKeyer derives keys
// that never contain the credential they index, and Loader coalesces
// concurrent misses so one key triggers at most one upstream load at a time.
package cache
