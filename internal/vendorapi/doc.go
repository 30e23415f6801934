// Package vendorapi defines the boundary between the reconciliation core and
// each manufacturer's device management API.
//
// An Adapter lists devices as raw payloads and maintains the vendor's own
// discovery list. The core treats every call as blocking and fallible;
// retries and rate limiting belong to the adapter. A Factory turns
// manufacturer configuration into adapters, keyed by adapter kind.
package vendorapi
