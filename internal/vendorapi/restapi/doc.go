// Package restapi is a generic JSON-over-HTTP vendor adapter.
//
// Most RF management platforms expose a device list, a discovery list and
// a health check over REST. The paths differ per vendor and are configured
// per manufacturer; the adapter handles the bearer token, per-call timeout,
// client-side rate limiting and exponential-backoff retries of transport
// errors, 429 and 5xx responses.
//
// Accepted response shapes:
//
//	GET  devices          [{...}, ...] or {"devices"|"items"|"data": [{...}]}
//	GET  discovery        ["10.0.0.1", ...] or [{"ip": "10.0.0.1"}] or {"ips"|"items"|"data": [...]}
//	POST discovery        {"ip": "10.0.0.1"}; 409 means already present
//	DELETE discovery/{ip} 404 means not present
//	GET  health           any 2xx is healthy
package restapi
