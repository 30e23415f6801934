// Package metrics exposes sync and discovery metrics to Prometheus.
//
// Collectors live on a private registry so tests and multiple instances
// never collide with the global one. Serve publishes the registry over
// HTTP on the configured listen address.
//
//	m := metrics.New()
//	m.ObserveSync(metrics.SyncResult{Manufacturer: "acme", Created: 3})
//	srv, err := metrics.Serve(ctx, cfg.Metrics, m)
package metrics
