// Package metrics records generation and cache-maintenance metrics.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so nil checks never leak into the pipeline:
//
//	gen := generator.New(cfg, store, tracker, lk, src, generator.WithRecorder(rec))
//
// The daemon swaps in a PrometheusRecorder registered on its own registry and
// serves it through HTTPHandler on /metrics.
package metrics
