/*
Package metrics provides Prometheus instrumentation for the engine:
completion calls, store appends, document cache effectiveness, advance
batches, and simulation runs.

The Collector registers everything through promauto under one namespace.
Every Record method is nil-safe, so callers can treat metrics as optional
and pass a nil *Collector when observability is disabled.
*/
package metrics
