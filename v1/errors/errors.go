package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrStore marks a store connectivity failure: fatal to the worker
	// that hit it, never to the whole scenario run.
	ErrStore = errors.New("store unavailable")

	// ErrWorkerPanic marks a worker that died mid-attempt. The harness
	// recovers the panic and reports it through the worker's result.
	ErrWorkerPanic = errors.New("worker panic")

	// ErrHarnessTimeout is returned when a run's join barrier gives up
	// waiting on a hung worker.
	ErrHarnessTimeout = errors.New("harness join timeout")
)
