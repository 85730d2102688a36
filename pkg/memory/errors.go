package memory

import "errors"

// Sentinel error kinds shared by all store backends. Callers classify store
// failures with errors.Is rather than inspecting driver errors.
var (
	// ErrUnavailable means the downstream store or model is not reachable.
	// Pipeline branches treat it as a degraded signal, not a fatal error.
	ErrUnavailable = errors.New("memory: store unavailable")

	// ErrOverloaded means the store throttled the request. The turn persistor
	// retries once with jitter; everywhere else it is treated as ErrUnavailable.
	ErrOverloaded = errors.New("memory: store overloaded")

	// ErrInvalid means the input or record is malformed (e.g., a partial
	// vector set). Invalid records are logged and dropped, never persisted.
	ErrInvalid = errors.New("memory: invalid record")

	// ErrTimeout means a branch-local soft timeout elapsed.
	ErrTimeout = errors.New("memory: operation timed out")
)
