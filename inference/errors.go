package inference

import "errors"

// ErrBackendUnavailable indicates the serving backend could not be
// reached or returned a server-side failure. Callers treat it as a
// per-sample error, not a fatal one.
var ErrBackendUnavailable = errors.New("inference backend unavailable")
