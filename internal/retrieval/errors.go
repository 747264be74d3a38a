package retrieval

import "errors"

// ErrRetrievalFailed indicates the backend errored or timed out. The gate
// never returns it as an error: it is reported through Result.Warning.
var ErrRetrievalFailed = errors.New("retrieval: failed")
