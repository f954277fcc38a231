package storage

// Sink receives the ordered output fragments of session operations.
// YieldBuffer must not retain b after it returns.
type Sink interface {
	YieldString(s string)
	YieldBuffer(b []byte)
	YieldError(text string)
}
