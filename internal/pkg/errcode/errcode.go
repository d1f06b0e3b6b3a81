package errcode

// Codes returned in the "code" field of the JSON envelope. Zero means success.
const (
	ErrUnknown = 10000000 + iota
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrTooMany
	ErrInternal
	// ErrFetchFailed: a documentation page could not be retrieved.
	ErrFetchFailed
	// ErrAnswerFailed: generation failed; msg is safe to show the user.
	ErrAnswerFailed
	// ErrAIUnavailable: an embedding or generation backend is down or timed out.
	ErrAIUnavailable
)
