package retrieve

import "errors"

var (
	// ErrRetrievalUnavailable means a search backend failed. Hybrid search
	// surfaces this when either leg errors; there is no partial fallback.
	ErrRetrievalUnavailable = errors.New("retrieval backend unavailable")

	// ErrInvalidOperator rejects full-text operators other than AND / OR.
	ErrInvalidOperator = errors.New("invalid full-text operator")

	// ErrInvalidMode rejects unknown search modes.
	ErrInvalidMode = errors.New("invalid search mode")
)
