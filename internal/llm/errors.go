package llm

import "errors"

var (
	// ErrGateway wraps transport-level failures talking to the model API.
	ErrGateway = errors.New("language model gateway error")

	// ErrSchemaParse marks output that could not be parsed into its schema
	// even after the single repair attempt. Callers receive the raw text and
	// must treat it as a degraded, unstructured result.
	ErrSchemaParse = errors.New("structured output parse failure")

	// ErrStreamWithSchema rejects streaming requests for structured output.
	ErrStreamWithSchema = errors.New("streaming is only supported for plain text responses")
)
