package batch

import (
	"context"

	"github.com/meridianbenefits/claimbatch/errors"
)

// Error types recorded on JobError entries
const (
	ErrorTypeProcessing = "processing"
	ErrorTypeTimeout    = "timeout"
	ErrorTypeValidation = "validation"
	ErrorTypeSystem     = "system"
)

// classifyError maps an adjudication failure to a JobError type
func classifyError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		return ErrorTypeTimeout
	case errors.IsNotFoundError(err):
		return ErrorTypeValidation
	default:
		return ErrorTypeProcessing
	}
}
