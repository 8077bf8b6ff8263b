package analysis

import (
	"context"
	"errors"

	"github.com/manash/zenspace/internal/contract"
	"github.com/manash/zenspace/internal/provider"
	"github.com/manash/zenspace/pkg/models"
)

var (
	ErrValidation        = errors.New("both the North and South wall photos are required")
	ErrCredential        = errors.New("an API key is required")
	ErrContractViolation = contract.ErrContractViolation
	ErrNoImageProduced   = provider.ErrNoImageProduced
	ErrServiceFailure    = errors.New("the generative service failed")

	ErrBusy           = errors.New("an analysis is already running")
	ErrWrongPhase     = errors.New("operation not allowed in the current phase")
	ErrEditInProgress = errors.New("an edit is already running for this wall")
	ErrCancelled      = errors.New("the run was reset")
)

// Failure is an external-call failure translated for the user. Error
// returns the user-facing message; Unwrap yields only the kind, so raw
// transport errors never reach the presentation.
type Failure struct {
	Kind  error
	Op    models.Operation
	cause error
}

func (f *Failure) Error() string {
	switch f.Kind {
	case ErrCredential:
		return "The API key is missing or was rejected. Enter a valid key to continue."
	case ErrContractViolation:
		return "The service returned an incomplete report. Please try again."
	case ErrNoImageProduced:
		if f.Op == models.OperationEdit {
			return "No edited image was produced. Please try another instruction."
		}
		return "No aerial map was produced. Please try again."
	}
	if f.Op == models.OperationEdit {
		return "The edit could not be applied. Please try again."
	}
	return "Analysis failed. Please try again."
}

func (f *Failure) Unwrap() error {
	return f.Kind
}

// Cause is the underlying error, for logs only.
func (f *Failure) Cause() error {
	return f.cause
}

func newFailure(op models.Operation, err error) *Failure {
	return &Failure{Kind: classify(err), Op: op, cause: err}
}

func classify(err error) error {
	switch {
	case provider.IsCredentialError(err):
		return ErrCredential
	case errors.Is(err, contract.ErrContractViolation):
		return ErrContractViolation
	case errors.Is(err, provider.ErrNoImageProduced):
		return ErrNoImageProduced
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	default:
		return ErrServiceFailure
	}
}
