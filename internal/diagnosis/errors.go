package diagnosis

import (
	"errors"
	"fmt"

	"github.com/suPer8Hu/pharmacy-platform/internal/ai"
)

var (
	ErrUnauthenticated       = errors.New("diagnosis: caller identity required")
	ErrEmptySymptoms         = errors.New("diagnosis: symptom text is empty")
	ErrAllProvidersExhausted = ai.ErrAllProvidersExhausted
	ErrUnparsableResponse    = errors.New("diagnosis: unparsable provider response")
	ErrPersistenceFailed     = errors.New("diagnosis: persistence failed")
)

const unparsablePrefixLen = 200

// UnparsableError carries the start of the provider reply for operators.
type UnparsableError struct {
	Prefix string
}

func (e *UnparsableError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnparsableResponse.Error(), e.Prefix)
}

func (e *UnparsableError) Is(target error) bool {
	return target == ErrUnparsableResponse
}

func newUnparsable(raw string) *UnparsableError {
	r := []rune(raw)
	if len(r) > unparsablePrefixLen {
		r = r[:unparsablePrefixLen]
	}
	return &UnparsableError{Prefix: string(r)}
}
