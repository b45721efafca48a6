package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSyncInfrastructure marks batch-fatal failures: the transaction could
	// not be started or committed and no partial counts are trustworthy.
	ErrSyncInfrastructure = errors.New("sync infrastructure failure")

	// ErrNoRecords is returned when a sync is attempted with zero records.
	ErrNoRecords = errors.New("no records to sync")
)

// ValidationError rejects a batch before any write. It carries every problem
// found in the input so a caller fixing a large file sees all defects at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "validation failed: " + e.Problems[0]
	}
	return fmt.Sprintf("validation failed (%d problems): %s",
		len(e.Problems), strings.Join(e.Problems, "; "))
}

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
