package ingestion

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedRecord matches every record-level validation failure.
var ErrMalformedRecord = errors.New("malformed record")

// MalformedRecordError describes one raw record that could not be normalized.
type MalformedRecordError struct {
	Index    int
	RecordID string
	Reason   string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %d (id %q): %s", e.Index, e.RecordID, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error {
	return ErrMalformedRecord
}

// IngestionError reports records skipped during a best-effort normalization.
// The valid records are still returned alongside it.
type IngestionError struct {
	Skipped []*MalformedRecordError
}

func (e *IngestionError) Error() string {
	reasons := make([]string, 0, len(e.Skipped))
	for _, s := range e.Skipped {
		reasons = append(reasons, s.Error())
	}
	return fmt.Sprintf("skipped %d malformed record(s): %s", len(e.Skipped), strings.Join(reasons, "; "))
}

func (e *IngestionError) Unwrap() []error {
	errs := make([]error, len(e.Skipped))
	for i, s := range e.Skipped {
		errs[i] = s
	}
	return errs
}
