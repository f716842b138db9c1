package reconcile

import (
	"errors"

	"cardispatch/internal"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the full row_status state machine. EXPORTED and CANCELLED
// are terminal. Ingestion never drives these; only operators and the export
// submitter do.
var transitions = map[internal.RowStatus][]internal.RowStatus{
	internal.StatusNew:   {internal.StatusReady, internal.StatusHold, internal.StatusCancelled},
	internal.StatusReady: {internal.StatusExported, internal.StatusError, internal.StatusHold, internal.StatusCancelled},
	internal.StatusError: {internal.StatusRetry, internal.StatusHold, internal.StatusCancelled},
	internal.StatusRetry: {internal.StatusExported, internal.StatusError, internal.StatusHold},
	internal.StatusHold:  {internal.StatusReady, internal.StatusCancelled},
}

func CanTransition(from, to internal.RowStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
