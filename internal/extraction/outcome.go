package extraction

import (
	"github.com/Sumatoshi-tech/addongit/internal/gitstore"
)

// Outcome tags how a failed extraction is handled.
type Outcome int

// Outcomes.
const (
	// OutcomeFatal drops the queue entry and logs the failure.
	OutcomeFatal Outcome = iota
	// OutcomeRecoverable deletes the repository and requeues the add-on.
	OutcomeRecoverable
)

func (o Outcome) String() string {
	if o == OutcomeRecoverable {
		return "recoverable"
	}

	return "fatal"
}

// Classify maps an extraction error to its outcome.
func Classify(err error) Outcome {
	if gitstore.IsBrokenRef(err) {
		return OutcomeRecoverable
	}

	return OutcomeFatal
}

// StepResult is what a successful extraction step leaves behind: either the
// add-on is done or it has more versions waiting.
type StepResult interface {
	stepResult()
}

// Completed means every pending version of the add-on was committed.
type Completed struct{}

// Remaining means the batch limit was hit and AddonID needs another step.
type Remaining struct {
	AddonID int64
}

func (Completed) stepResult() {}
func (Remaining) stepResult() {}
