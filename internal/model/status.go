package model

// SubmissionStatus is the delivery state of a ledger row.
//
// submitting doubles as the execution lease: a scheduler worker owns a record
// exactly while it is in submitting, and enters it only through a conditional
// update from pending or retrying.
type SubmissionStatus string

const (
	StatusPending    SubmissionStatus = "pending"
	StatusSubmitting SubmissionStatus = "submitting"
	StatusAccepted   SubmissionStatus = "accepted"
	StatusFailed     SubmissionStatus = "failed"
	StatusRetrying   SubmissionStatus = "retrying"
	StatusDeadLetter SubmissionStatus = "dead_letter"
)

// transitions is the total state machine. No code path writes a submission
// status outside this table.
//
//	pending     -> submitting (claim), failed (operator abandon)
//	retrying    -> submitting (claim), failed (operator abandon)
//	submitting  -> accepted | failed | retrying | dead_letter (attempt outcome),
//	               pending (release after store-level auth failure)
//	dead_letter -> pending (operator requeue), failed (operator abandon)
//	accepted, failed -> terminal
var transitions = map[SubmissionStatus]map[SubmissionStatus]bool{
	StatusPending: {
		StatusSubmitting: true,
		StatusFailed:     true,
	},
	StatusRetrying: {
		StatusSubmitting: true,
		StatusFailed:     true,
	},
	StatusSubmitting: {
		StatusAccepted:   true,
		StatusFailed:     true,
		StatusRetrying:   true,
		StatusDeadLetter: true,
		StatusPending:    true,
	},
	StatusDeadLetter: {
		StatusPending: true,
		StatusFailed:  true,
	},
	StatusAccepted: {},
	StatusFailed:   {},
}

// CanTransition reports whether from -> to is a legal submission transition.
func CanTransition(from, to SubmissionStatus) bool {
	return transitions[from][to]
}

// Terminal reports whether no automatic transition leaves s. dead_letter is
// terminal for the scheduler but still admits operator requeue/abandon.
func (s SubmissionStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusFailed || s == StatusDeadLetter
}

// Valid reports whether s is a known status value.
func (s SubmissionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitting, StatusAccepted, StatusFailed, StatusRetrying, StatusDeadLetter:
		return true
	}
	return false
}
