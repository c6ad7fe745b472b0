package model

// ProcessStatus is the lifecycle state of a Process.
type ProcessStatus string

const (
	ProcessPending    ProcessStatus = "PENDING"
	ProcessInProgress ProcessStatus = "IN_PROGRESS"
	ProcessCompleted  ProcessStatus = "COMPLETED"
	ProcessFailed     ProcessStatus = "FAILED"
	ProcessCancelled  ProcessStatus = "CANCELLED"
)

// IsFinished reports whether no further dispatch happens for the process.
func (s ProcessStatus) IsFinished() bool {
	return s == ProcessCompleted || s == ProcessFailed || s == ProcessCancelled
}

// IsTerminal reports whether s can never be left. COMPLETED may be reopened.
func (s ProcessStatus) IsTerminal() bool {
	return s == ProcessFailed || s == ProcessCancelled
}

func isValidProcessTransition(current, next ProcessStatus) bool {
	switch current {
	case ProcessPending:
		return next == ProcessInProgress || next == ProcessCompleted || next == ProcessFailed || next == ProcessCancelled
	case ProcessInProgress:
		return next == ProcessCompleted || next == ProcessFailed || next == ProcessCancelled
	}
	return false
}

// BatchStatus is the lifecycle state of a Batch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "PENDING"
	BatchInProgress BatchStatus = "IN_PROGRESS"
	BatchCompleted  BatchStatus = "COMPLETED"
	BatchPartial    BatchStatus = "PARTIAL"
	BatchFailed     BatchStatus = "FAILED"
)

// IsTerminal reports whether the batch finished, successfully or not.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchPartial || s == BatchFailed
}

func isValidBatchTransition(current, next BatchStatus) bool {
	switch current {
	case BatchPending:
		// FAILED covers a failure handler running before the batch was claimed.
		return next == BatchInProgress || next == BatchFailed
	case BatchInProgress:
		return next == BatchCompleted || next == BatchPartial || next == BatchFailed
	case BatchFailed:
		// PENDING: reset for retry. IN_PROGRESS: queue redelivery after a fatal attempt.
		return next == BatchPending || next == BatchInProgress
	}
	return false
}

// VerificationStatus is the per-record verification verdict.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationFailed   VerificationStatus = "FAILED"
)

// VerificationMode selects which records a verification run evaluates.
type VerificationMode string

const (
	// VerificationFull resets every record to PENDING and evaluates all of them.
	VerificationFull VerificationMode = "full"
	// VerificationContinue evaluates only FAILED and PENDING records.
	VerificationContinue VerificationMode = "continue"
)

// Valid reports whether m is a known mode.
func (m VerificationMode) Valid() bool {
	return m == VerificationFull || m == VerificationContinue
}
