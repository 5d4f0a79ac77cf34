package domain

// WorkerState is the lifecycle state of one worker process
type WorkerState string

// Worker state constants
const (
	WorkerStarting WorkerState = "STARTING"
	WorkerRunning  WorkerState = "RUNNING"
	WorkerStopping WorkerState = "STOPPING"
	WorkerStopped  WorkerState = "STOPPED"
	WorkerFailed   WorkerState = "FAILED"
)

// Terminal reports whether no further transition can happen
func (s WorkerState) Terminal() bool {
	return s == WorkerStopped || s == WorkerFailed
}

// Worker outcome constants, recorded once a worker process has exited
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeFailed    = "failed"
	OutcomeKilled    = "killed"
)

// Worker process exit codes
const (
	ExitOK            = 0
	ExitPipelineError = 1
	ExitInvalidJob    = 2
	ExitCreateFailed  = 3
)
