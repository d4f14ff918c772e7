// Package engine orchestrates a commission execution.
//
// One call to Execute runs the stages in a fixed order:
//
//	data selection -> qualifying criteria -> rule processing -> tier & credit
//
// and returns a commission.Result. Every stage writes to the execution log
// opened for the run. Failures never escape as Go errors: a failed run
// yields a Result with Status FAILED, zero total commission and no
// participant results, and the cause is recorded as an "Execution Error"
// entry.
//
// In Production mode the result is saved through the PlanStore exactly
// once and the plan is marked executed. Simulate mode never writes.
//
// The saved result carries the log as it stood when it was saved: its
// LogSummary and participant Logs stop before the Persistence entries and
// the log's terminal status. The returned Result and the execution log
// (Engine.ExecutionLog, or the archive once finished) hold the complete
// record.
package engine
