package reasoning

import (
	"fmt"

	"github.com/flowaudit/flowaudit/schema"
)

// Watcher is the deterministic budget controller of the reasoning loop. It
// plays the watcher role from code rather than an agent call so its
// decision table is exact and every decision is replayable from the trace.
type Watcher struct {
	maxRounds    int
	timeLimitSec int

	roundsUsed      int
	zeroRounds      int
	lastInstruction string
}

// NewWatcher initializes the budget for one task.
func NewWatcher(maxRounds, timeLimitSec int) *Watcher {
	return &Watcher{maxRounds: maxRounds, timeLimitSec: timeLimitSec}
}

// First emits the opening instruction before round one.
func (w *Watcher) First() schema.WatcherDecision {
	d := schema.WatcherDecision{
		Decision: schema.DecisionContinue,
		Reason:   "initial round",
		BudgetNext: schema.Budget{
			MaxMoreRounds: w.maxRounds,
			TimeLimitSec:  w.timeLimitSec,
		},
		WatcherInstruction: "Work through every checklist item against the code; report only high-confidence exploitable findings.",
	}
	w.lastInstruction = d.WatcherInstruction
	return d
}

// RoundReport is what the loop feeds back after each Reasoner round.
type RoundReport struct {
	// NewFindings is the count of non-duplicate descriptions this round.
	NewFindings int
	// PendingHypotheses is the number of unexplored Ideator leads.
	PendingHypotheses int
	// Failed marks an ExecError/TimeoutError round (zero progress).
	Failed bool
	// Instruction is the steering text the round actually ran with.
	Instruction string
}

// Evaluate applies the decision table after one round:
// continue when the round produced new findings and budget remains; pivot
// after two consecutive zero-progress rounds or a repeated instruction;
// stop when the budget is exhausted or nothing is pending and nothing new
// appeared.
func (w *Watcher) Evaluate(report RoundReport) schema.WatcherDecision {
	w.roundsUsed++
	remaining := w.maxRounds - w.roundsUsed

	if report.NewFindings == 0 {
		w.zeroRounds++
	} else {
		w.zeroRounds = 0
	}
	repeated := report.Instruction != "" && report.Instruction == w.lastInstruction && w.roundsUsed > 1
	w.lastInstruction = report.Instruction

	d := schema.WatcherDecision{
		BudgetNext: schema.Budget{
			MaxMoreRounds:    remaining,
			TimeLimitSec:     w.timeLimitSec,
			NoProgressRounds: w.zeroRounds,
		},
	}

	switch {
	case remaining <= 0:
		d.Decision = schema.DecisionStop
		d.Reason = "round budget exhausted"
	case w.zeroRounds >= 2:
		d.Decision = schema.DecisionPivot
		d.Reason = fmt.Sprintf("%d consecutive rounds without progress", w.zeroRounds)
		d.WatcherInstruction = "Abandon the current line of attack and probe the ideated directions below."
	case repeated && report.NewFindings == 0:
		d.Decision = schema.DecisionPivot
		d.Reason = "instruction repeated without progress"
		d.WatcherInstruction = "Abandon the current line of attack and probe the ideated directions below."
	case report.NewFindings == 0 && report.PendingHypotheses == 0:
		d.Decision = schema.DecisionStop
		d.Reason = "no new findings and no pending hypotheses"
	default:
		d.Decision = schema.DecisionContinue
		if report.NewFindings > 0 {
			d.Reason = fmt.Sprintf("%d new findings this round", report.NewFindings)
			d.WatcherInstruction = "Deepen the areas that produced findings and verify each remaining checklist item; do not restate findings already reported."
		} else {
			d.Reason = "pending hypotheses remain"
			d.WatcherInstruction = "Work the pending hypotheses: confirm or refute each with concrete code evidence."
		}
	}
	return d
}
