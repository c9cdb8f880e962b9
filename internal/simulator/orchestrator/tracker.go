package orchestrator

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Outcome is the final verdict on one dispatched participant.
type Outcome string

const (
	OutcomeJoined   Outcome = "joined"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimedOut Outcome = "timed-out"

	// outcomePending is internal: the participant has no verdict yet.
	outcomePending Outcome = "pending"
)

// Result is one participant's line in the batch summary.
type Result struct {
	Username string
	Worker   string
	Outcome  Outcome
	Reason   string
}

// Summary aggregates a finished batch. Every materialized participant
// appears exactly once.
type Summary struct {
	Results  []Result
	Duration time.Duration
}

func (s *Summary) Count(outcome Outcome) int {
	count := 0
	for _, result := range s.Results {
		if result.Outcome == outcome {
			count++
		}
	}
	return count
}

func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch finished after %s: %d participants, %d joined, %d failed, %d timed-out\n",
		s.Duration.Round(time.Second), len(s.Results),
		s.Count(OutcomeJoined), s.Count(OutcomeFailed), s.Count(OutcomeTimedOut))
	for _, result := range s.Results {
		fmt.Fprintf(&b, "  %-20s %-10s %s", result.Username, result.Outcome, result.Worker)
		if result.Reason != "" {
			fmt.Fprintf(&b, ": %s", result.Reason)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// tracker collects outcomes as they happen. The first verdict for a
// participant wins; later ones are ignored so the summary stays
// exactly-once.
type tracker struct {
	mu      sync.Mutex
	order   []string
	results map[string]*Result
}

func newTracker(assignments []Assignment) *tracker {
	t := &tracker{results: map[string]*Result{}}
	for _, assignment := range assignments {
		username := assignment.Spec.Username
		t.order = append(t.order, username)
		t.results[username] = &Result{
			Username: username,
			Worker:   assignment.Worker,
			Outcome:  outcomePending,
		}
	}
	return t
}

func (t *tracker) record(username string, outcome Outcome, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	result, ok := t.results[username]
	if !ok || result.Outcome != outcomePending {
		return
	}
	result.Outcome = outcome
	result.Reason = reason
}

func (t *tracker) progress() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := map[Outcome]int{}
	for _, result := range t.results {
		counts[result.Outcome]++
	}
	return fmt.Sprintf("Batch progress: %d pending, %d joined, %d failed, %d timed-out",
		counts[outcomePending], counts[OutcomeJoined], counts[OutcomeFailed], counts[OutcomeTimedOut])
}

// summary finalizes the batch. Participants still pending, which can only
// happen when the batch was cut short, count as timed-out.
func (t *tracker) summary(duration time.Duration) *Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	summary := &Summary{Duration: duration}
	for _, username := range t.order {
		result := *t.results[username]
		if result.Outcome == outcomePending {
			result.Outcome = OutcomeTimedOut
			result.Reason = "the batch ended without a verdict"
		}
		summary.Results = append(summary.Results, result)
	}
	return summary
}
