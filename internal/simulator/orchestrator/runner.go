package orchestrator

import (
	"context"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/pkg/api"
)

const (
	// DefaultDialAttempts bounds how often dispatch to an unreachable
	// worker is retried before the participant is marked failed.
	DefaultDialAttempts = 3
	DefaultDialBackoff  = 2 * time.Second

	// DefaultJoinWait bounds how long a dispatched participant may take to
	// reach the active stage.
	DefaultJoinWait = 2 * time.Minute

	summaryInterval = 5 * time.Second
)

// Session is one dispatched participant's connection to its worker.
// *client.Session is the production implementation.
type Session interface {
	Send(cmd api.Command) error
	Updates() <-chan api.WorkerResponse
	Done() <-chan struct{}
	Close() error
}

// Dialer opens worker sessions.
type Dialer interface {
	Dial(ctx context.Context, workerUrl string, spec api.ParticipantSpec) (Session, error)
}

// Runner realizes a batch: it validates the specification, fans the
// participants out across the workers with their configured delays, tracks
// every outcome and renders the batch summary. A single participant
// failing never aborts the batch.
type Runner struct {
	dialer Dialer

	DialAttempts uint
	DialBackoff  time.Duration
	JoinWait     time.Duration
}

func NewRunner(dialer Dialer) *Runner {
	return &Runner{
		dialer:       dialer,
		DialAttempts: DefaultDialAttempts,
		DialBackoff:  DefaultDialBackoff,
		JoinWait:     DefaultJoinWait,
	}
}

// Run validates and executes the batch. The returned summary contains every
// materialized participant exactly once. Run only fails as a whole on an
// invalid specification; everything after validation is recorded
// per-participant. Cancelling ctx closes all dispatched participants and
// still produces a summary.
func (r *Runner) Run(ctx context.Context, batch *Batch) (*Summary, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	assignments := batch.Materialize()

	batchCtx := ctx
	var cancel context.CancelFunc
	batchTimeout := time.Duration(batch.TimeoutSeconds) * time.Second
	if batchTimeout > 0 {
		batchCtx, cancel = context.WithTimeout(ctx, batchTimeout)
		defer cancel()
	}

	runId := uuid.NewString()
	log.Infof("Dispatching batch %s: %d participants across %d workers", runId, len(assignments), len(batch.Workers))
	started := time.Now()
	tracker := newTracker(assignments)

	// Sessions are held open until dispatch has completed everywhere and
	// the configured run time has elapsed on top.
	dispatched := &sync.WaitGroup{}
	dispatched.Add(len(assignments))
	holdDone := make(chan struct{})
	go func() {
		dispatched.Wait()
		if batch.RunSeconds > 0 {
			select {
			case <-time.After(time.Duration(batch.RunSeconds) * time.Second):
			case <-batchCtx.Done():
			}
		}
		close(holdDone)
	}()

	ticker := time.NewTicker(summaryInterval)
	tickerDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				log.Info(tracker.progress())
			case <-tickerDone:
				return
			}
		}
	}()

	wg := &sync.WaitGroup{}
	for _, assignment := range assignments {
		assignment := assignment
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runParticipant(batchCtx, assignment, batchTimeout, tracker, dispatched, holdDone)
		}()
	}
	wg.Wait()

	ticker.Stop()
	close(tickerDone)

	summary := tracker.summary(time.Since(started))
	log.Infof("Batch %s done\n%s", runId, summary.String())
	return summary, nil
}

// runParticipant drives one assignment from its join delay to its recorded
// outcome, then holds the session open until the batch winds down.
func (r *Runner) runParticipant(
	ctx context.Context,
	assignment Assignment,
	batchTimeout time.Duration,
	tracker *tracker,
	dispatched *sync.WaitGroup,
	holdDone <-chan struct{},
) {
	username := assignment.Spec.Username

	// A delay beyond the batch timeout can never produce a join; it is an
	// immediate timeout rather than a silently clamped wait.
	if batchTimeout > 0 && assignment.Delay > batchTimeout {
		dispatched.Done()
		tracker.record(username, OutcomeTimedOut, "join delay exceeds the batch timeout")
		return
	}

	// Delays are relative to batch start, so a slow worker does not skew
	// siblings dispatched elsewhere.
	if assignment.Delay > 0 {
		timer := time.NewTimer(assignment.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			dispatched.Done()
			tracker.record(username, OutcomeTimedOut, "batch ended before the join delay elapsed")
			return
		}
	}

	session, err := r.dial(ctx, assignment)
	dispatched.Done()
	if err != nil {
		tracker.record(username, OutcomeFailed, err.Error())
		return
	}
	defer session.Close()

	if err := session.Send(api.Command{Kind: api.CommandJoin}); err != nil {
		tracker.record(username, OutcomeFailed, err.Error())
		return
	}

	outcome, reason := r.awaitJoin(ctx, session)
	tracker.record(username, outcome, reason)
	if outcome != OutcomeJoined {
		return
	}

	// Hold the participant in the session, then leave gracefully.
	select {
	case <-holdDone:
	case <-ctx.Done():
	case <-session.Done():
		return
	}
	if err := session.Send(api.Command{Kind: api.CommandClose}); err == nil {
		select {
		case <-session.Done():
		case <-time.After(30 * time.Second):
		}
	}
}

// dial opens the worker session, retrying a bounded number of times with
// backoff when the worker cannot be reached.
func (r *Runner) dial(ctx context.Context, assignment Assignment) (Session, error) {
	var session Session
	err := retry.Do(
		func() error {
			var err error
			session, err = r.dialer.Dial(ctx, assignment.Worker, assignment.Spec)
			return err
		},
		retry.Attempts(r.DialAttempts),
		retry.Delay(r.DialBackoff),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf("Dispatch of %s to %s failed (attempt %d): %v",
				assignment.Spec.Username, assignment.Worker, n+1, err)
		}),
		retry.RetryIf(func(err error) bool {
			var unreachable *simerrors.ErrUnreachable
			return errors.As(err, &unreachable) && ctx.Err() == nil
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// awaitJoin watches the session until the participant is active or
// terminally failed, bounded by the join wait.
func (r *Runner) awaitJoin(ctx context.Context, session Session) (Outcome, string) {
	timer := time.NewTimer(r.JoinWait)
	defer timer.Stop()

	for {
		select {
		case update, ok := <-session.Updates():
			if !ok {
				return OutcomeFailed, "the worker connection ended before the participant joined"
			}
			if update.Error != "" {
				return OutcomeFailed, update.Error
			}
			if update.State == nil {
				continue
			}
			switch update.State.Stage {
			case api.StageActive:
				return OutcomeJoined, ""
			case api.StageFailed:
				return OutcomeFailed, update.State.FailureReason
			case api.StageClosed:
				return OutcomeFailed, "the participant was closed before it joined"
			}
		case <-timer.C:
			return OutcomeTimedOut, "the participant did not become active within the join wait"
		case <-ctx.Done():
			return OutcomeTimedOut, "the batch ended before the participant joined"
		}
	}
}
