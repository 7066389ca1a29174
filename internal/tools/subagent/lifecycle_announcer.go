package subagent

import (
	"time"

	"github.com/haasonsaas/mozi/internal/cache"
	"github.com/haasonsaas/mozi/internal/lifecycle"
	"github.com/haasonsaas/mozi/internal/multiagent"
)

// DeliverFunc hands a finished subagent's trigger message to whatever owns
// the requester's session (a chat adapter, a queue, a test spy). message is
// the fully-formatted text built by BuildTriggerMessage.
type DeliverFunc func(requesterSessionKey string, message string)

// LifecycleAnnouncer drives a SubagentRegistry from Lifecycle Bus events
// instead of a direct start/complete callback wired into whatever code
// spawns the child run. It watches every event for a
// SessionKey that matches a registered child run, keeps the registry's
// Start/Complete calls in sync with the child's actual execution, and
// fires a parent-facing announcement once the run reaches a terminal
// state.
type LifecycleAnnouncer struct {
	registry  *multiagent.SubagentRegistry
	deliver   DeliverFunc
	queue     *AnnounceQueue
	announced *cache.DedupeCache
}

// NewLifecycleAnnouncer constructs an announcer bound to registry. deliver
// is invoked for every terminal (completed/error/timeout) run with the
// message the parent session should see; it may be nil in tests that only
// care about registry state transitions. A run is announced at most once:
// a stray second terminal event (an error event trailing an end event, a
// re-published stream) updates the registry record but is not re-delivered.
func NewLifecycleAnnouncer(registry *multiagent.SubagentRegistry, deliver DeliverFunc) *LifecycleAnnouncer {
	return &LifecycleAnnouncer{
		registry:  registry,
		deliver:   deliver,
		announced: cache.NewDedupeCache(cache.DedupeCacheOptions{TTL: time.Hour, MaxSize: 1024}),
	}
}

// WithQueue buffers announcements in queue instead of (or alongside)
// immediate delivery: when the requester's session is mid-turn, the
// adapter drains the queue at its next idle point rather than the
// announcer pushing into a busy session.
func (a *LifecycleAnnouncer) WithQueue(queue *AnnounceQueue) *LifecycleAnnouncer {
	a.queue = queue
	return a
}

// Attach subscribes the announcer to bus and returns the Unsubscribe
// handle the caller should invoke on shutdown.
func (a *LifecycleAnnouncer) Attach(bus *lifecycle.Bus) lifecycle.Unsubscribe {
	return bus.Subscribe(a.handle)
}

func (a *LifecycleAnnouncer) handle(event lifecycle.Event) {
	if event.Stream != lifecycle.StreamLifecycle {
		return
	}
	data, ok := event.Data.(*lifecycle.LifecycleData)
	if !ok {
		return
	}

	record := a.registry.FindByChildSessionKey(event.SessionKey)
	if record == nil {
		return
	}

	switch data.Phase {
	case lifecycle.PhaseStart:
		_ = a.registry.Start(record.RunID)
	case lifecycle.PhaseEnd:
		a.complete(record, &multiagent.SubagentOutcome{Status: multiagent.SubagentStatusCompleted})
	case lifecycle.PhaseError:
		a.complete(record, &multiagent.SubagentOutcome{
			Status: multiagent.SubagentStatusError,
			Error:  data.Error,
		})
	}
}

func (a *LifecycleAnnouncer) complete(record *multiagent.SubagentRunRecord, outcome *multiagent.SubagentOutcome) {
	// A runner may have already completed the record with the child's
	// result text; its outcome wins over the event's status-only one.
	if latest := a.registry.Get(record.RunID); latest != nil && latest.IsComplete() {
		record = latest
	} else if err := a.registry.Complete(record.RunID, outcome); err != nil {
		return
	}

	if a.deliver == nil && a.queue == nil {
		return
	}
	if a.announced.Check(record.RunID) {
		return
	}

	completed := a.registry.Get(record.RunID)
	if completed == nil {
		completed = record
		completed.Outcome = outcome
	}
	message := a.buildTriggerMessage(completed)
	if a.queue != nil {
		a.queue.Enqueue(completed.RequesterSessionKey, &AnnounceQueueItem{
			Prompt:     message,
			EnqueuedAt: time.Now(),
			SessionKey: completed.RequesterSessionKey,
		}, nil)
	}
	if a.deliver != nil {
		a.deliver(completed.RequesterSessionKey, message)
	}
}

func (a *LifecycleAnnouncer) buildTriggerMessage(record *multiagent.SubagentRunRecord) string {
	runOutcome := &SubagentRunOutcome{Status: "unknown"}
	var duration time.Duration
	if record.Outcome != nil {
		switch record.Outcome.Status {
		case multiagent.SubagentStatusCompleted:
			runOutcome.Status = "ok"
		case multiagent.SubagentStatusError:
			runOutcome.Status = "error"
			runOutcome.Error = record.Outcome.Error
		case multiagent.SubagentStatusTimeout:
			runOutcome.Status = "timeout"
		}
		duration = record.Duration()
	}

	statsLine := BuildStatsLine(&StatsLine{
		Runtime:    FormatDurationShort(duration),
		SessionKey: record.ChildSessionKey,
	})

	reply := ""
	if record.Outcome != nil {
		reply = record.Outcome.Result
	}

	return BuildTriggerMessage(TriggerMessageParams{
		Label:     record.Label,
		Task:      record.Task,
		Outcome:   runOutcome,
		Reply:     reply,
		StatsLine: statsLine,
	})
}
