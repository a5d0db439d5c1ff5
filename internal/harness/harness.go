package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/trainflow/internal/catalog"
	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/ident"
	"github.com/roach88/trainflow/internal/offline"
	"github.com/roach88/trainflow/internal/service"
	"github.com/roach88/trainflow/internal/store"
	"github.com/roach88/trainflow/internal/testutil"
)

// Harness executes scenario steps against a real service stack.
type Harness struct {
	store   *store.Store
	monitor *offline.Monitor
	queue   *offline.Queue
	svc     *service.Service
	logger  *slog.Logger

	mu     sync.Mutex
	losses []offline.Loss
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a stepping clock
// and sequential ids, so two runs of the same scenario produce the same
// trace. Steps whose outcome differs from Expect are recorded as errors;
// execution continues so the trace shows the whole run.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	h, err := newHarness(ctx)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	result := NewResult()
	for i, step := range scenario.Flow {
		ev := h.execute(ctx, i+1, step)
		result.record(ev)
		if want := expected(step); ev.Outcome != want {
			result.AddError(fmt.Sprintf("flow[%d] %s: expected %s, got %s", i, step.Op, want, ev.Outcome))
		}
		for _, lost := range h.takeLosses() {
			result.record(lost)
		}
	}

	actx := &AssertionContext{Store: h.store, Queue: h.queue, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context) (*Harness, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	h := &Harness{
		store:   st,
		monitor: offline.NewMonitor(true),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	clk := testutil.NewSteppingClock(testutil.Epoch, time.Second)

	q, err := offline.Open(ctx, offline.Options{
		Network: h.monitor,
		Journal: st,
		Clock:   clk,
		IDs:     ident.NewSequence("action"),
		Logger:  h.logger,
		OnLoss:  h.lose,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}

	svc, err := service.New(service.Config{
		Store:   store.NewGated(st, h.monitor),
		Queue:   q,
		Network: h.monitor,
		Catalog: catalog.MustLoad(),
		Clock:   clk,
		IDs:     ident.NewSequence("id"),
		Logger:  h.logger,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build service: %w", err)
	}

	h.queue = q
	h.svc = svc
	return h, nil
}

func (h *Harness) lose(l offline.Loss) {
	h.mu.Lock()
	h.losses = append(h.losses, l)
	h.mu.Unlock()
}

// takeLosses converts losses reported since the last call into trace events.
func (h *Harness) takeLosses() []TraceEvent {
	h.mu.Lock()
	losses := h.losses
	h.losses = nil
	h.mu.Unlock()

	out := make([]TraceEvent, 0, len(losses))
	for _, l := range losses {
		outcome := string(domain.KindOf(l.Err))
		if outcome == "" {
			outcome = string(l.Reason)
		}
		out = append(out, TraceEvent{
			Op:      "lost",
			Outcome: outcome,
			Result: map[string]any{
				"action": l.Action.ID,
				"type":   string(l.Action.Type),
				"reason": string(l.Reason),
			},
		})
	}
	return out
}

func expected(step Step) string {
	if step.Expect == "" {
		return OutcomeOK
	}
	return step.Expect
}

// execute runs one step and reports it as a trace event.
func (h *Harness) execute(ctx context.Context, n int, step Step) TraceEvent {
	ev := TraceEvent{Step: n, Op: step.Op}
	actor := domain.Actor{UserID: step.As, Role: domain.Role(step.Role)}
	if step.Role != "" {
		ev.Actor = step.As + "/" + step.Role
	}
	args := argMap(step.Args)

	res, queued, err := h.dispatch(ctx, step.Op, actor, args)
	ev.Result = res
	switch {
	case err != nil:
		ev.Outcome = string(domain.KindOf(err))
		if ev.Outcome == "" {
			ev.Outcome = OutcomeError
		}
		h.logger.Debug("step failed", "step", n, "op", step.Op, "error", err)
	case queued:
		ev.Outcome = OutcomeQueued
	default:
		ev.Outcome = OutcomeOK
	}
	return ev
}

func (h *Harness) dispatch(ctx context.Context, op string, actor domain.Actor, args argMap) (map[string]any, bool, error) {
	switch op {
	case OpCreateRequest:
		return h.createRequest(ctx, actor, args)
	case OpEditRequest:
		return h.editRequest(ctx, actor, args)
	case OpTransition:
		res, err := h.svc.SubmitTransition(ctx, args.str("id"), domain.Status(args.str("to")), actor, args.str("comment"))
		return requestSummary(res.Value), res.Queued, err
	case OpApply:
		res, err := h.svc.ApplyAsTrainer(ctx, args.str("request"), actor.UserID, args.str("message"))
		return applicationSummary(res.Value), res.Queued, err
	case OpSelect:
		sel, err := h.svc.SelectTrainer(ctx, args.str("request"), args.str("trainer"), actor)
		if err != nil {
			return nil, false, err
		}
		out := requestSummary(sel.Request)
		out["rejected"] = len(sel.Rejected)
		return out, false, nil
	case OpReject:
		res, err := h.svc.RejectApplication(ctx, args.str("application"), actor)
		return applicationSummary(res.Value), res.Queued, err
	case OpProfile:
		res, err := h.svc.UpdateProfile(ctx, actor, domain.TrainerProfile{
			ID:              actor.UserID,
			DisplayName:     args.str("name"),
			Specializations: domain.NewSpecSet(args.strs("specializations")...),
		})
		if err != nil {
			return nil, false, err
		}
		return map[string]any{"id": res.Value.ID}, res.Queued, nil
	case OpScheduleEvent:
		return h.scheduleEvent(ctx, actor, args)
	case OpCheckConflict:
		proposal, err := args.proposal()
		if err != nil {
			return nil, false, err
		}
		report, err := h.svc.Conflicts(ctx, proposal)
		if err != nil {
			return nil, false, err
		}
		return reportSummary(report), false, nil
	case OpSendMessage:
		res, err := h.svc.SendMessage(ctx, actor, args.str("channel"), args.str("body"))
		if err != nil {
			return nil, false, err
		}
		return map[string]any{"channel": res.Value.ChannelID}, res.Queued, nil
	case OpOffline:
		h.monitor.Set(false)
		return nil, false, nil
	case OpOnline:
		h.monitor.Set(true)
		return nil, false, nil
	case OpDrain:
		res := h.svc.Drain(ctx)
		return map[string]any{
			"succeeded": res.Succeeded,
			"retained":  res.Retained,
			"dropped":   res.Dropped,
		}, false, nil
	}
	return nil, false, fmt.Errorf("unknown op %q", op)
}

func (h *Harness) createRequest(ctx context.Context, actor domain.Actor, args argMap) (map[string]any, bool, error) {
	date, err := args.time("date")
	if err != nil {
		return nil, false, err
	}
	res, err := h.svc.CreateRequest(ctx, actor, domain.TrainingRequest{
		ID:              args.str("id"),
		Title:           args.str("title"),
		Description:     args.str("description"),
		Specialization:  args.str("specialization"),
		Province:        args.str("province"),
		RequestedDate:   date,
		DurationHours:   args.int("hours"),
		MaxParticipants: args.int("max"),
	})
	return requestSummary(res.Value), res.Queued, err
}

func (h *Harness) editRequest(ctx context.Context, actor domain.Actor, args argMap) (map[string]any, bool, error) {
	var patch domain.ContentPatch
	if args.has("title") {
		v := args.str("title")
		patch.Title = &v
	}
	if args.has("description") {
		v := args.str("description")
		patch.Description = &v
	}
	if args.has("specialization") {
		v := args.str("specialization")
		patch.Specialization = &v
	}
	if args.has("province") {
		v := args.str("province")
		patch.Province = &v
	}
	if args.has("date") {
		v, err := args.time("date")
		if err != nil {
			return nil, false, err
		}
		patch.RequestedDate = &v
	}
	if args.has("hours") {
		v := args.int("hours")
		patch.DurationHours = &v
	}
	if args.has("max") {
		v := args.int("max")
		patch.MaxParticipants = &v
	}
	res, err := h.svc.EditRequest(ctx, args.str("id"), actor, patch)
	return requestSummary(res.Value), res.Queued, err
}

func (h *Harness) scheduleEvent(ctx context.Context, actor domain.Actor, args argMap) (map[string]any, bool, error) {
	proposal, err := args.proposal()
	if err != nil {
		return nil, false, err
	}
	evType := domain.EventType(args.str("type"))
	if evType == "" {
		evType = domain.EventMeeting
	}
	res, err := h.svc.ScheduleEvent(ctx, actor, domain.CalendarEvent{
		ID:        args.str("id"),
		Title:     args.str("title"),
		Start:     proposal.Start,
		End:       proposal.End,
		Location:  proposal.Location,
		Attendees: proposal.Attendees,
		Type:      evType,
	}, args.bool("force"))

	out := reportSummary(res.Value.Report)
	if res.Value.Event.ID != "" {
		out["id"] = res.Value.Event.ID
		out["created"] = res.Value.Created
	}
	return out, res.Queued, err
}

func requestSummary(r domain.TrainingRequest) map[string]any {
	if r.ID == "" {
		return nil
	}
	out := map[string]any{"id": r.ID, "status": string(r.Status)}
	if r.AssignedTrainerID != "" {
		out["trainer"] = r.AssignedTrainerID
	}
	return out
}

func applicationSummary(a domain.TrainerApplication) map[string]any {
	if a.ID == "" {
		return nil
	}
	return map[string]any{"id": a.ID, "status": string(a.Status)}
}
