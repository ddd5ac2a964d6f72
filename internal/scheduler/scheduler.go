// Package scheduler implements the task-graph execution state machine:
// dependency-aware parallel dispatch under global and per-provider
// concurrency caps, verification, repair, and fallback.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petec4244/Ai3-Orchestrator/common/id"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/providers"
	"github.com/petec4244/Ai3-Orchestrator/internal/telemetry"
)

// Router is the subset of the router package's contract the Scheduler
// depends on.
type Router interface {
	Route(ctx context.Context, task domain.Node) ([]domain.Binding, error)
}

// Bank resolves a provider id to an executable Adapter.
type Bank interface {
	For(providerID domain.Provider) (providers.Adapter, error)
}

// Verifier is the subset of the verifier package's contract the
// Scheduler depends on.
type Verifier interface {
	Verify(ctx context.Context, task domain.Node, artifact domain.Artifact) (domain.Verdict, error)
	DoomLooping(taskID string, verdict domain.Verdict) bool
}

// Telemetry feeds execution outcomes back to the Capability Registry so
// future routing decisions reflect live success rate and latency.
type Telemetry interface {
	Update(ctx context.Context, outcome telemetry.Outcome)
}

type status string

const (
	statusPending   status = "pending"
	statusReady     status = "ready"
	statusRunning   status = "running"
	statusVerifying status = "verifying"
	statusRepairing status = "repairing"
	statusFallback  status = "fallback"
	statusDone      status = "done"
	statusFailed    status = "failed"
)

// taskState is the Scheduler's private bookkeeping for one graph node.
// logicalID is the task id events and artifacts are reported under: for
// an original node it is its own id, for a repair node it is the id of
// the task the repair is correcting, so a repaired task reports a
// single task_id across both attempts.
type taskState struct {
	node      domain.Node
	logicalID string
	status    status

	candidates   []domain.Binding
	candidateIdx int
	binding      domain.Binding
	attempts     int

	repairBudgetInitial   int
	repairBudgetRemaining int

	artifact domain.Artifact
	err      error
	finished bool
	done     chan struct{}
}

// Options configures one Scheduler run.
type Options struct {
	GlobalMax      int
	PerProviderMax int
	// SkipVerify bypasses the Verifier entirely: every produced artifact
	// is accepted as done with a perfect score. Zero value runs
	// verification, matching every caller that doesn't opt out.
	SkipVerify   bool
	ProviderOpts providers.Options
}

// Scheduler executes a TaskGraph to completion, emitting the streaming
// event vocabulary as it goes.
type Scheduler struct {
	router   Router
	bank     Bank
	verifier Verifier
	telemetry Telemetry
	emit     func(domain.Event)
}

func New(router Router, bank Bank, verifier Verifier, tel Telemetry, emit func(domain.Event)) *Scheduler {
	if emit == nil {
		emit = func(domain.Event) {}
	}
	return &Scheduler{router: router, bank: bank, verifier: verifier, telemetry: tel, emit: emit}
}

// run holds the mutable state for one in-flight execution. Everything
// reachable from run.mu — tasks, the trace's graph, and the two
// concurrency counters — is guarded by that one mutex, per the run-scoped
// locking discipline: critical sections stay short and never perform
// adapter or LLM I/O while held.
type run struct {
	mu sync.Mutex

	tasks map[string]*taskState

	globalCount   int
	providerCount map[domain.Provider]int
	globalMax     int
	perProviderMax int

	pending int
	wake    chan struct{}

	trace     *domain.RunTrace
	router    Router
	bank      Bank
	verifier  Verifier
	telemetry Telemetry
	emit      func(domain.Event)

	providerOpts providers.Options
	skipVerify   bool
	fatalErr     error
}

// Run executes trace.Graph's nodes to completion (every node done or
// failed), or returns early on ctx cancellation or a fatal
// configuration error. It returns the set of final artifacts produced
// by the graph's terminal nodes, in graph order.
func (s *Scheduler) Run(ctx context.Context, trace *domain.RunTrace, opts Options) ([]domain.Artifact, error) {
	if opts.GlobalMax <= 0 {
		opts.GlobalMax = 1
	}
	if opts.PerProviderMax <= 0 {
		opts.PerProviderMax = opts.GlobalMax
	}

	r := &run{
		tasks:          make(map[string]*taskState),
		providerCount:  make(map[domain.Provider]int),
		globalMax:      opts.GlobalMax,
		perProviderMax: opts.PerProviderMax,
		wake:           make(chan struct{}, 1),
		trace:          trace,
		router:         s.router,
		bank:           s.bank,
		verifier:       s.verifier,
		telemetry:      s.telemetry,
		emit:           s.emit,
		providerOpts:   opts.ProviderOpts,
		skipVerify:     opts.SkipVerify,
	}

	for _, n := range trace.Graph.Nodes {
		r.addTask(n, n.ID)
	}

	r.wakeUp()
	r.loop(ctx)

	if r.fatalErr != nil {
		return nil, r.fatalErr
	}

	terminals := trace.Graph.TerminalNodes()
	allTerminalsDone := len(terminals) > 0
	for _, n := range terminals {
		if t, ok := r.tasks[n.ID]; !ok || t.status != statusDone {
			allTerminalsDone = false
			break
		}
	}

	// Cancellation that arrives after every terminal node already
	// completed shouldn't discard a finished result: the Assembler can
	// still run on the artifacts that exist.
	if err := ctx.Err(); err != nil && !allTerminalsDone {
		return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}

	if !allTerminalsDone {
		failedIDs := r.failedTaskIDs()
		if len(failedIDs) > 0 {
			return nil, fmt.Errorf("%w: tasks %v exhausted all candidates", domain.ErrAllCandidatesFailed, failedIDs)
		}
	}

	var artifacts []domain.Artifact
	for _, n := range terminals {
		if t, ok := r.tasks[n.ID]; ok && t.status == statusDone {
			artifacts = append(artifacts, t.artifact)
		}
	}
	return artifacts, nil
}

func (r *run) addTask(node domain.Node, logicalID string) *taskState {
	t := &taskState{
		node:                  node,
		logicalID:             logicalID,
		status:                statusPending,
		repairBudgetInitial:   node.RepairBudget,
		repairBudgetRemaining: node.RepairBudget,
		done:                  make(chan struct{}),
	}
	r.tasks[node.ID] = t
	r.pending++
	return t
}

func (r *run) failedTaskIDs() []string {
	var ids []string
	for id, t := range r.tasks {
		if t.status == statusFailed {
			ids = append(ids, id)
		}
	}
	return ids
}

// loop is the dispatch loop: it wakes on every state change and admits
// as many ready tasks as the concurrency caps allow.
func (r *run) loop(ctx context.Context) {
	for {
		r.mu.Lock()
		done := r.pending == 0 || r.fatalErr != nil
		r.mu.Unlock()
		if done {
			return
		}
		select {
		case <-ctx.Done():
			r.failNonTerminal()
			return
		case <-r.wake:
			r.dispatch(ctx)
		}
	}
}

// failNonTerminal transitions every task that hasn't reached done or
// failed to failed/Cancelled so the trace and event stream reflect the
// true final state of an aborted run instead of leaving tasks stuck in
// pending/ready/running.
func (r *run) failNonTerminal() {
	r.mu.Lock()
	var cancelled []*taskState
	for _, t := range r.tasks {
		if t.status == statusDone || t.status == statusFailed {
			continue
		}
		t.status = statusFailed
		t.err = domain.ErrCancelled
		r.finishLocked(t)
		cancelled = append(cancelled, t)
	}
	r.mu.Unlock()

	for _, t := range cancelled {
		r.emit(domain.Event{Type: domain.EventTaskFailed, Payload: domain.TaskFailedPayload{
			TaskID: t.logicalID, Reason: "cancelled",
		}})
	}
}

func (r *run) wakeUp() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// dispatch promotes pending tasks whose dependencies are satisfied,
// then admits as many ready tasks as the concurrency caps allow.
func (r *run) dispatch(ctx context.Context) {
	r.mu.Lock()
	r.promoteReadyLocked(ctx)

	var toStart []*taskState
	for _, t := range r.tasks {
		if t.status != statusReady {
			continue
		}
		if r.globalCount >= r.globalMax {
			continue
		}
		provider := t.binding.ProviderID
		if r.providerCount[provider] >= r.perProviderMax {
			continue
		}
		t.status = statusRunning
		r.globalCount++
		r.providerCount[provider]++
		toStart = append(toStart, t)
	}
	r.mu.Unlock()

	for _, t := range toStart {
		go r.execute(ctx, t)
	}
}

// promoteReadyLocked routes every pending task whose upstream
// dependencies are all done. Router.Route reads the Capability Registry
// (whose telemetry merge is a Redis query when the Redis recorder is
// configured), so calling it under the run mutex keeps the ready-set
// computation atomic without crossing into adapter I/O.
func (r *run) promoteReadyLocked(ctx context.Context) {
	for _, t := range r.tasks {
		if t.status != statusPending {
			continue
		}
		if !r.depsDoneLocked(t) {
			continue
		}
		candidates, err := r.router.Route(ctx, t.node)
		if err != nil {
			t.status = statusFailed
			t.err = err
			r.finishLocked(t)
			r.emit(domain.Event{Type: domain.EventTaskFailed, Payload: domain.TaskFailedPayload{
				TaskID: t.logicalID, Reason: err.Error(),
			}})
			continue
		}
		t.candidates = candidates
		t.candidateIdx = 0
		t.binding = candidates[0]
		t.binding.TaskID = t.node.ID
		t.binding.AttemptIndex = t.attempts
		t.status = statusReady
	}
}

// depsDoneLocked reports whether every input of t is done. A repair
// node's input on the task it corrects counts as satisfied: that task
// stays in repairing until the repair finishes, and the rejected
// artifact is already embedded in the repair prompt.
func (r *run) depsDoneLocked(t *taskState) bool {
	for _, in := range t.node.Inputs {
		if in == t.logicalID && t.node.ID != t.logicalID {
			continue
		}
		dep, ok := r.tasks[in]
		if !ok || dep.status != statusDone {
			return false
		}
	}
	return true
}

func (r *run) finishLocked(t *taskState) {
	if t.finished {
		return
	}
	t.finished = true
	r.pending--
	close(t.done)
}

func (r *run) releaseSlot(provider domain.Provider) {
	r.mu.Lock()
	r.globalCount--
	r.providerCount[provider]--
	r.mu.Unlock()
	r.wakeUp()
}

// renderPrompt concatenates the artifacts of node.Inputs ahead of the
// node's own prompt text, per the TaskGraph's "inputs become context"
// contract.
func (r *run) renderPrompt(node domain.Node) string {
	prompt := node.PromptText
	for _, in := range node.Inputs {
		dep, ok := r.tasks[in]
		if !ok || dep.artifact.Content == "" {
			continue
		}
		prompt = fmt.Sprintf("Context from task %s:\n%s\n\n%s", in, dep.artifact.Content, prompt)
	}
	return prompt
}

func (r *run) execute(ctx context.Context, t *taskState) {
	r.mu.Lock()
	binding := t.binding
	rank := t.candidateIdx
	prompt := r.renderPrompt(t.node)
	r.mu.Unlock()

	r.trace.AddBinding(binding)
	r.emit(domain.Event{Type: domain.EventDecision, Payload: domain.DecisionPayload{
		TaskID: t.logicalID, ModelID: binding.ModelID, Rank: rank,
	}})
	r.emit(domain.Event{Type: domain.EventTaskStart, Payload: domain.TaskStartPayload{
		TaskID: t.logicalID, ModelID: binding.ModelID,
	}})

	adapter, err := r.bank.For(binding.ProviderID)
	if err != nil {
		r.releaseSlot(binding.ProviderID)
		r.failRun(fmt.Errorf("%w: %v", domain.ErrConfiguration, err))
		return
	}

	artifact, err := adapter.Execute(ctx, prompt, binding.ModelID, r.providerOpts)
	r.releaseSlot(binding.ProviderID)
	r.recordOutcome(ctx, binding.ModelID, artifact, err)

	if err != nil {
		r.onAdapterError(ctx, t, err)
		return
	}

	artifact.ArtifactID = fmt.Sprintf("art_%d", id.New())
	artifact.TaskID = t.logicalID
	artifact.Binding = binding
	r.trace.AddArtifact(artifact)
	r.emit(domain.Event{Type: domain.EventTaskArtifact, Payload: domain.TaskArtifactPayload{
		TaskID: t.logicalID, Fragment: artifact.Content, Final: true,
	}})

	r.verify(ctx, t, artifact)
}

func (r *run) recordOutcome(ctx context.Context, modelID string, artifact domain.Artifact, err error) {
	if r.telemetry == nil {
		return
	}
	outcome := telemetry.Outcome{ModelID: modelID, Success: err == nil, OccurredAt: time.Now()}
	if err == nil {
		outcome.LatencyMS = artifact.LatencyMS
		outcome.TokensIn = int64(artifact.InputTokens)
		outcome.TokensOut = int64(artifact.OutputTokens)
	}
	r.telemetry.Update(ctx, outcome)
}

// onAdapterError applies the propagation policy: auth/config failures
// are fatal to the run; every other provider error kind triggers
// fallback without consuming repair budget.
func (r *run) onAdapterError(ctx context.Context, t *taskState, err error) {
	var perr *domain.ProviderError
	if errors.As(err, &perr) && perr.Kind == domain.ProviderErrAuthFailed {
		r.failRun(fmt.Errorf("%w: %v", domain.ErrConfiguration, err))
		return
	}
	r.fallback(ctx, t)
}

func (r *run) failRun(err error) {
	r.mu.Lock()
	if r.fatalErr == nil {
		r.fatalErr = err
	}
	r.mu.Unlock()
	r.wakeUp()
}

// verify runs the Verifier against a freshly produced artifact and
// decides done/repair/fallback per the state table.
func (r *run) verify(ctx context.Context, t *taskState, artifact domain.Artifact) {
	r.mu.Lock()
	t.status = statusVerifying
	r.mu.Unlock()

	if r.skipVerify {
		verdict := domain.Verdict{ArtifactID: artifact.ArtifactID, Score: 1, Passed: true}
		r.trace.AddVerdict(verdict)
		r.emit(domain.Event{Type: domain.EventTaskVerified, Payload: domain.TaskVerifiedPayload{
			TaskID: t.logicalID, Score: verdict.Score, Passed: verdict.Passed,
		}})
		r.mu.Lock()
		t.status = statusDone
		t.artifact = artifact
		r.finishLocked(t)
		r.mu.Unlock()
		r.wakeUp()
		return
	}

	verdict, verr := r.verifier.Verify(ctx, t.node, artifact)
	if verr != nil {
		verdict = domain.Verdict{
			ArtifactID:     artifact.ArtifactID,
			Score:          0,
			Passed:         false,
			FailureReasons: []string{"VerifierError: " + verr.Error()},
		}
		// A verifier-internal error still consumes one repair attempt:
		// there is no directive to act on, but the task shouldn't get a
		// free pass to keep its full repair budget for a later defect.
		r.mu.Lock()
		if t.repairBudgetRemaining > 0 {
			t.repairBudgetRemaining--
		}
		r.mu.Unlock()
	}
	r.trace.AddVerdict(verdict)
	r.emit(domain.Event{Type: domain.EventTaskVerified, Payload: domain.TaskVerifiedPayload{
		TaskID: t.logicalID, Score: verdict.Score, Passed: verdict.Passed,
	}})

	if verdict.Passed {
		r.mu.Lock()
		t.status = statusDone
		t.artifact = artifact
		r.finishLocked(t)
		r.mu.Unlock()
		r.wakeUp()
		return
	}

	doomed := r.verifier.DoomLooping(t.logicalID, verdict)

	r.mu.Lock()
	canRepair := t.repairBudgetRemaining > 0 && verdict.RepairDirective != nil && !doomed
	r.mu.Unlock()

	if canRepair {
		r.repair(ctx, t, verdict)
		return
	}

	r.fallback(ctx, t)
}

// repair spawns the Verifier's one-node repair subgraph as a normal
// scheduled task, waits for it to reach a terminal state, then
// re-verifies the original task against the repaired artifact.
func (r *run) repair(ctx context.Context, t *taskState, verdict domain.Verdict) {
	repairNode := verdict.RepairDirective.Nodes[0]

	r.mu.Lock()
	t.status = statusRepairing
	t.repairBudgetRemaining--
	r.trace.AppendGraphNodes(repairNode)
	repairState := r.addTask(repairNode, t.logicalID)
	r.mu.Unlock()

	r.emit(domain.Event{Type: domain.EventTaskRepaired, Payload: domain.TaskRepairedPayload{
		TaskID: t.logicalID, NewNodeIDs: []string{repairNode.ID},
	}})
	r.wakeUp()

	<-repairState.done

	r.mu.Lock()
	repairOK := repairState.status == statusDone
	repairedArtifact := repairState.artifact
	r.mu.Unlock()

	if !repairOK {
		r.fallback(ctx, t)
		return
	}

	r.verify(ctx, t, repairedArtifact)
}

// fallback advances the task to its next routed candidate, or marks it
// failed when candidates or the cumulative attempt budget are exhausted.
func (r *run) fallback(ctx context.Context, t *taskState) {
	r.mu.Lock()
	t.attempts++
	maxAttempts := len(t.candidates) + t.repairBudgetInitial

	exhausted := t.candidateIdx+1 >= len(t.candidates) || t.attempts >= maxAttempts
	if exhausted {
		t.status = statusFailed
		r.finishLocked(t)
		r.mu.Unlock()
		r.emit(domain.Event{Type: domain.EventTaskFailed, Payload: domain.TaskFailedPayload{
			TaskID: t.logicalID, Reason: "all candidate models exhausted",
		}})
		r.wakeUp()
		return
	}

	t.candidateIdx++
	t.binding = t.candidates[t.candidateIdx]
	t.binding.TaskID = t.node.ID
	t.binding.AttemptIndex = t.attempts
	t.status = statusReady
	r.mu.Unlock()
	r.wakeUp()
}
