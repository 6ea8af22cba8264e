package coord

import (
	"math"
	"sort"
	"sync"
	"time"
)

// ApplicationState is the single shared record mutated by the State
// Monitor, Request Monitor, Placement Engine, and Sporadic Server. All
// reads and writes go through its mutex; callers must copy out whatever
// snapshot they need before releasing the lock and doing I/O.
type ApplicationState struct {
	mu sync.Mutex

	nodeState NodeState

	periodMS int64
	budgetMS int64

	assignedMemoryKB int64
	availableMemoryKB int64

	backlogSumOfCMS int64

	requests      []*Request
	requestsByDCT []int // Request.Index values, ordered by ascending remaining time to DCT

	checkpointIsReady bool
}

// NewApplicationState creates application state for a freshly started
// orchestrator instance.
func NewApplicationState(initial NodeState, periodMS, budgetMS, assignedMemoryKB int64) *ApplicationState {
	return &ApplicationState{
		nodeState:          initial,
		periodMS:           periodMS,
		budgetMS:           budgetMS,
		assignedMemoryKB:   assignedMemoryKB,
		availableMemoryKB:  assignedMemoryKB,
	}
}

// UpdateNodeState overwrites the node coordinate wholesale; called by the
// State Monitor on each ingress message.
func (a *ApplicationState) UpdateNodeState(ns NodeState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nodeState = ns
}

// NodeState returns a copy of the current node state.
func (a *ApplicationState) NodeState() NodeState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nodeState
}

// Period returns the sporadic-server period.
func (a *ApplicationState) Period() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Duration(a.periodMS) * time.Millisecond
}

// Budget returns the sporadic-server budget.
func (a *ApplicationState) Budget() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Duration(a.budgetMS) * time.Millisecond
}

// AddRequest adds a request, either from initial configuration load or as
// the destination side of a completed migration. It keeps
// the available-memory and backlog invariants up to date and maintains
// requestsByDCT as a hint ordering.
func (a *ApplicationState) AddRequest(r *Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, r)
	a.availableMemoryKB -= r.RequiredMemoryKB
	a.backlogSumOfCMS += r.ExecutionTimeMS
	a.rebuildByDCTLocked()
}

// RemoveRequest removes the request with the given index (its
// Request.Index, not a slice position), either because it completed or
// because it was sent away as the source side of a migration. Reports
// whether a matching request was found.
func (a *ApplicationState) RemoveRequest(index int) (*Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.removeRequestLocked(index)
}

func (a *ApplicationState) removeRequestLocked(index int) (*Request, bool) {
	pos := a.positionLocked(index)
	if pos < 0 {
		return nil, false
	}
	r := a.requests[pos]
	a.requests = append(a.requests[:pos], a.requests[pos+1:]...)
	a.availableMemoryKB += r.RequiredMemoryKB
	a.backlogSumOfCMS -= r.ExecutionTimeMS
	a.rebuildByDCTLocked()
	return r, true
}

func (a *ApplicationState) positionLocked(index int) int {
	for i, r := range a.requests {
		if r.Index == index {
			return i
		}
	}
	return -1
}

// rebuildByDCTLocked recomputes the hint ordering from scratch; used after
// every add and removal. The ordering is a hint only, so a full sort on
// every change (each comparison looks its requests up linearly) is an
// acceptable cost in exchange for simplicity.
func (a *ApplicationState) rebuildByDCTLocked() {
	indices := make([]int, len(a.requests))
	for i, r := range a.requests {
		indices[i] = r.Index
	}
	now := time.Now()
	sort.Slice(indices, func(i, j int) bool {
		ri := a.requests[a.positionLocked(indices[i])]
		rj := a.requests[a.positionLocked(indices[j])]
		return remainingToDCT(ri, now) < remainingToDCT(rj, now)
	})
	a.requestsByDCT = indices
}

func remainingToDCT(r *Request, now time.Time) int64 {
	elapsed := now.Sub(r.ArrivalTime).Milliseconds()
	return r.DesiredCompletionTimeMS - elapsed
}

// RequestsByDCT returns a copy of the DCT hint ordering (request indices).
// Not consulted by the current dispatcher; exposed for a
// future EDF-aware scheduler.
func (a *ApplicationState) RequestsByDCT() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, len(a.requestsByDCT))
	copy(out, a.requestsByDCT)
	return out
}

// AdvanceCurRegionOfRequest increments current_region for the named
// request and returns the new value, or false if not found. Called by
// the host's should_migrate callback.
func (a *ApplicationState) AdvanceCurRegionOfRequest(index int) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos := a.positionLocked(index)
	if pos < 0 {
		return 0, false
	}
	a.requests[pos].CurrentRegion++
	return a.requests[pos].CurrentRegion, true
}

// GetShouldMigrateOfRequest reports the should_migrate flag of a request.
func (a *ApplicationState) GetShouldMigrateOfRequest(index int) (bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos := a.positionLocked(index)
	if pos < 0 {
		return false, false
	}
	return a.requests[pos].ShouldMigrate, true
}

// SetShouldMigrateOfRequest sets the should_migrate flag of a request.
func (a *ApplicationState) SetShouldMigrateOfRequest(index int, migrate bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos := a.positionLocked(index)
	if pos < 0 {
		return false
	}
	a.requests[pos].ShouldMigrate = migrate
	return true
}

// IsRequestMigratable reports whether the request is still within its
// migratable checkpoint-region range.
func (a *ApplicationState) IsRequestMigratable(index int) (bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos := a.positionLocked(index)
	if pos < 0 {
		return false, false
	}
	return a.requests[pos].IsMigratable(), true
}

// CouldHostComputation reports whether there is enough available memory
// to host a request with the given requirement.
func (a *ApplicationState) CouldHostComputation(requiredMemoryKB int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.availableMemoryKB >= requiredMemoryKB
}

// GetExpectedCompletionTime computes the request_etc term used by the
// ADMM local update:
//
//	ceil((backlog_sum_of_c + c) / budget_ms * speedup_factor) * period_ms
func (a *ApplicationState) GetExpectedCompletionTime(c int64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.budgetMS == 0 {
		return 0
	}
	rounds := math.Ceil(float64(a.backlogSumOfCMS+c) / float64(a.budgetMS) * a.nodeState.SpeedupFactor)
	return rounds * float64(a.periodMS)
}

// BacklogSumOfCMS returns the sum of execution times of pending requests.
func (a *ApplicationState) BacklogSumOfCMS() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backlogSumOfCMS
}

// AvailableMemoryKB returns the currently unreserved memory.
func (a *ApplicationState) AvailableMemoryKB() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.availableMemoryKB
}

// AssignedMemoryKB returns the node's total assigned memory budget.
func (a *ApplicationState) AssignedMemoryKB() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.assignedMemoryKB
}

// Len returns the number of pending requests.
func (a *ApplicationState) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

// Peek returns the first pending request (by insertion order) without
// removing it, or nil if there are none. This is what the sporadic server
// activity actually dispatches.
func (a *ApplicationState) Peek() *Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.requests) == 0 {
		return nil
	}
	return a.requests[0]
}

// RequestByIndex returns a copy of the request with the given index.
func (a *ApplicationState) RequestByIndex(index int) (*Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos := a.positionLocked(index)
	if pos < 0 {
		return nil, false
	}
	return a.requests[pos].Clone(), true
}

// SetCheckpointReady sets the checkpoint-is-ready flag.
func (a *ApplicationState) SetCheckpointReady(ready bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkpointIsReady = ready
}

// CheckpointIsReady reports the checkpoint-is-ready flag.
func (a *ApplicationState) CheckpointIsReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkpointIsReady
}

// ForEachRequest invokes fn for every pending request under the lock. fn
// must not call back into ApplicationState (it would deadlock on the
// non-reentrant mutex); it should copy what it needs and act after
// returning, exactly as the Request Monitor does.
func (a *ApplicationState) ForEachRequest(fn func(r *Request)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.requests {
		fn(r)
	}
}

// CheckInvariants validates the state's quantified invariants. It
// is intended for tests, not production call sites.
func (a *ApplicationState) CheckInvariants() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sumRequired, sumExec int64
	for _, r := range a.requests {
		sumRequired += r.RequiredMemoryKB
		sumExec += r.ExecutionTimeMS
	}
	if a.availableMemoryKB+sumRequired != a.assignedMemoryKB {
		return errInvariant("available_memory_kb + sum(required_memory_kb) != assigned_memory_kb")
	}
	if a.backlogSumOfCMS != sumExec {
		return errInvariant("backlog_sum_of_c_ms != sum(execution_time_ms)")
	}
	if len(a.requestsByDCT) != len(a.requests) {
		return errInvariant("len(requests_by_dct) != len(requests)")
	}
	seen := make(map[int]bool, len(a.requests))
	for _, r := range a.requests {
		seen[r.Index] = true
	}
	for _, idx := range a.requestsByDCT {
		if !seen[idx] {
			return errInvariant("requests_by_dct references an index not present in requests")
		}
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errInvariant(msg string) error { return invariantError(msg) }
