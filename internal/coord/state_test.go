package coord

import "testing"

func newTestState() *ApplicationState {
	return NewApplicationState(NodeState{Coord: Coord{X: 0, Y: 0}, SpeedupFactor: 1}, 100, 20, 2048)
}

func TestAddRemoveRequestInvariants(t *testing.T) {
	st := newTestState()

	r1 := &Request{Index: 1, ExecutionTimeMS: 50, RequiredMemoryKB: 256, DesiredCompletionTimeMS: 1000}
	r2 := &Request{Index: 2, ExecutionTimeMS: 75, RequiredMemoryKB: 128, DesiredCompletionTimeMS: 2000}

	st.AddRequest(r1)
	st.AddRequest(r2)

	if err := st.CheckInvariants(); err != nil {
		t.Fatalf("invariants violated after add: %v", err)
	}
	if got := st.AvailableMemoryKB(); got != 2048-256-128 {
		t.Fatalf("available memory = %d, want %d", got, 2048-256-128)
	}
	if got := st.BacklogSumOfCMS(); got != 125 {
		t.Fatalf("backlog = %d, want 125", got)
	}

	removed, ok := st.RemoveRequest(1)
	if !ok || removed.Index != 1 {
		t.Fatalf("RemoveRequest(1) = %v, %v", removed, ok)
	}
	if err := st.CheckInvariants(); err != nil {
		t.Fatalf("invariants violated after remove: %v", err)
	}
	if got := st.AvailableMemoryKB(); got != 2048-128 {
		t.Fatalf("available memory after remove = %d, want %d", got, 2048-128)
	}
	if got := st.BacklogSumOfCMS(); got != 75 {
		t.Fatalf("backlog after remove = %d, want 75", got)
	}
}

func TestRemoveUnknownRequest(t *testing.T) {
	st := newTestState()
	if _, ok := st.RemoveRequest(42); ok {
		t.Fatal("expected RemoveRequest on unknown index to report false")
	}
}

func TestCouldHostComputation(t *testing.T) {
	st := newTestState()
	st.AddRequest(&Request{Index: 1, RequiredMemoryKB: 2000})
	if st.CouldHostComputation(100) {
		t.Fatal("expected CouldHostComputation to be false when memory is exhausted")
	}
	if !st.CouldHostComputation(10) {
		t.Fatal("expected CouldHostComputation to be true when memory remains")
	}
}

func TestGetExpectedCompletionTime(t *testing.T) {
	st := NewApplicationState(NodeState{SpeedupFactor: 1}, 100, 20, 1024)
	st.AddRequest(&Request{Index: 1, ExecutionTimeMS: 30})
	// backlog = 30, +c=10 => 40/20=2 rounds *100ms period = 200
	if got := st.GetExpectedCompletionTime(10); got != 200 {
		t.Fatalf("etc = %v, want 200", got)
	}
}

func TestAdvanceCurRegionAndMigratable(t *testing.T) {
	st := newTestState()
	st.AddRequest(&Request{Index: 1, MigratableUpTo: 1, CurrentRegion: 0})

	migratable, ok := st.IsRequestMigratable(1)
	if !ok || !migratable {
		t.Fatalf("expected migratable at region 0, got %v %v", migratable, ok)
	}

	region, ok := st.AdvanceCurRegionOfRequest(1)
	if !ok || region != 1 {
		t.Fatalf("AdvanceCurRegionOfRequest = %d, %v, want 1, true", region, ok)
	}
	migratable, _ = st.IsRequestMigratable(1)
	if !migratable {
		t.Fatal("expected still migratable at region == migratable_up_to")
	}

	st.AdvanceCurRegionOfRequest(1)
	migratable, _ = st.IsRequestMigratable(1)
	if migratable {
		t.Fatal("expected not migratable past migratable_up_to")
	}
}

func TestShouldMigrateFlag(t *testing.T) {
	st := newTestState()
	st.AddRequest(&Request{Index: 1})

	got, ok := st.GetShouldMigrateOfRequest(1)
	if !ok || got {
		t.Fatalf("expected should_migrate false initially, got %v", got)
	}
	if !st.SetShouldMigrateOfRequest(1, true) {
		t.Fatal("SetShouldMigrateOfRequest should report found")
	}
	got, _ = st.GetShouldMigrateOfRequest(1)
	if !got {
		t.Fatal("expected should_migrate true after set")
	}
}

func TestRequestsByDCTSameIndexSet(t *testing.T) {
	st := newTestState()
	st.AddRequest(&Request{Index: 1, DesiredCompletionTimeMS: 500})
	st.AddRequest(&Request{Index: 2, DesiredCompletionTimeMS: 100})
	st.AddRequest(&Request{Index: 3, DesiredCompletionTimeMS: 900})

	order := st.RequestsByDCT()
	if len(order) != 3 {
		t.Fatalf("len(order) = %d, want 3", len(order))
	}
	seen := map[int]bool{}
	for _, idx := range order {
		seen[idx] = true
	}
	for _, idx := range []int{1, 2, 3} {
		if !seen[idx] {
			t.Fatalf("requests_by_dct missing index %d", idx)
		}
	}
}

func TestPeekIsInsertionOrder(t *testing.T) {
	st := newTestState()
	st.AddRequest(&Request{Index: 5})
	st.AddRequest(&Request{Index: 6})
	if p := st.Peek(); p == nil || p.Index != 5 {
		t.Fatalf("Peek() = %+v, want index 5", p)
	}
}
