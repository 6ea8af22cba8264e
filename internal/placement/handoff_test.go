package placement

import (
	"os"
	"testing"
	"time"

	"github.com/edgeorc/edgeorc/internal/bus"
	"github.com/edgeorc/edgeorc/internal/coord"
	"github.com/edgeorc/edgeorc/internal/migration"
	"github.com/edgeorc/edgeorc/internal/syncutil"
)

// TestSrcDstHandoffRoundTrip drives runSrcRole and runDstRole directly
// (bypassing the ADMM round) over a real loopback TCP connection and
// checks the request lands on the destination's ApplicationState with
// should_migrate reset.
func TestSrcDstHandoffRoundTrip(t *testing.T) {
	b := bus.NewMemoryBus()

	srcState := coord.NewApplicationState(coord.NodeState{Coord: coord.Coord{X: 0, Y: 0}, SpeedupFactor: 1}, 100, 50, 1<<20)
	dstState := coord.NewApplicationState(coord.NodeState{Coord: coord.Coord{X: 9, Y: 9}, SpeedupFactor: 1}, 100, 50, 1<<20)

	srcPending := syncutil.NewSemaphore(1) // the source currently hosts one request
	dstPending := syncutil.NewSemaphore(0)

	// Distinct ApplicationIndex values give src and dst distinct staging
	// directories, matching the fact that in production they are
	// distinct filesystems entirely.
	srcEngine := New(Config{NodeIndex: 0, ApplicationIndex: 3, NumberOfNodes: 2, ListenHost: "127.0.0.1"}, srcState, b, srcPending, testLogger())
	dstEngine := New(Config{NodeIndex: 1, ApplicationIndex: 4, NumberOfNodes: 2, ListenHost: "127.0.0.1"}, dstState, b, dstPending, testLogger())
	if err := srcEngine.Start(); err != nil {
		t.Fatalf("src Start: %v", err)
	}
	if err := dstEngine.Start(); err != nil {
		t.Fatalf("dst Start: %v", err)
	}

	req := sampleRequest(11)
	req.ShouldMigrate = true
	req.CurrentRegion = 2
	srcState.AddRequest(req)

	dir := migration.StagingDir(3, req.Index)
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
		_ = os.RemoveAll(migration.StagingDir(4, req.Index))
	})
	pkg := migration.Package{ModuleWasm: []byte{0x00, 0x61, 0x73, 0x6d}}
	if err := migration.SavePackage(dir, pkg); err != nil {
		t.Fatalf("SavePackage: %v", err)
	}

	srcEngine.mu.Lock()
	srcEngine.round.active = true
	srcEngine.round.req = req
	srcEngine.round.src = 0
	srcEngine.srcAckCh = make(chan string, 1)
	srcEngine.mu.Unlock()

	dstEngine.mu.Lock()
	dstEngine.round.active = true
	dstEngine.round.req = req
	dstEngine.round.src = 0
	dstEngine.mu.Unlock()

	go dstEngine.runDstRole(req, 0)
	go srcEngine.runSrcRole(req, 1)

	waitForCondition(t, 3*time.Second, func() bool {
		return dstState.Len() == 1 && srcState.Len() == 0
	})

	arrived, ok := dstState.RequestByIndex(req.Index)
	if !ok {
		t.Fatal("destination never received the request")
	}
	if arrived.ShouldMigrate {
		t.Error("arrived request should have ShouldMigrate reset to false")
	}
	if dstPending.Count() != 1 {
		t.Errorf("dst pending semaphore = %d, want 1", dstPending.Count())
	}
	if srcPending.Count() != 0 {
		t.Errorf("src pending semaphore = %d, want 0 after the hand-off decrement", srcPending.Count())
	}
}
