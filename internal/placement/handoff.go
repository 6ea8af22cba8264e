package placement

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/edgeorc/edgeorc/internal/bus"
	"github.com/edgeorc/edgeorc/internal/coord"
	"github.com/edgeorc/edgeorc/internal/migration"
	"github.com/edgeorc/edgeorc/internal/telemetry"
)

// handoffAckTimeout bounds how long a source waits for the destination's
// post-transfer acknowledgement before giving up and keeping the request
// locally rather than clearing it on an unconfirmed hand-off.
const handoffAckTimeout = 10 * time.Second

// handleSrcAck delivers the destination's advertised listening address
// to a waiting runSrcRole goroutine. A message arriving with no round
// in the src role active is stale (e.g. a retry after this node already
// gave up) and is dropped.
func (e *Engine) handleSrcAck(_ string, payload []byte) {
	e.mu.Lock()
	ch := e.srcAckCh
	e.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- string(payload):
	default:
	}
}

// handleDstNotice logs the source's confirmation that this node won the
// round; the destination already reached the same conclusion from its
// own ADMM computation; this is a secondary, low-cost channel that
// gives an operator a point to observe the hand-off beginning.
func (e *Engine) handleDstNotice(_ string, payload []byte) {
	index, err := strconv.Atoi(string(payload))
	if err != nil {
		e.log.Warn("malformed destination notice", telemetry.Err(err))
		return
	}
	e.log.Debug("elected as destination", telemetry.Int("request_index", index))
}

// runSrcRole sends req to dest and, only once the destination has
// acknowledged a verified, integrated receipt, removes it from local
// ApplicationState and its staging directory. It always clears the
// round's incoming_request slot before returning.
func (e *Engine) runSrcRole(req *coord.Request, dest int) {
	defer e.finishRound()

	notice := []byte(strconv.Itoa(req.Index))
	if err := e.bus.Publish(bus.DstTopic(dest), notice); err != nil {
		e.log.Warn("publish destination notice failed", telemetry.Err(err))
	}

	e.mu.Lock()
	ch := e.srcAckCh
	e.mu.Unlock()

	encodedAddr := <-ch
	addr, err := decodeAddr(encodedAddr)
	if err != nil {
		e.log.Error("decode destination address failed", telemetry.Err(err))
		return
	}

	dir := migration.StagingDir(e.cfg.ApplicationIndex, req.Index)
	pkg, err := migration.LoadPackage(dir)
	if err != nil {
		e.log.Error("load staged package failed", telemetry.String("dir", dir), telemetry.Err(err))
		return
	}

	if err := migration.Send(addr, req.Index, e.cfg.NodeIndex, pkg); err != nil {
		e.log.Error("send migration archive failed", telemetry.Err(err))
		return
	}

	// Send having returned nil only means the bytes reached the OS send
	// buffer; cleanup is gated on the destination's own verification.
	accepted, received := e.waitForHandoffAck(ch)
	if !received {
		e.log.Error("destination never acknowledged migration; keeping request locally",
			telemetry.Int("request_index", req.Index), telemetry.Int("dest", dest))
		return
	}
	if !accepted {
		e.log.Error("destination rejected migration archive; keeping request locally",
			telemetry.Int("request_index", req.Index), telemetry.Int("dest", dest))
		return
	}

	e.state.RemoveRequest(req.Index)
	e.pending.Wait() // decrement: this node no longer hosts the request

	if err := os.RemoveAll(dir); err != nil {
		e.log.Warn("remove source request directory failed", telemetry.String("dir", dir), telemetry.Err(err))
	}

	if e.metrics != nil {
		e.metrics.MigrationsSent.Inc()
		e.metrics.MigrationBytes.Add(float64(packageBytes(pkg)))
	}

	e.log.Info("migration sent", telemetry.Int("request_index", req.Index), telemetry.Int("dest", dest))
}

// packageBytes totals the bytes a migration package transfers, for
// byte-count metrics.
func packageBytes(pkg migration.Package) int {
	return len(pkg.ModuleWasm) + len(pkg.MainMemory) + len(pkg.CheckpointMemory)
}

// waitForHandoffAck blocks for the destination's HandoffAckPayload on ch,
// up to handoffAckTimeout. received is false on timeout or a malformed
// payload; accepted is only meaningful when received is true.
func (e *Engine) waitForHandoffAck(ch chan string) (accepted, received bool) {
	select {
	case payload := <-ch:
		_, ok, err := bus.ParseHandoffAck(payload)
		if err != nil {
			e.log.Warn("malformed hand-off ack", telemetry.Err(err))
			return false, false
		}
		return ok, true
	case <-time.After(handoffAckTimeout):
		return false, false
	}
}

// runDstRole opens a listener, advertises it to src, and receives the
// migrated package, splicing it into local ApplicationState. It always
// clears the round's incoming_request slot before returning.
func (e *Engine) runDstRole(req *coord.Request, src int) {
	defer e.finishRound()

	ln, err := migration.Listen(fmt.Sprintf("%s:0", e.cfg.ListenHost), e.log)
	if err != nil {
		e.log.Error("open hand-off listener failed", telemetry.Err(err))
		return
	}
	defer ln.Close()

	encodedAddr, err := encodeAddr(ln.Addr().String())
	if err != nil {
		e.log.Error("encode listen address failed", telemetry.Err(err))
		return
	}
	if err := e.bus.Publish(bus.SrcTopic(src), []byte(encodedAddr)); err != nil {
		e.log.Error("publish readiness ack failed", telemetry.Err(err))
		return
	}

	pkg, _, err := ln.Accept()
	if err != nil {
		e.log.Error("receive migration archive failed", telemetry.Err(err))
		e.publishHandoffAck(src, req.Index, false)
		return
	}

	dir := migration.StagingDir(e.cfg.ApplicationIndex, req.Index)
	if err := migration.SavePackage(dir, pkg); err != nil {
		e.log.Error("stage received package failed", telemetry.String("dir", dir), telemetry.Err(err))
		e.publishHandoffAck(src, req.Index, false)
		return
	}

	arrived := req.Clone()
	arrived.ShouldMigrate = false // eligible for a future migration again at the new host
	e.state.AddRequest(arrived)
	e.pending.Increment()

	if e.metrics != nil {
		e.metrics.MigrationsRecv.Inc()
		e.metrics.MigrationBytes.Add(float64(packageBytes(pkg)))
	}

	// Only now, with the archive verified (Accept returning nil already
	// checked its manifest CRCs) and spliced into local state, tell the
	// source it may clear its own copy.
	e.publishHandoffAck(src, req.Index, true)

	e.log.Info("migration received", telemetry.Int("request_index", req.Index), telemetry.Int("src", src))
}

// publishHandoffAck tells node src whether this node's receipt of
// requestIndex verified and integrated cleanly.
func (e *Engine) publishHandoffAck(src, requestIndex int, ok bool) {
	payload := []byte(bus.HandoffAckPayload(requestIndex, ok))
	if err := e.bus.Publish(bus.SrcTopic(src), payload); err != nil {
		e.log.Warn("publish hand-off ack failed", telemetry.Err(err))
	}
}

// finishRound clears the incoming_request slot after a src or dst role
// completes, successfully or not.
func (e *Engine) finishRound() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.round.reset()
	e.srcAckCh = nil
}
