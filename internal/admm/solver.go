// Package admm implements the distributed ADMM placement solver: the
// per-node local x/u update and the aggregator-side global z update,
// shared by both the peer-symmetric and controller-mediated topologies
// in package placement.
package admm

import (
	"math"

	"github.com/edgeorc/edgeorc/internal/coord"
)

// Tolerance is the ADMM convergence tolerance τ.
const Tolerance = 0.05

// DefaultPenalty is the ADMM penalty ρ.
const DefaultPenalty = 20.0

// DefaultIterationCap is the ADMM iteration cap K.
const DefaultIterationCap = 20

// LocalSolver holds one node's per-round ADMM state: the local indicator
// x_i, the dual u_i, the most recently broadcast global z_i, the penalty
// ρ, the etc multiplier γ, and the node coordinate and request ETC the
// round snapshotted at round start.
type LocalSolver struct {
	Local      float64 // x_i
	Dual       float64 // u_i
	Global     float64 // z_i
	Penalty    float64 // rho
	ETCWeight  float64 // gamma
	Coord      coord.Coord
	RequestETC float64
}

// NewLocalSolver creates a solver with z_i initialised to 1/N and x_i,
// u_i at zero.
func NewLocalSolver(numberOfNodes int, penalty, etcWeight float64, c coord.Coord, requestETC float64) *LocalSolver {
	s := &LocalSolver{}
	s.Clear(numberOfNodes, penalty, etcWeight, c, requestETC)
	return s
}

// Clear resets the solver for a new round with a fresh pre-round
// snapshot of coordinate and request ETC.
func (s *LocalSolver) Clear(numberOfNodes int, penalty, etcWeight float64, c coord.Coord, requestETC float64) {
	s.Local = 0
	s.Dual = 0
	s.Global = 1.0 / float64(numberOfNodes)
	s.Penalty = penalty
	s.ETCWeight = etcWeight
	s.Coord = c
	s.RequestETC = requestETC
}

// LocalXUpdate performs the local x-update:
//
//	c = distance + gamma * request_etc
//	f(v) = c*v + (rho/2)*(v - z + u)^2,  v in {0,1}
//	x_i = argmin f(v), ties broken toward v=0
func (s *LocalSolver) LocalXUpdate(desiredCoord coord.Coord) {
	distance := s.Coord.Distance(desiredCoord)
	c := distance + s.ETCWeight*s.RequestETC

	f := func(v float64) float64 {
		d := v - s.Global + s.Dual
		return c*v + (s.Penalty/2)*d*d
	}

	f0 := f(0)
	f1 := f(1)
	if f1 < f0 {
		s.Local = 1
	} else {
		s.Local = 0
	}
}

// ShortCircuitToZero sets x_i = 0 without evaluating f, the fast path
// used when the node cannot host the request on memory grounds alone.
func (s *LocalSolver) ShortCircuitToZero() {
	s.Local = 0
}

// LocalDualUpdate performs the dual update u_i <- u_i + (x_i - z_i).
func (s *LocalSolver) LocalDualUpdate() {
	s.Dual += s.Local - s.Global
}

// LocalSum returns x_i + u_i, the quantity published on
// federation/local_update as a MessageLocal.
func (s *LocalSolver) LocalSum() float64 {
	return s.Local + s.Dual
}

// SetGlobal applies a new z_i, normally received from the aggregator
// (controller-mediated mode) or computed locally (peer-symmetric mode).
func (s *LocalSolver) SetGlobal(z float64) {
	s.Global = z
}

// GlobalSolver performs the aggregator-side z-update: collecting one
// local_sum (x_i + u_i) per node, then computing the consensus variable
// z. One instance runs per ADMM round, either on every node
// (peer-symmetric mode) or on the controller alone (controller-mediated
// mode).
type GlobalSolver struct {
	z              []float64
	locals         []float64
	received       map[int]bool
	numberOfNodes  int
	iterationLimit int
	iteration      int
}

// NewGlobalSolver creates a global solver for a federation of the given
// size, capped at iterationLimit ADMM iterations.
func NewGlobalSolver(numberOfNodes, iterationLimit int) *GlobalSolver {
	g := &GlobalSolver{numberOfNodes: numberOfNodes, iterationLimit: iterationLimit}
	g.Clear()
	return g
}

// Clear resets z to the uniform prior, clears locals, and resets the
// iteration counter — the start of a new placement round.
func (g *GlobalSolver) Clear() {
	g.z = make([]float64, g.numberOfNodes)
	for i := range g.z {
		g.z[i] = 1.0 / float64(g.numberOfNodes)
	}
	g.ClearLocals()
	g.iteration = 0
}

// ClearLocals clears the collected local sums and the received-from set,
// without resetting z or the iteration counter — used between ADMM
// iterations within the same round.
func (g *GlobalSolver) ClearLocals() {
	g.locals = make([]float64, g.numberOfNodes)
	g.received = make(map[int]bool, g.numberOfNodes)
}

// AddLocalSum records node src's x_i+u_i for this iteration. Receiving
// the same src twice is idempotent.
func (g *GlobalSolver) AddLocalSum(src int, sum float64) {
	if src < 0 || src >= g.numberOfNodes {
		return
	}
	g.locals[src] = sum
	g.received[src] = true
}

// HasReceivedFromAll reports whether a local sum has been collected from
// every distinct node index in this iteration.
func (g *GlobalSolver) HasReceivedFromAll() bool {
	return len(g.received) >= g.numberOfNodes
}

// GlobalAt returns z_i for the given node index.
func (g *GlobalSolver) GlobalAt(nodeIndex int) float64 {
	return g.z[nodeIndex]
}

// GlobalZUpdate applies the global z-update:
//
//	z_i <- (x_i + u_i) - (1/N) * (sum_j(x_j + u_j) - 1)
//
// It also advances the iteration counter and clears the collected locals
// so the next iteration starts with a fresh received-from set.
func (g *GlobalSolver) GlobalZUpdate() {
	var sum float64
	for _, v := range g.locals {
		sum += v
	}
	subtrahend := (1.0 / float64(g.numberOfNodes)) * (sum - 1)

	for i := range g.z {
		g.z[i] = g.locals[i] - subtrahend
	}

	g.iteration++
	g.ClearLocals()
}

// Terminated reports whether the round should stop: the iteration cap
// has been exceeded, or every z_i is within τ of 0 or 1 and the sum of z
// is within τ of 1.
func (g *GlobalSolver) Terminated() bool {
	if g.iteration > g.iterationLimit {
		return true
	}

	var sum float64
	allNearBinary := true
	for _, z := range g.z {
		sum += z
		if math.Abs(z-1) > Tolerance && math.Abs(z) > Tolerance {
			allNearBinary = false
		}
	}
	return allNearBinary && math.Abs(sum-1) <= Tolerance
}

// Iteration returns the current iteration count.
func (g *GlobalSolver) Iteration() int {
	return g.iteration
}

// MaxGlobalIndex returns argmax_i z_i, the destination node. Ties are
// broken toward the lowest index by requiring a strictly greater value
// to replace the current maximum.
func (g *GlobalSolver) MaxGlobalIndex() int {
	best := 0
	bestZ := g.z[0]
	for i := 1; i < len(g.z); i++ {
		if g.z[i] > bestZ {
			bestZ = g.z[i]
			best = i
		}
	}
	return best
}
