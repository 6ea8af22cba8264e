// Package coord implements the shared data model of the placement
// orchestrator: coordinates, node state, requests, and the wire messages
// exchanged over the federation bus.
package coord

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Coord is a pair of real coordinates in the application's geographic
// space. It parses from and formats to "(x,y)".
type Coord struct {
	X float64
	Y float64
}

// Distance returns the Euclidean distance between two coordinates.
func (c Coord) Distance(other Coord) float64 {
	dx := c.X - other.X
	dy := c.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

func (c Coord) String() string {
	return fmt.Sprintf("(%s,%s)", formatFloat(c.X), formatFloat(c.Y))
}

// ParseCoord parses the "(x,y)" grammar.
func ParseCoord(s string) (Coord, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "(")
	trimmed = strings.TrimSuffix(trimmed, ")")
	parts := strings.SplitN(trimmed, ",", 2)
	if len(parts) != 2 {
		return Coord{}, fmt.Errorf("coord: malformed value %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coord{}, fmt.Errorf("coord: bad x in %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coord{}, fmt.Errorf("coord: bad y in %q: %w", s, err)
	}
	return Coord{X: x, Y: y}, nil
}

// NodeState is the coordinate and speedup factor of a hosting node, as
// published periodically by the infrastructure orchestrator. It parses
// from and formats to "[(x,y);speedup]".
type NodeState struct {
	Coord         Coord
	SpeedupFactor float64
}

func (n NodeState) String() string {
	return fmt.Sprintf("[%s;%s]", n.Coord.String(), formatFloat(n.SpeedupFactor))
}

// ParseNodeState parses the "[(x,y);speedup]" grammar.
func ParseNodeState(s string) (NodeState, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	idx := strings.LastIndex(trimmed, ";")
	if idx < 0 {
		return NodeState{}, fmt.Errorf("node state: malformed value %q", s)
	}
	c, err := ParseCoord(trimmed[:idx])
	if err != nil {
		return NodeState{}, fmt.Errorf("node state: %w", err)
	}
	speedup, err := strconv.ParseFloat(strings.TrimSpace(trimmed[idx+1:]), 64)
	if err != nil {
		return NodeState{}, fmt.Errorf("node state: bad speedup in %q: %w", s, err)
	}
	return NodeState{Coord: c, SpeedupFactor: speedup}, nil
}

// Request is an immutable descriptor of a migratable computation plus the
// small set of fields mutated in place as the computation moves through
// the system. A zero CurrentRegion means the request has not yet entered
// any checkpoint region.
type Request struct {
	Index                   int
	ExecutionTimeMS         int64
	DesiredCompletionTimeMS int64
	MigratableUpTo          int
	RequiredMemoryKB        int64
	DesiredCoord            Coord
	MigrationThreshold      float64
	ShouldMigrate           bool
	CurrentRegion           int
	ArrivalTime             time.Time
}

// Clone returns an independent copy, for solver rounds that must not
// observe concurrent ApplicationState mutation.
func (r *Request) Clone() *Request {
	cp := *r
	return &cp
}

// IsMigratable reports whether the request is still within the region
// range from which migration is profitable.
func (r *Request) IsMigratable() bool {
	return r.CurrentRegion <= r.MigratableUpTo
}

func (r *Request) String() string {
	return fmt.Sprintf("[%d;%d;%d;%d;%d;%s;%s;%d]",
		r.Index,
		r.ExecutionTimeMS,
		r.DesiredCompletionTimeMS,
		r.MigratableUpTo,
		r.RequiredMemoryKB,
		r.DesiredCoord.String(),
		formatFloat(r.MigrationThreshold),
		r.CurrentRegion,
	)
}

// ParseRequest parses the "[idx;exec;dct;mig_up_to;memkb;(x,y);thr;cur_region]" grammar.
func ParseRequest(s string) (*Request, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")

	fields, err := splitRequestFields(trimmed)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if len(fields) != 8 {
		return nil, fmt.Errorf("request: expected 8 fields, got %d in %q", len(fields), s)
	}

	idx, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return nil, fmt.Errorf("request: bad index: %w", err)
	}
	exec, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("request: bad execution_time_ms: %w", err)
	}
	dct, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("request: bad desired_completion_time_ms: %w", err)
	}
	migUpTo, err := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err != nil {
		return nil, fmt.Errorf("request: bad migratable_up_to: %w", err)
	}
	memKB, err := strconv.ParseInt(strings.TrimSpace(fields[4]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("request: bad required_memory_kb: %w", err)
	}
	desiredCoord, err := ParseCoord(strings.TrimSpace(fields[5]))
	if err != nil {
		return nil, fmt.Errorf("request: bad desired_coord: %w", err)
	}
	thr, err := strconv.ParseFloat(strings.TrimSpace(fields[6]), 64)
	if err != nil {
		return nil, fmt.Errorf("request: bad migration_threshold: %w", err)
	}
	curRegion, err := strconv.Atoi(strings.TrimSpace(fields[7]))
	if err != nil {
		return nil, fmt.Errorf("request: bad current_region: %w", err)
	}

	return &Request{
		Index:                   idx,
		ExecutionTimeMS:         exec,
		DesiredCompletionTimeMS: dct,
		MigratableUpTo:          migUpTo,
		RequiredMemoryKB:        memKB,
		DesiredCoord:            desiredCoord,
		MigrationThreshold:      thr,
		ShouldMigrate:           false,
		CurrentRegion:           curRegion,
		ArrivalTime:             time.Now(),
	}, nil
}

// splitRequestFields splits on top-level ';' only, so the "(x,y)" field
// does not get shredded by the outer split.
func splitRequestFields(s string) ([]string, error) {
	var fields []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses in %q", s)
			}
		case ';':
			if depth == 0 {
				fields = append(fields, s[start:i])
				start = i + 1
			}
		}
	}
	fields = append(fields, s[start:])
	return fields, nil
}

// MessageRequest is published on federation/migration to notify every
// node of a new migration candidate. It formats as "src#request".
type MessageRequest struct {
	SrcNodeIndex int
	Request      *Request
}

func (m MessageRequest) String() string {
	return fmt.Sprintf("%d#%s", m.SrcNodeIndex, m.Request.String())
}

// ParseMessageRequest parses the "src#request" grammar.
func ParseMessageRequest(s string) (MessageRequest, error) {
	idx := strings.Index(s, "#")
	if idx < 0 {
		return MessageRequest{}, fmt.Errorf("message request: malformed value %q", s)
	}
	src, err := strconv.Atoi(strings.TrimSpace(s[:idx]))
	if err != nil {
		return MessageRequest{}, fmt.Errorf("message request: bad src: %w", err)
	}
	req, err := ParseRequest(s[idx+1:])
	if err != nil {
		return MessageRequest{}, fmt.Errorf("message request: %w", err)
	}
	return MessageRequest{SrcNodeIndex: src, Request: req}, nil
}

// MessageLocal carries a node's ADMM local sum (x_i + u_i) on
// federation/local_update. It formats as "src#value".
type MessageLocal struct {
	SrcNodeIndex int
	LocalSum     float64
}

func (m MessageLocal) String() string {
	return fmt.Sprintf("%d#%s", m.SrcNodeIndex, formatFloat(m.LocalSum))
}

// ParseMessageLocal parses the "src#value" grammar.
func ParseMessageLocal(s string) (MessageLocal, error) {
	idx := strings.LastIndex(s, "#")
	if idx < 0 {
		return MessageLocal{}, fmt.Errorf("message local: malformed value %q", s)
	}
	src, err := strconv.Atoi(strings.TrimSpace(s[:idx]))
	if err != nil {
		return MessageLocal{}, fmt.Errorf("message local: bad src: %w", err)
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(s[idx+1:]), 64)
	if err != nil {
		return MessageLocal{}, fmt.Errorf("message local: bad value: %w", err)
	}
	return MessageLocal{SrcNodeIndex: src, LocalSum: val}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
