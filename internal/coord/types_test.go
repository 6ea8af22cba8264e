package coord

import "testing"

func TestCoordRoundTrip(t *testing.T) {
	c := Coord{X: 1.5, Y: -2.25}
	parsed, err := ParseCoord(c.String())
	if err != nil {
		t.Fatalf("ParseCoord: %v", err)
	}
	if parsed != c {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, c)
	}
}

func TestNodeStateRoundTrip(t *testing.T) {
	ns := NodeState{Coord: Coord{X: 10, Y: 10}, SpeedupFactor: 1.5}
	parsed, err := ParseNodeState(ns.String())
	if err != nil {
		t.Fatalf("ParseNodeState: %v", err)
	}
	if parsed != ns {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, ns)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	r := &Request{
		Index:                   3,
		ExecutionTimeMS:         100,
		DesiredCompletionTimeMS: 5000,
		MigratableUpTo:          2,
		RequiredMemoryKB:        512,
		DesiredCoord:            Coord{X: 10, Y: 10},
		MigrationThreshold:      5,
		CurrentRegion:           1,
	}
	parsed, err := ParseRequest(r.String())
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if parsed.Index != r.Index ||
		parsed.ExecutionTimeMS != r.ExecutionTimeMS ||
		parsed.DesiredCompletionTimeMS != r.DesiredCompletionTimeMS ||
		parsed.MigratableUpTo != r.MigratableUpTo ||
		parsed.RequiredMemoryKB != r.RequiredMemoryKB ||
		parsed.DesiredCoord != r.DesiredCoord ||
		parsed.MigrationThreshold != r.MigrationThreshold ||
		parsed.CurrentRegion != r.CurrentRegion {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, r)
	}
}

func TestMessageRequestRoundTrip(t *testing.T) {
	r, err := ParseRequest("[1;100;5000;2;512;(10,10);5;1]")
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	msg := MessageRequest{SrcNodeIndex: 4, Request: r}
	parsed, err := ParseMessageRequest(msg.String())
	if err != nil {
		t.Fatalf("ParseMessageRequest: %v", err)
	}
	if parsed.SrcNodeIndex != msg.SrcNodeIndex || parsed.Request.Index != msg.Request.Index {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, msg)
	}
}

func TestMessageLocalRoundTrip(t *testing.T) {
	msg := MessageLocal{SrcNodeIndex: 2, LocalSum: 0.75}
	parsed, err := ParseMessageLocal(msg.String())
	if err != nil {
		t.Fatalf("ParseMessageLocal: %v", err)
	}
	if parsed != msg {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, msg)
	}
}

func TestParseRequestGrammar(t *testing.T) {
	r, err := ParseRequest("[0;10;200;1;64;(1.5,-2.5);3.25;0]")
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	want := Request{
		Index:                   0,
		ExecutionTimeMS:         10,
		DesiredCompletionTimeMS: 200,
		MigratableUpTo:          1,
		RequiredMemoryKB:        64,
		DesiredCoord:            Coord{X: 1.5, Y: -2.5},
		MigrationThreshold:      3.25,
		CurrentRegion:           0,
	}
	if r.Index != want.Index || r.DesiredCoord != want.DesiredCoord || r.MigrationThreshold != want.MigrationThreshold {
		t.Fatalf("got %+v, want %+v", r, want)
	}
}

func TestParseRequestBadGrammar(t *testing.T) {
	if _, err := ParseRequest("[1;2;3]"); err == nil {
		t.Fatal("expected error for too few fields")
	}
}

func TestCoordDistance(t *testing.T) {
	a := Coord{X: 0, Y: 0}
	b := Coord{X: 3, Y: 4}
	if d := a.Distance(b); d != 5 {
		t.Fatalf("distance = %v, want 5", d)
	}
}
