package id_test

import (
	"encoding/json"
	"testing"

	"github.com/emberline/stoker/id"
)

func TestNew_PrefixAndUniqueness(t *testing.T) {
	a := id.NewTaskID()
	b := id.NewTaskID()

	if a.Prefix() != id.PrefixTask {
		t.Fatalf("prefix = %q, want %q", a.Prefix(), id.PrefixTask)
	}
	if a.String() == b.String() {
		t.Fatalf("two generated IDs collided: %s", a)
	}
	if a.IsNil() {
		t.Fatal("generated ID reported nil")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	orig := id.NewTaskID()

	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", orig, err)
	}
	if parsed.String() != orig.String() {
		t.Fatalf("round trip changed ID: %q != %q", parsed, orig)
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Fatal("Parse(\"\") succeeded, want error")
	}
}

func TestParseWithPrefix_Mismatch(t *testing.T) {
	wkr := id.NewWorkerID()

	if _, err := id.ParseTaskID(wkr.String()); err == nil {
		t.Fatalf("ParseTaskID(%q) succeeded, want prefix mismatch error", wkr)
	}
}

func TestNil_String(t *testing.T) {
	if id.Nil.String() != "" {
		t.Fatalf("Nil.String() = %q, want empty", id.Nil.String())
	}
	if !id.Nil.IsNil() {
		t.Fatal("Nil.IsNil() = false")
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	orig := id.NewTaskID()

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back id.ID
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.String() != orig.String() {
		t.Fatalf("JSON round trip changed ID: %q != %q", back, orig)
	}
}

func TestScan_Value(t *testing.T) {
	orig := id.NewTaskID()

	v, err := orig.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var back id.ID
	if err := back.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if back.String() != orig.String() {
		t.Fatalf("driver round trip changed ID: %q != %q", back, orig)
	}

	var null id.ID
	if err := null.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if !null.IsNil() {
		t.Fatal("Scan(nil) produced non-nil ID")
	}
}
