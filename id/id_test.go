package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/renderq/id"
)

var constructors = []struct {
	name    string
	newFn   func() id.ID
	parseFn func(string) (id.ID, error)
	prefix  string
}{
	{"JobID", id.NewJobID, id.ParseJobID, "job_"},
	{"SubscriptionID", id.NewSubscriptionID, id.ParseSubscriptionID, "whsub_"},
	{"DeliveryID", id.NewDeliveryID, id.ParseDeliveryID, "dlv_"},
	{"DLQID", id.NewDLQID, id.ParseDLQID, "dlq_"},
	{"EventID", id.NewEventID, id.ParseEventID, "evt_"},
	{"WorkerID", id.NewWorkerID, id.ParseWorkerID, "wkr_"},
}

func TestConstructorsAndParsers(t *testing.T) {
	for _, tt := range constructors {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			if !strings.HasPrefix(original.String(), tt.prefix) {
				t.Fatalf("expected prefix %q, got %q", tt.prefix, original.String())
			}
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	if _, err := id.ParseJobID(id.NewSubscriptionID().String()); err == nil {
		t.Error("ParseJobID accepted a subscription id")
	}
	if _, err := id.ParseSubscriptionID(id.NewJobID().String()); err == nil {
		t.Error("ParseSubscriptionID accepted a job id")
	}
	if _, err := id.ParseDLQID(id.NewDeliveryID().String()); err == nil {
		t.Error("ParseDLQID accepted a delivery id")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" || i.Prefix() != "" {
		t.Errorf("expected empty string and prefix, got %q / %q", i.String(), i.Prefix())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		ID    id.JobID `json:"id"`
		Other id.ID    `json:"other"`
	}
	in := wrapper{ID: id.NewJobID()}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID.String() != in.ID.String() {
		t.Errorf("mismatch: %q != %q", out.ID, in.ID)
	}
	if !out.Other.IsNil() {
		t.Error("expected nil for empty id field")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewSubscriptionID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	var scanned id.ID
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilID id.ID
	if val, _ := nilID.Value(); val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}
	if err := scanned.Scan([]byte(nil)); err != nil || !scanned.IsNil() {
		t.Errorf("expected nil after scanning empty bytes, err=%v", err)
	}
	if err := scanned.Scan(42); err == nil {
		t.Error("expected error scanning an int")
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		s := id.NewJobID().String()
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate id %q", s)
		}
		seen[s] = struct{}{}
	}
}
