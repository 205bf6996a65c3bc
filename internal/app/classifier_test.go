package app

import (
	"testing"

	"github.com/google/uuid"
)

func TestClassifyReference(t *testing.T) {
	subID := uuid.New()

	cases := []struct {
		reference string
		want      FlowKind
	}{
		{"SUB-" + subID.String(), FlowSubscription},
		{"sub-" + subID.String(), FlowSubscription}, // case-insensitive
		{"  SUB-" + subID.String() + "  ", FlowSubscription},
		{"SUB-not-a-uuid", FlowSubscription}, // prefix decides the flow, not validity
		{"INV-0042", FlowInvoice},
		{"SUBSCRIBE-ME", FlowInvoice}, // prefix must include the dash
		{"", FlowInvoice},             // classification is total
		{"   ", FlowInvoice},
		{"0042", FlowInvoice},
	}

	for _, tc := range cases {
		if got := ClassifyReference(tc.reference); got != tc.want {
			t.Fatalf("ClassifyReference(%q) = %s, want %s", tc.reference, got, tc.want)
		}
	}
}

func TestSubscriptionIDFromReference(t *testing.T) {
	subID := uuid.New()

	id, ok := SubscriptionIDFromReference("SUB-" + subID.String())
	if !ok || id != subID {
		t.Fatalf("expected %s, got %s ok=%t", subID, id, ok)
	}

	id, ok = SubscriptionIDFromReference("sub-" + subID.String())
	if !ok || id != subID {
		t.Fatal("prefix match must be case-insensitive")
	}

	for _, bad := range []string{"", "SUB-", "SUB-not-a-uuid", "INV-0042", subID.String()} {
		if _, ok := SubscriptionIDFromReference(bad); ok {
			t.Fatalf("expected no subscription id from %q", bad)
		}
	}
}
