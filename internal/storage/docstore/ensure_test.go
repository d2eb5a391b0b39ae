package docstore

import (
	"context"
	"testing"
)

func TestEnsureDocument(t *testing.T) {
	tests := []struct {
		name     string
		existing *string
		want     Outcome
		wantBody string
	}{
		{name: "absent is created", want: OutcomeCreated, wantBody: "{}"},
		{name: "object is left alone", existing: strp(`{"experiment_x":{}}`), want: OutcomeClean, wantBody: `{"experiment_x":{}}`},
		{name: "empty object is clean", existing: strp(`{}`), want: OutcomeClean, wantBody: `{}`},
		{name: "array is reset", existing: strp(`[1,2]`), want: OutcomeReset, wantBody: "{}"},
		{name: "null is reset", existing: strp(`null`), want: OutcomeReset, wantBody: "{}"},
		{name: "garbage is reset", existing: strp(`not json`), want: OutcomeReset, wantBody: "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			c := NewMemoryCollection()
			if tt.existing != nil {
				if _, err := c.Insert(ctx, "root", []byte(*tt.existing)); err != nil {
					t.Fatal(err)
				}
			}

			got, err := EnsureDocument(ctx, c, "root")
			if err != nil {
				t.Fatalf("EnsureDocument: %v", err)
			}
			if got != tt.want {
				t.Errorf("outcome = %v, want %v", got, tt.want)
			}

			doc, err := c.Get(ctx, "root")
			if err != nil {
				t.Fatal(err)
			}
			if string(doc.Body) != tt.wantBody {
				t.Errorf("body = %s, want %s", doc.Body, tt.wantBody)
			}
		})
	}
}

func TestEnsureWithRepair(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCollection()
	if _, err := c.Insert(ctx, "root", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}

	repair := func(body []byte) ([]byte, Outcome) {
		if string(body) == `{"a":1,"b":[]}` {
			return nil, OutcomeClean
		}
		return []byte(`{"a":1,"b":[]}`), OutcomeRepaired
	}

	got, err := EnsureWith(ctx, c, "root", []byte(`{"b":[]}`), repair)
	if err != nil {
		t.Fatalf("EnsureWith: %v", err)
	}
	if got != OutcomeRepaired {
		t.Errorf("outcome = %v, want repaired", got)
	}

	got, err = EnsureWith(ctx, c, "root", []byte(`{"b":[]}`), repair)
	if err != nil {
		t.Fatalf("EnsureWith: %v", err)
	}
	if got != OutcomeClean {
		t.Errorf("second outcome = %v, want clean", got)
	}
}

func TestOutcomeString(t *testing.T) {
	for o, want := range map[Outcome]string{
		OutcomeClean:    "clean",
		OutcomeCreated:  "created",
		OutcomeRepaired: "repaired",
		OutcomeReset:    "reset",
		Outcome(42):     "unknown",
	} {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", o, got, want)
		}
	}
}

func strp(s string) *string { return &s }

func TestEnsureDocumentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCollection()

	if got, err := EnsureDocument(ctx, c, "root"); err != nil || got != OutcomeCreated {
		t.Fatalf("first EnsureDocument = %v, %v", got, err)
	}
	before, err := c.Get(ctx, "root")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		got, err := EnsureDocument(ctx, c, "root")
		if err != nil {
			t.Fatalf("EnsureDocument: %v", err)
		}
		if got != OutcomeClean {
			t.Errorf("outcome = %v, want clean", got)
		}
	}

	after, err := c.Get(ctx, "root")
	if err != nil {
		t.Fatal(err)
	}
	if after.CAS != before.CAS || string(after.Body) != string(before.Body) {
		t.Errorf("document changed: cas %d -> %d, body %s -> %s", before.CAS, after.CAS, before.Body, after.Body)
	}
}
