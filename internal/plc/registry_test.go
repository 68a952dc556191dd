package plc

import "testing"

func TestSubscriptionMatches(t *testing.T) {
	tests := []struct {
		name  string
		sub   Subscription
		index uint16
		id    string
		want  bool
	}{
		{"exact", Subscription{Namespace: "4", Name: "A"}, 4, "A", true},
		{"padded namespace", Subscription{Namespace: "04", Name: "A"}, 4, "A", true},
		{"other namespace", Subscription{Namespace: "3", Name: "A"}, 4, "A", false},
		{"other name", Subscription{Namespace: "4", Name: "B"}, 4, "A", false},
		{"case sensitive", Subscription{Namespace: "4", Name: "a"}, 4, "A", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Matches(tt.index, tt.id); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Add(Subscription{Namespace: "4", Name: "A"})
	r.Add(Subscription{Namespace: "4", Name: "B"})
	r.Add(Subscription{Namespace: "4", Name: "A"})

	if got := r.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
	if got := len(r.Match(4, "A")); got != 2 {
		t.Errorf("Match(4, A) = %d records, want 2", got)
	}
	if got := r.Match(4, "C"); len(got) != 0 {
		t.Errorf("Match(4, C) = %v, want none", got)
	}

	keys := r.Keys()
	if len(keys) != 2 || keys[0] != "ns=4;s=A" || keys[1] != "ns=4;s=B" {
		t.Errorf("Keys() = %v", keys)
	}

	snap := r.Snapshot()
	r.Add(Subscription{Namespace: "4", Name: "C"})
	if len(snap) != 3 {
		t.Errorf("snapshot changed after Add: %d", len(snap))
	}
}
