package profile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/plclink/internal/plc"
)

const legacyJSON = `{
	"url": "opc.tcp://192.168.0.1:4840",
	"variables": [[4, "SinalPython"], ["4", "Trigger"], [3], [2, "Extra", "ignored"]]
}`

func TestParseLegacy(t *testing.T) {
	url, vars, err := ParseLegacy(strings.NewReader(legacyJSON))
	if err != nil {
		t.Fatalf("ParseLegacy() error = %v", err)
	}
	if url != "opc.tcp://192.168.0.1:4840" {
		t.Errorf("url = %s", url)
	}
	want := []Variable{{"4", "SinalPython"}, {"4", "Trigger"}, {"2", "Extra"}}
	if len(vars) != len(want) {
		t.Fatalf("vars = %+v, want %+v", vars, want)
	}
	for i := range want {
		if vars[i] != want[i] {
			t.Errorf("vars[%d] = %+v, want %+v", i, vars[i], want[i])
		}
	}
}

func TestParseLegacyErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "{"},
		{"numeric name", `{"url":"opc.tcp://x","variables":[[4, 5]]}`},
		{"object namespace", `{"url":"opc.tcp://x","variables":[[{}, "X"]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseLegacy(strings.NewReader(tt.input))
			if !errors.Is(err, ErrInvalidProfile) {
				t.Errorf("ParseLegacy() error = %v, want ErrInvalidProfile", err)
			}
		})
	}
}

func TestImportLegacyUpserts(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	first, err := ImportLegacy(ctx, repo, "legacy", strings.NewReader(legacyJSON))
	if err != nil {
		t.Fatalf("ImportLegacy() error = %v", err)
	}

	second, err := ImportLegacy(ctx, repo, "legacy",
		strings.NewReader(`{"url":"opc.tcp://10.1.1.1:4840","variables":[[4,"Only"]]}`))
	if err != nil {
		t.Fatalf("second ImportLegacy() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("re-import created a new profile: %s vs %s", second.ID, first.ID)
	}

	got, err := repo.Get(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != "opc.tcp://10.1.1.1:4840" || len(got.Variables) != 1 {
		t.Errorf("profile after re-import = %+v", got)
	}
}

func TestImportLegacyFileActivates(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "plc_config.json")
	if err := os.WriteFile(path, []byte(legacyJSON), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := ImportLegacyFile(ctx, repo, "legacy", path)
	if err != nil {
		t.Fatalf("ImportLegacyFile() error = %v", err)
	}
	if !p.Active {
		t.Error("imported profile should be activated when none is active")
	}

	other := sampleProfile("other")
	if err := repo.Create(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetActive(ctx, other.ID); err != nil {
		t.Fatal(err)
	}
	p, err = ImportLegacyFile(ctx, repo, "legacy", path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Active {
		t.Error("re-import must not steal the active flag")
	}

	if _, err := ImportLegacyFile(ctx, repo, "legacy", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
}

type fakeSubscriber struct {
	registry *plc.Registry
	calls    []plc.Key
}

func (f *fakeSubscriber) Subscribe(ns plc.Namespace, name string, cb plc.Callback) {
	f.calls = append(f.calls, plc.NewKey(ns, name))
	f.registry.Add(plc.Subscription{Namespace: ns, Name: name, Callback: cb})
}

func (f *fakeSubscriber) Registry() *plc.Registry { return f.registry }

func TestApply(t *testing.T) {
	sub := &fakeSubscriber{registry: plc.NewRegistry()}
	sub.registry.Add(plc.Subscription{Namespace: "04", Name: "SinalPython"})

	p := &Profile{Variables: []Variable{
		{"4", "SinalPython"},
		{"4", "Trigger"},
		{"4", "Trigger"},
	}}
	if n := Apply(sub, p); n != 1 {
		t.Errorf("Apply() = %d, want 1", n)
	}
	if len(sub.calls) != 1 || sub.calls[0] != "ns=4;s=Trigger" {
		t.Errorf("calls = %v", sub.calls)
	}
	if n := Apply(sub, p); n != 0 {
		t.Errorf("second Apply() = %d, want 0", n)
	}
}
