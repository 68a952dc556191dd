package profile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nerrad567/plclink/internal/infrastructure/database"
	_ "github.com/nerrad567/plclink/migrations"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "profiles.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func sampleProfile(name string) *Profile {
	return &Profile{
		Name: name,
		URL:  "opc.tcp://192.168.0.10:4840",
		Variables: []Variable{
			{Namespace: "4", Name: "SinalPython"},
			{Namespace: "4", Name: "Trigger"},
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	p := sampleProfile("line-1")
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.ID == "" {
		t.Fatal("Create() did not assign an ID")
	}
	if p.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	got, err := repo.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "line-1" || got.URL != p.URL || got.Active {
		t.Errorf("Get() = %+v", got)
	}
	if len(got.Variables) != 2 || got.Variables[0].Name != "SinalPython" || got.Variables[1].Name != "Trigger" {
		t.Errorf("Variables = %+v, want insertion order", got.Variables)
	}

	byName, err := repo.GetByName(ctx, " line-1 ")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if byName.ID != p.ID {
		t.Errorf("GetByName().ID = %s, want %s", byName.ID, p.ID)
	}
}

func TestCreateCanonicalisesNamespace(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	p := sampleProfile("padded")
	p.Variables = []Variable{{Namespace: "04", Name: "X"}}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Get(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Variables[0].Namespace != "4" {
		t.Errorf("Namespace = %q, want 4", got.Variables[0].Namespace)
	}
}

func TestCreateDuplicateName(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, sampleProfile("dup")); err != nil {
		t.Fatal(err)
	}
	err := repo.Create(ctx, sampleProfile("dup"))
	if !errors.Is(err, ErrExists) {
		t.Errorf("Create() duplicate error = %v, want ErrExists", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantErr bool
	}{
		{"valid", func(*Profile) {}, false},
		{"no variables", func(p *Profile) { p.Variables = nil }, false},
		{"empty name", func(p *Profile) { p.Name = "  " }, true},
		{"bad url", func(p *Profile) { p.URL = "http://plc" }, true},
		{"variable without name", func(p *Profile) { p.Variables[1].Name = "" }, true},
		{"non-numeric namespace", func(p *Profile) { p.Variables[0].Namespace = "abc" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := sampleProfile("x")
			tt.mutate(p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidProfile) {
				t.Errorf("error %v is not ErrInvalidProfile", err)
			}
		})
	}
}

func TestGetNotFound(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetByName(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByName() error = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetActive(ctx); !errors.Is(err, ErrNoActive) {
		t.Errorf("GetActive() error = %v, want ErrNoActive", err)
	}
}

func TestList(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	for _, name := range []string{"b", "a", "c"} {
		if err := repo.Create(ctx, sampleProfile(name)); err != nil {
			t.Fatal(err)
		}
	}
	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].Name != want {
			t.Errorf("List()[%d].Name = %s, want %s", i, list[i].Name, want)
		}
		if len(list[i].Variables) != 2 {
			t.Errorf("List()[%d] has %d variables", i, len(list[i].Variables))
		}
	}
}

func TestUpdate(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	p := sampleProfile("line-1")
	if err := repo.Create(ctx, p); err != nil {
		t.Fatal(err)
	}

	p.URL = "opc.tcp://10.0.0.2:4840"
	p.Variables = []Variable{{Namespace: "2", Name: "Only"}}
	if err := repo.Update(ctx, p); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.Get(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != "opc.tcp://10.0.0.2:4840" {
		t.Errorf("URL = %s", got.URL)
	}
	if len(got.Variables) != 1 || got.Variables[0].Name != "Only" {
		t.Errorf("Variables = %+v", got.Variables)
	}

	missing := sampleProfile("ghost")
	missing.ID = "nope"
	if err := repo.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() missing error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	p := sampleProfile("gone")
	if err := repo.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.Get(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
	if err := repo.Delete(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}

	var n int
	if err := repo.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM profile_variables").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("profile_variables rows = %d, want cascade to 0", n)
	}
}

func TestSetActive(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	a, b := sampleProfile("a"), sampleProfile("b")
	for _, p := range []*Profile{a, b} {
		if err := repo.Create(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	if err := repo.SetActive(ctx, a.ID); err != nil {
		t.Fatalf("SetActive(a) error = %v", err)
	}
	if err := repo.SetActive(ctx, b.ID); err != nil {
		t.Fatalf("SetActive(b) error = %v", err)
	}
	active, err := repo.GetActive(ctx)
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if active.ID != b.ID {
		t.Errorf("active = %s, want %s", active.Name, "b")
	}
	got, err := repo.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active {
		t.Error("a should no longer be active")
	}

	if err := repo.SetActive(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetActive(missing) error = %v, want ErrNotFound", err)
	}
	if active, err := repo.GetActive(ctx); err != nil || active.ID != b.ID {
		t.Errorf("failed SetActive changed the active profile: %v, %v", active, err)
	}
}
