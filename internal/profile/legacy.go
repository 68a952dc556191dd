package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nerrad567/plclink/internal/plc"
)

// legacyFile is the plc_config.json layout: variables are [ns, name] pairs.
type legacyFile struct {
	URL       string              `json:"url"`
	Variables [][]json.RawMessage `json:"variables"`
}

// ParseLegacy reads a plc_config.json document. Entries with fewer than two
// elements are skipped; elements after the name are ignored.
func ParseLegacy(r io.Reader) (url string, vars []Variable, err error) {
	var doc legacyFile
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return "", nil, fmt.Errorf("%w: decoding legacy config: %w", ErrInvalidProfile, err)
	}

	vars = make([]Variable, 0, len(doc.Variables))
	for i, entry := range doc.Variables {
		if len(entry) < 2 {
			continue
		}
		var v Variable
		if err := json.Unmarshal(entry[0], &v.Namespace); err != nil {
			return "", nil, fmt.Errorf("%w: variables[%d] namespace: %w", ErrInvalidProfile, i, err)
		}
		if err := json.Unmarshal(entry[1], &v.Name); err != nil {
			return "", nil, fmt.Errorf("%w: variables[%d] name must be a string", ErrInvalidProfile, i)
		}
		vars = append(vars, v)
	}
	return doc.URL, vars, nil
}

// ImportLegacy parses r and stores it under name, replacing the URL and
// variables of an existing profile with that name.
func ImportLegacy(ctx context.Context, repo Repository, name string, r io.Reader) (*Profile, error) {
	url, vars, err := ParseLegacy(r)
	if err != nil {
		return nil, err
	}

	existing, err := repo.GetByName(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		p := &Profile{Name: name, URL: url, Variables: vars}
		if err := repo.Create(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	case err != nil:
		return nil, err
	}

	existing.URL = url
	existing.Variables = vars
	if err := repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// ImportLegacyFile imports the file at path and activates the result when
// no profile is active yet.
func ImportLegacyFile(ctx context.Context, repo Repository, name, path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening legacy config: %w", err)
	}
	defer f.Close()

	p, err := ImportLegacy(ctx, repo, name, f)
	if err != nil {
		return nil, err
	}

	if _, err := repo.GetActive(ctx); errors.Is(err, ErrNoActive) {
		if err := repo.SetActive(ctx, p.ID); err != nil {
			return nil, err
		}
		p.Active = true
	} else if err != nil {
		return nil, err
	}
	return p, nil
}

// Subscriber is the part of plc.Manager that Apply needs.
type Subscriber interface {
	Subscribe(ns plc.Namespace, name string, cb plc.Callback)
	Registry() *plc.Registry
}

// Apply subscribes every variable of p that is not registered yet and
// returns how many were added.
func Apply(s Subscriber, p *Profile) int {
	known := make(map[plc.Key]bool)
	for _, k := range s.Registry().Keys() {
		if ns, name, err := plc.ParseKey(string(k)); err == nil {
			known[plc.NewKey(plc.Namespace(ns.Canonical()), name)] = true
		}
	}

	added := 0
	for _, v := range p.Variables {
		k := plc.NewKey(plc.Namespace(v.Namespace.Canonical()), v.Name)
		if known[k] {
			continue
		}
		known[k] = true
		s.Subscribe(v.Namespace, v.Name, nil)
		added++
	}
	return added
}
