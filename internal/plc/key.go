package plc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Key is the canonical identity of a monitored variable: "ns=<N>;s=<Name>".
// Keys are compared as plain strings.
type Key string

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k)
}

// Namespace is an OPC UA namespace index as supplied by a caller.
//
// Configuration files and callers may spell the index as a number or as text,
// so the raw form is kept and Canonical is used whenever two namespaces are
// compared.
type Namespace string

// NamespaceIndex returns the Namespace for a numeric index.
func NamespaceIndex(index uint16) Namespace {
	return Namespace(strconv.FormatUint(uint64(index), 10))
}

// Canonical returns the decimal form of the namespace index.
// Values that are not integers are returned trimmed but otherwise unchanged.
func (n Namespace) Canonical() string {
	s := strings.TrimSpace(string(n))
	if v, err := strconv.ParseUint(s, 10, 16); err == nil {
		return strconv.FormatUint(v, 10)
	}
	return s
}

// Index returns the numeric namespace index.
func (n Namespace) Index() (uint16, error) {
	v, err := strconv.ParseUint(n.Canonical(), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: namespace %q is not an index", ErrInvalidKey, string(n))
	}
	return uint16(v), nil
}

// Matches reports whether both namespaces name the same index.
func (n Namespace) Matches(other Namespace) bool {
	return n.Canonical() == other.Canonical()
}

// UnmarshalJSON accepts both 4 and "4".
func (n *Namespace) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Namespace(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("namespace must be a number or string: %w", err)
	}
	*n = Namespace(num.String())
	return nil
}

// UnmarshalYAML accepts any scalar.
func (n *Namespace) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("namespace must be a scalar (line %d)", value.Line)
	}
	*n = Namespace(value.Value)
	return nil
}

// NewKey builds the key for a namespace and symbolic name exactly as given.
func NewKey(ns Namespace, name string) Key {
	return Key("ns=" + string(ns) + ";s=" + name)
}

// CanonicalKey builds the key the controller reports for a notification.
func CanonicalKey(index uint16, identifier string) Key {
	return NewKey(NamespaceIndex(index), identifier)
}

// ParseKey splits a key into its namespace and name.
func ParseKey(s string) (Namespace, string, error) {
	rest, ok := strings.CutPrefix(s, "ns=")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	ns, name, ok := strings.Cut(rest, ";s=")
	if !ok || ns == "" || name == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return Namespace(ns), name, nil
}
