package profile

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/plclink/internal/plc"
)

// maxNameLength bounds profile names.
const maxNameLength = 100

// Variable is one monitored node in a profile.
type Variable struct {
	Namespace plc.Namespace `json:"namespace"`
	Name      string        `json:"name"`
}

// Key returns the variable's store key.
func (v Variable) Key() plc.Key {
	return plc.NewKey(v.Namespace, v.Name)
}

// Profile is a controller URL and the variables to monitor on it.
type Profile struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	Variables []Variable `json:"variables"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Validate checks the fields a profile must carry.
func (p *Profile) Validate() error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidProfile, maxNameLength)
	}
	if !strings.HasPrefix(p.URL, "opc.tcp://") {
		return fmt.Errorf("%w: url must start with opc.tcp://", ErrInvalidProfile)
	}
	for i, v := range p.Variables {
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("%w: variables[%d] has no name", ErrInvalidProfile, i)
		}
		if _, err := v.Namespace.Index(); err != nil {
			return fmt.Errorf("%w: variables[%d]: %w", ErrInvalidProfile, i, err)
		}
	}
	return nil
}
