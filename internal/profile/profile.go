package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/starport-core/internal/connector"
)

// ErrInvalidProfile is wrapped by every validation failure.
var ErrInvalidProfile = errors.New("profile: invalid equipment profile")

// Profile is the set of drivers an observatory wants loaded.
type Profile struct {
	// Name is a human-readable profile name, e.g. "Backyard EQ6".
	Name string `yaml:"name"`

	// Drivers to keep running. Label defaults to Binary.
	Drivers []connector.Driver `yaml:"drivers"`
}

// Load reads and validates the profile at path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates profile YAML. Unknown keys are rejected so a
// misspelt field does not silently drop a driver's skeleton.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	for i := range p.Drivers {
		if p.Drivers[i].Label == "" {
			p.Drivers[i].Label = p.Drivers[i].Binary
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that every driver has a usable binary and a unique label.
func (p *Profile) Validate() error {
	var errs []string
	seen := make(map[string]bool, len(p.Drivers))

	for i, d := range p.Drivers {
		switch {
		case d.Binary == "":
			errs = append(errs, fmt.Sprintf("drivers[%d]: binary is required", i))
		case strings.ContainsAny(d.Binary, " \t\r\n\""):
			errs = append(errs, fmt.Sprintf("drivers[%d]: binary %q contains whitespace or quotes", i, d.Binary))
		}
		if strings.ContainsAny(d.Skeleton, "\r\n\"") {
			errs = append(errs, fmt.Sprintf("drivers[%d]: skeleton %q contains a line break or quote", i, d.Skeleton))
		}

		label := d.Label
		if label == "" {
			label = d.Binary
		}
		if label != "" && seen[label] {
			errs = append(errs, fmt.Sprintf("drivers[%d]: duplicate label %q", i, label))
		}
		seen[label] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, strings.Join(errs, "; "))
	}
	return nil
}
