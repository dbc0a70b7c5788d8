package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/parking-lot-allocation/internal/model"
	"github.com/iliyamo/parking-lot-allocation/internal/repository"
)

// Fleet is the topology file provisioned at startup:
//
//	lots:
//	  - id: LOT-1
//	    capacity: 2
//	attendants:
//	  - id: ATT-1
//	    lots: [LOT-1]
//	coordinators:
//	  - id: COORD-1
//	    attendants: [ATT-1]
//
// A flat deployment lists lots only.
type Fleet struct {
	Lots         []FleetLot          `yaml:"lots"`
	Attendants   []model.Attendant   `yaml:"attendants"`
	Coordinators []model.Coordinator `yaml:"coordinators"`
}

type FleetLot struct {
	ID       string `yaml:"id"`
	Capacity int    `yaml:"capacity"`
}

// LoadFleet reads and validates a fleet file.
func LoadFleet(path string) (Fleet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Fleet{}, fmt.Errorf("read fleet file: %w", err)
	}
	return ParseFleet(raw)
}

// ParseFleet decodes YAML and validates it.  Unknown keys are rejected so
// typos do not silently drop lots.
func ParseFleet(raw []byte) (Fleet, error) {
	var f Fleet
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Fleet{}, fmt.Errorf("parse fleet file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Fleet{}, err
	}
	return f, nil
}

// Validate checks ids are present and unique per kind and capacities are
// positive.  References to ids that do not exist are allowed; the
// allocator treats them as having no capacity.
func (f Fleet) Validate() error {
	seen := map[string]bool{}
	for _, l := range f.Lots {
		if l.ID == "" {
			return errors.New("fleet: lot without id")
		}
		if seen[l.ID] {
			return fmt.Errorf("fleet: duplicate lot %q", l.ID)
		}
		if l.Capacity <= 0 {
			return fmt.Errorf("fleet: lot %q: capacity must be positive", l.ID)
		}
		seen[l.ID] = true
	}
	seen = map[string]bool{}
	for _, a := range f.Attendants {
		if a.ID == "" {
			return errors.New("fleet: attendant without id")
		}
		if seen[a.ID] {
			return fmt.Errorf("fleet: duplicate attendant %q", a.ID)
		}
		seen[a.ID] = true
	}
	seen = map[string]bool{}
	for _, c := range f.Coordinators {
		if c.ID == "" {
			return errors.New("fleet: coordinator without id")
		}
		if seen[c.ID] {
			return fmt.Errorf("fleet: duplicate coordinator %q", c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

// Provision creates every entity of the fleet.  Entities that already
// exist are left as they are, so provisioning on each start is safe.
func Provision(ctx context.Context, p repository.Provisioner, f Fleet) error {
	for _, l := range f.Lots {
		if err := p.CreateLot(ctx, l.ID, l.Capacity); err != nil {
			return fmt.Errorf("provision lot %s: %w", l.ID, err)
		}
	}
	for _, a := range f.Attendants {
		if err := p.CreateAttendant(ctx, a); err != nil {
			return fmt.Errorf("provision attendant %s: %w", a.ID, err)
		}
	}
	for _, c := range f.Coordinators {
		if err := p.CreateCoordinator(ctx, c); err != nil {
			return fmt.Errorf("provision coordinator %s: %w", c.ID, err)
		}
	}
	return nil
}
