// Package controls holds the compliance control catalog and maps findings
// onto it.
package controls

import (
	"errors"
	"fmt"

	"github.com/hakim/readyscan/internal/models"
)

// Catalog is the ordered, read-only set of controls. It is shared by every
// job once built.
type Catalog struct {
	controls []models.Control
	byID     map[string]int
}

// NewCatalog validates controls and builds a catalog. The uncategorized
// fallback control must be present. Any problem is returned as a
// *models.ScoringError because a bad catalog makes every score meaningless.
func NewCatalog(controls []models.Control) (*Catalog, error) {
	var errs []error
	byID := make(map[string]int, len(controls))
	for i, c := range controls {
		switch {
		case c.ID == "":
			errs = append(errs, fmt.Errorf("control %d: id is required", i))
			continue
		case c.Name == "":
			errs = append(errs, fmt.Errorf("control %s: name is required", c.ID))
		case c.Weight <= 0:
			errs = append(errs, fmt.Errorf("control %s: weight must be positive", c.ID))
		case c.PartialMaxFindings < 0:
			errs = append(errs, fmt.Errorf("control %s: partial_max_findings must not be negative", c.ID))
		}
		if _, dup := byID[c.ID]; dup {
			errs = append(errs, fmt.Errorf("control %s: duplicate id", c.ID))
			continue
		}
		byID[c.ID] = i
	}
	if _, ok := byID[models.UncategorizedControlID]; !ok {
		errs = append(errs, fmt.Errorf("catalog must include the %s control", models.UncategorizedControlID))
	}
	if len(errs) > 0 {
		return nil, &models.ScoringError{Err: errors.Join(errs...)}
	}

	cp := make([]models.Control, len(controls))
	copy(cp, controls)
	return &Catalog{controls: cp, byID: byID}, nil
}

// Controls returns a copy of the catalog in declaration order.
func (c *Catalog) Controls() []models.Control {
	out := make([]models.Control, len(c.controls))
	copy(out, c.controls)
	return out
}

// Get looks up a control by ID.
func (c *Catalog) Get(id string) (models.Control, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.Control{}, false
	}
	return c.controls[i], true
}

// Has reports whether id is cataloged.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Len is the number of controls, including the fallback.
func (c *Catalog) Len() int {
	return len(c.controls)
}
