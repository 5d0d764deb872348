// Package datasource defines the CCD catalog and blob fetch collaborator,
// kept external to the pipeline core, and a deterministic stub
// implementation for development and tests.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/skyquick/quicklook/internal/quicklook"
)

// Static implements quicklook.Datasource by returning a fixed CCD name set
// per visit, registered ahead of time. A production deployment replaces
// this with a client against the real exposure catalog; nothing in the
// core pipeline depends on how CCD names are resolved.
type Static struct {
	ccds        map[quicklook.Visit][]string
	defaultCcds []string
}

// NewStatic creates a static datasource with no registered visits.
func NewStatic() *Static {
	return &Static{ccds: make(map[quicklook.Visit][]string)}
}

// Register associates visit with a CCD name set, sorted for determinism.
func (s *Static) Register(visit quicklook.Visit, ccdNames []string) {
	s.ccds[visit] = sortedCopy(ccdNames)
}

// RegisterDefault sets the CCD name set returned for any visit not
// explicitly registered via Register. A single static instrument layout
// (the full CCD grid) can then serve arbitrary incoming visit identifiers,
// matching how a real catalog would answer for any visit it has exposure
// records for.
func (s *Static) RegisterDefault(ccdNames []string) {
	s.defaultCcds = sortedCopy(ccdNames)
}

func sortedCopy(names []string) []string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	return sorted
}

// errUnknownVisit is returned when CCDNames is asked about a visit with
// neither an explicit registration nor a default CCD set configured.
var errUnknownVisit = errors.New("datasource: visit not registered")

// CCDNames returns the CCD names belonging to visit.
func (s *Static) CCDNames(_ context.Context, visit quicklook.Visit) ([]string, error) {
	if names, ok := s.ccds[visit]; ok {
		return names, nil
	}

	if s.defaultCcds != nil {
		return s.defaultCcds, nil
	}

	return nil, fmt.Errorf("%w: %s", errUnknownVisit, visit)
}
