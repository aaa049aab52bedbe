package models

import "followup/pkg/platform/strings"

// PilotGate decides whether the organisational unit owning a case takes part
// in the follow-up pilot.
type PilotGate interface {
	Enabled(period SicknessCasePeriod) bool
}

// AllUnits enables every case.
type AllUnits struct{}

func (AllUnits) Enabled(SicknessCasePeriod) bool { return true }

// UnitResolver maps a case to the unit that owns it. The second result is
// false when no unit can be determined.
type UnitResolver func(period SicknessCasePeriod) (string, bool)

// FirstEmployer resolves the owning unit as the first non-blank employer id.
func FirstEmployer(period SicknessCasePeriod) (string, bool) {
	ids := strings.DedupeAndTrim(period.EmployerIDs)
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// UnitSet enables cases whose resolved unit is in a configured set.
type UnitSet struct {
	units   map[string]struct{}
	resolve UnitResolver
}

// NewUnitSet builds a gate over units. A nil resolver means FirstEmployer.
func NewUnitSet(units []string, resolve UnitResolver) *UnitSet {
	if resolve == nil {
		resolve = FirstEmployer
	}
	set := make(map[string]struct{}, len(units))
	for _, u := range strings.DedupeAndTrim(units) {
		set[u] = struct{}{}
	}
	return &UnitSet{units: set, resolve: resolve}
}

func (g *UnitSet) Enabled(period SicknessCasePeriod) bool {
	unit, ok := g.resolve(period)
	if !ok {
		return false
	}
	_, enabled := g.units[unit]
	return enabled
}
