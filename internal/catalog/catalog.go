// Package catalog holds the static service catalog offered by the request
// form: supported service types, their display labels, the specialist title
// shown in the registration keyboard, and the list of common problems per
// type.
//
// The catalog is immutable after package initialisation and safe for
// concurrent use.
package catalog

import (
	"strings"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
)

// Entry describes one service type.
type Entry struct {
	Type domain.ServiceType `json:"id"`
	// Label is the service name shown on the form ("Plumbing").
	Label string `json:"label"`
	// Specialist is the trade title offered during registration ("Plumber").
	Specialist string `json:"specialist"`
	// Problems are the common-problem options for this type.
	Problems []string `json:"problems"`
}

var entries = []Entry{
	{
		Type:       domain.ServicePlumbing,
		Label:      "Plumbing",
		Specialist: "Plumber",
		Problems:   []string{"Leaking tap", "Blocked drain", "Mixer replacement"},
	},
	{
		Type:       domain.ServiceElectrical,
		Label:      "Electrical",
		Specialist: "Electrician",
		Problems:   []string{"Socket replacement", "Chandelier installation", "Short circuit"},
	},
	{
		Type:       domain.ServiceLocksmith,
		Label:      "Locksmith",
		Specialist: "Locksmith",
		Problems:   []string{"Lock replacement", "Door opening", "Lock repair"},
	},
	{
		Type:       domain.ServiceCarpenter,
		Label:      "Carpentry",
		Specialist: "Carpenter",
		Problems:   []string{"Door repair", "Shelf installation", "Furniture assembly"},
	},
}

// Entries returns a copy of the catalog in display order.
func Entries() []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Problems = append([]string(nil), e.Problems...)
		out[i] = e
	}
	return out
}

// Lookup returns the entry for t.
func Lookup(t domain.ServiceType) (Entry, bool) {
	for _, e := range entries {
		if e.Type == t {
			return e, true
		}
	}
	return Entry{}, false
}

// Label returns the display label for t, or t itself when unknown.
func Label(t domain.ServiceType) string {
	if e, ok := Lookup(t); ok {
		return e.Label
	}
	return string(t)
}

// ParseSpecialization maps a free-text answer to a service type. The id,
// the service label and the specialist title are all accepted, ignoring
// case and surrounding space.
func ParseSpecialization(text string) (domain.ServiceType, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return "", false
	}
	for _, e := range entries {
		if s == string(e.Type) || s == strings.ToLower(e.Label) || s == strings.ToLower(e.Specialist) {
			return e.Type, true
		}
	}
	return "", false
}

// SpecialistTitles returns the registration keyboard options, two per row.
func SpecialistTitles() [][]string {
	rows := make([][]string, 0, (len(entries)+1)/2)
	for i := 0; i < len(entries); i += 2 {
		row := []string{entries[i].Specialist}
		if i+1 < len(entries) {
			row = append(row, entries[i+1].Specialist)
		}
		rows = append(rows, row)
	}
	return rows
}

// IsKnownProblem reports whether p is one of the listed problems for t.
func IsKnownProblem(t domain.ServiceType, p string) bool {
	e, ok := Lookup(t)
	if !ok {
		return false
	}
	for _, q := range e.Problems {
		if strings.EqualFold(q, strings.TrimSpace(p)) {
			return true
		}
	}
	return false
}
