// Package quicklook implements the distributed job pipeline that drives one
// quicklook image pyramid from submission to publication: the coordinator's
// staged job scheduler, the scatter/gather protocol between coordinator and
// workers, the progress-streaming channel, cross-worker tile-merge
// arbitration, and the publication/housekeeping lifecycle. The package is
// framework-free: it depends on no HTTP router and is driven entirely by its
// own types, so both the coordinator and worker HTTP surfaces (in sibling
// packages) can depend on it without it ever depending back on them.
package quicklook

import "strings"

// Visit identifies one exposure, formatted "<kind>:<name>" (e.g.
// "raw:broccoli"). It is treated as an opaque key; the kind prefix is used
// only to route datasource requests. Equality is string equality.
type Visit string

// Kind returns the portion of the visit identifier before the first colon.
func (v Visit) Kind() string {
	kind, _, _ := strings.Cut(string(v), ":")

	return kind
}

// Name returns the portion of the visit identifier after the first colon.
func (v Visit) Name() string {
	_, name, _ := strings.Cut(string(v), ":")

	return name
}

// String implements fmt.Stringer.
func (v Visit) String() string {
	return string(v)
}
