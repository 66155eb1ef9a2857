// Package location provides the venue model shared by collectors, the
// reconciler and the operator tooling.
//
// A location is scoped to one source: "Stauseehalle" scraped from two
// municipalities is two rows. Its review status is derived once when the row is
// created (confirmed when coordinates are known, pending otherwise) and is only
// changed afterwards by explicit operator actions.
package location
