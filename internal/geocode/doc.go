// Package geocode turns free-text venue names into coordinates.
//
// A Geocoder never returns an error: every failure is classified into the
// Status of the Result, so callers can record the outcome and move on.
// GoogleClient talks to the Google Maps Geocoding API; DryRun performs no
// network call and returns a deterministic placeholder for offline use.
package geocode
