package location

import (
	"fmt"
	"strings"
)

// Update is an operator edit of a location. Nil fields are left untouched.
type Update struct {
	DisplayName *string
	Street      *string
	HouseNumber *string
	PostalCode  *string
	City        *string
	Country     *string
	Coordinates *Coordinates
	Status      *Status
}

// Apply copies the set fields of u onto l and reports whether anything was
// set. An invalid status is rejected before any field is changed.
func (l *Location) Apply(u Update) (bool, error) {
	if u.Status != nil && !u.Status.Valid() {
		return false, fmt.Errorf("invalid location status: %q", *u.Status)
	}

	changed := false
	set := func(dst *string, src *string) {
		if src == nil {
			return
		}
		*dst = strings.TrimSpace(*src)
		changed = true
	}

	set(&l.DisplayName, u.DisplayName)
	set(&l.Street, u.Street)
	set(&l.HouseNumber, u.HouseNumber)
	set(&l.PostalCode, u.PostalCode)
	set(&l.City, u.City)
	set(&l.Country, u.Country)

	if u.Coordinates != nil {
		rounded := u.Coordinates.Round()
		l.Coordinates = &rounded
		changed = true
	}
	if u.Status != nil {
		l.Status = *u.Status
		changed = true
	}

	return changed, nil
}

// Empty reports whether u sets no field.
func (u Update) Empty() bool {
	return u.DisplayName == nil && u.Street == nil && u.HouseNumber == nil &&
		u.PostalCode == nil && u.City == nil && u.Country == nil &&
		u.Coordinates == nil && u.Status == nil
}
