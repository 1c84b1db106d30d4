package loads

import "strings"

// Criteria is a set of optional filters combined with logical AND.
// Empty fields do not filter.
//
// City and state match exactly, ignoring case and surrounding space.
// Equipment type and commodity match as case-insensitive substrings.
// PickupDate (YYYY-MM-DD) matches the calendar day of the pickup timestamp.
type Criteria struct {
	OriginCity       string
	OriginState      string
	DestinationCity  string
	DestinationState string
	EquipmentType    string
	Commodity        string
	PickupDate       string
}

// IsEmpty reports whether no filter is set.
func (c Criteria) IsEmpty() bool {
	return c.normalized() == Criteria{}
}

func (c Criteria) normalized() Criteria {
	return Criteria{
		OriginCity:       fold(c.OriginCity),
		OriginState:      fold(c.OriginState),
		DestinationCity:  fold(c.DestinationCity),
		DestinationState: fold(c.DestinationState),
		EquipmentType:    fold(c.EquipmentType),
		Commodity:        fold(c.Commodity),
		PickupDate:       strings.TrimSpace(c.PickupDate),
	}
}

// Matches reports whether l satisfies every filter in c.
func (c Criteria) Matches(l Load) bool {
	return c.normalized().matches(l)
}

func (c Criteria) matches(l Load) bool {
	if c.OriginCity != "" && fold(l.Origin.City) != c.OriginCity {
		return false
	}
	if c.OriginState != "" && fold(l.Origin.State) != c.OriginState {
		return false
	}
	if c.DestinationCity != "" && fold(l.Destination.City) != c.DestinationCity {
		return false
	}
	if c.DestinationState != "" && fold(l.Destination.State) != c.DestinationState {
		return false
	}
	if c.EquipmentType != "" && !strings.Contains(fold(l.EquipmentType), c.EquipmentType) {
		return false
	}
	if c.Commodity != "" && !strings.Contains(fold(l.CommodityType), c.Commodity) {
		return false
	}
	if c.PickupDate != "" {
		day, ok := l.PickupDay()
		if !ok || day != c.PickupDate {
			return false
		}
	}
	return true
}

func filter(all []Load, c Criteria) []Load {
	c = c.normalized()
	out := make([]Load, 0, len(all))
	for _, l := range all {
		if c.matches(l) {
			out = append(out, l)
		}
	}
	return out
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
