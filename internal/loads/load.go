package loads

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load is a single freight shipment opportunity.
type Load struct {
	LoadID           string   `json:"load_id" yaml:"load_id"`
	Origin           Location `json:"origin" yaml:"origin"`
	Destination      Location `json:"destination" yaml:"destination"`
	PickupDatetime   string   `json:"pickup_datetime" yaml:"pickup_datetime"`
	DeliveryDatetime string   `json:"delivery_datetime" yaml:"delivery_datetime"`
	EquipmentType    string   `json:"equipment_type" yaml:"equipment_type"`
	LoadboardRate    float64  `json:"loadboard_rate" yaml:"loadboard_rate"`
	Notes            string   `json:"notes,omitempty" yaml:"notes"`
	Weight           float64  `json:"weight" yaml:"weight"`
	CommodityType    string   `json:"commodity_type" yaml:"commodity_type"`
	NumOfPieces      int      `json:"num_of_pieces,omitempty" yaml:"num_of_pieces"`
	Miles            float64  `json:"miles,omitempty" yaml:"miles"`
	Dimensions       string   `json:"dimensions,omitempty" yaml:"dimensions"`
}

// PickupDay returns the calendar day of the pickup timestamp as YYYY-MM-DD.
// The day is taken as written, without any timezone conversion.
func (l Load) PickupDay() (string, bool) {
	return calendarDay(l.PickupDatetime)
}

// Location is a city and state pair. On the wire it is the string "City, ST".
type Location struct {
	City  string `json:"city" yaml:"city"`
	State string `json:"state" yaml:"state"`
}

// ParseLocation splits "City, ST" into its parts. A value without a comma is
// treated as a bare city.
func ParseLocation(raw string) Location {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) == 2 {
		return Location{City: parts[0], State: parts[1]}
	}
	return Location{City: parts[0]}
}

// String renders "City, ST". A state without a city keeps the leading comma
// so ParseLocation reads it back as a state.
func (l Location) String() string {
	switch {
	case l.State == "":
		return l.City
	case l.City == "":
		return ", " + l.State
	default:
		return l.City + ", " + l.State
	}
}

func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Location) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*l = ParseLocation(raw)
		return nil
	}
	type plain Location
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*l = Location{City: strings.TrimSpace(p.City), State: strings.TrimSpace(p.State)}
	return nil
}

func (l *Location) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*l = ParseLocation(value.Value)
		return nil
	}
	type plain Location
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*l = Location{City: strings.TrimSpace(p.City), State: strings.TrimSpace(p.State)}
	return nil
}

// ParseDate validates a YYYY-MM-DD pickup date filter.
func ParseDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return "", err
	}
	return t.Format(time.DateOnly), nil
}

func calendarDay(ts string) (string, bool) {
	ts = strings.TrimSpace(ts)
	if len(ts) < len(time.DateOnly) {
		return "", false
	}
	day := ts[:len(time.DateOnly)]
	if _, err := time.Parse(time.DateOnly, day); err != nil {
		return "", false
	}
	return day, true
}
