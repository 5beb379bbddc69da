package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// DeliveryAddress is the drop-off location captured on an order. Stored as jsonb.
type DeliveryAddress struct {
	Line1        string   `json:"line1" validate:"required"`
	Line2        *string  `json:"line2,omitempty"`
	City         string   `json:"city" validate:"required"`
	Region       string   `json:"region,omitempty"`
	PostalCode   string   `json:"postal_code,omitempty"`
	Country      string   `json:"country" validate:"required,len=2"`
	Phone        string   `json:"phone,omitempty"`
	Instructions *string  `json:"instructions,omitempty"`
	Lat          *float64 `json:"lat,omitempty" validate:"omitempty,latitude"`
	Lng          *float64 `json:"lng,omitempty" validate:"omitempty,longitude"`
}

// Validate enforces the minimum fields a courier needs.
func (a DeliveryAddress) Validate() error {
	if strings.TrimSpace(a.Line1) == "" {
		return fmt.Errorf("address: missing line1")
	}
	if strings.TrimSpace(a.City) == "" {
		return fmt.Errorf("address: missing city")
	}
	if len(strings.TrimSpace(a.Country)) != 2 {
		return fmt.Errorf("address: country must be a 2-letter code")
	}
	return nil
}

// Value marshals the address into JSON for jsonb columns.
func (a DeliveryAddress) Value() (driver.Value, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan decodes a jsonb column.
func (a *DeliveryAddress) Scan(value any) error {
	if value == nil {
		*a = DeliveryAddress{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("address: unsupported scan type %T", value)
	}
	return json.Unmarshal(raw, a)
}
