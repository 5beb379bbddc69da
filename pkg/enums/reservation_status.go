package enums

// ReservationStatus tracks a stock hold for one order line.
type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "reserved"
	ReservationStatusCommitted ReservationStatus = "committed"
	ReservationStatusReleased  ReservationStatus = "released"
)

func (s ReservationStatus) String() string {
	return string(s)
}
