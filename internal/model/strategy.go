package model

// Strategy selects which lot receives a vehicle when several have room.
type Strategy string

const (
	// FirstAvailable picks the first lot with room, in candidate order.
	FirstAvailable Strategy = "FIRST_AVAILABLE"
	// LeastAvailable packs tightly: the lot with the fewest free spaces.
	LeastAvailable Strategy = "LEAST_AVAILABLE"
	// MostAvailable spreads load: the lot with the most free spaces.
	MostAvailable Strategy = "MOST_AVAILABLE"
)

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case FirstAvailable, LeastAvailable, MostAvailable:
		return true
	}
	return false
}
