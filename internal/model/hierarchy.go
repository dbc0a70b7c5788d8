package model

// Attendant manages an ordered list of lots.  The order matters: it is
// the candidate order handed to the placement strategy.
//
// Fields:
//  ID     – unique attendant key, e.g. "ATT-1".
//  Name   – display name.
//  LotIDs – managed lot identifiers in priority order.
type Attendant struct {
	ID     string   `json:"id" yaml:"id"`
	Name   string   `json:"name" yaml:"name"`
	LotIDs []string `json:"lot_ids" yaml:"lots"`
}

// Coordinator manages an ordered list of attendants.  Placement through a
// coordinator tries its attendants in this order.
//
// Fields:
//  ID           – unique coordinator key, e.g. "COORD-1".
//  Name         – display name.
//  AttendantIDs – managed attendant identifiers in fallback order.
type Coordinator struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	AttendantIDs []string `json:"attendant_ids" yaml:"attendants"`
}
