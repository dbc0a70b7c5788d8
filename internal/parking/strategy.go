package parking

import "github.com/iliyamo/parking-lot-allocation/internal/model"

// SelectLot picks one lot from candidates according to strategy.  Lots
// without free space are ignored.  Ties keep candidate order, so
// LEAST_AVAILABLE and MOST_AVAILABLE return the earliest lot among equals.
// An empty strategy means FIRST_AVAILABLE.
//
// SelectLot performs no I/O and does not modify candidates.
func SelectLot(candidates []model.Lot, strategy model.Strategy) (model.Lot, error) {
	if strategy == "" {
		strategy = model.FirstAvailable
	}
	if !strategy.Valid() {
		return model.Lot{}, invalid("strategy", "unknown strategy "+string(strategy))
	}

	best := -1
	for i := range candidates {
		avail := candidates[i].Available()
		if avail <= 0 {
			continue
		}
		if best < 0 {
			best = i
			if strategy == model.FirstAvailable {
				break
			}
			continue
		}
		switch strategy {
		case model.LeastAvailable:
			if avail < candidates[best].Available() {
				best = i
			}
		case model.MostAvailable:
			if avail > candidates[best].Available() {
				best = i
			}
		}
	}
	if best < 0 {
		return model.Lot{}, ErrNoCapacity
	}
	return candidates[best], nil
}
