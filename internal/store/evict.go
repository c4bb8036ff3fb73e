package store

import (
	"context"
)

// Evict deletes every device and component for which keep returns false,
// except records that still have un-uploaded local changes. A device is
// also kept while any of its components has pending changes. Evictions
// emit Deleted events but are not uploaded. Returns the number of records
// removed.
func (s *Store) Evict(ctx context.Context, keep func(Record) bool) (int, error) {
	removed := 0
	err := s.write(ctx, true, func(txn *Txn) error {
		removed = 0
		pending, err := pendingKeys(txn.ctx, txn.tx)
		if err != nil {
			return err
		}
		isPending := func(r Record) bool {
			_, ok := pending[recordKey(r.Type(), r.Key())]
			return ok
		}

		devices, err := queryDevices(txn.ctx, txn.tx, Filter{})
		if err != nil {
			return err
		}

		parked, err := txn.evictParked(keep)
		if err != nil {
			return err
		}
		removed += parked

		for i := range devices {
			d := &devices[i]
			if !keep(d) && !isPending(d) && !anyPending(d.Components, isPending) {
				if err := txn.deleteDevice(d); err != nil {
					return err
				}
				removed += 1 + len(d.Components)
				continue
			}
			for j := range d.Components {
				c := &d.Components[j]
				if keep(c) || isPending(c) {
					continue
				}
				if err := txn.deleteComponent(c); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("evicted unsubscribed records", "count", removed)
	}
	return removed, nil
}

func anyPending(comps []Component, isPending func(Record) bool) bool {
	for i := range comps {
		if isPending(&comps[i]) {
			return true
		}
	}
	return false
}
