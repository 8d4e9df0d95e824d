package collab

import "time"

// tryLock grants a range reservation unless it collides with another
// user's lock. A collision needs two things: at least one of the two
// locks is exclusive, and the ranges overlap. Ranges [start,end] are
// inclusive; `end < other.Start || start > other.End` is the
// non-overlap test. Caller holds d.mu.
func (d *docState) tryLock(userID string, start, end int, exclusive bool, now time.Time) bool {
	for holder, l := range d.locks {
		if holder == userID {
			continue
		}
		if !exclusive && !l.Exclusive {
			continue
		}
		if end < l.Start || start > l.End {
			continue
		}
		return false
	}
	d.locks[userID] = DocumentLock{
		UserID:    userID,
		Start:     start,
		End:       end,
		Exclusive: exclusive,
		Timestamp: now,
	}
	return true
}

// unlock drops the user's reservation; removing a lock that is not held
// is a no-op. Caller holds d.mu.
func (d *docState) unlock(userID string) bool {
	if _, ok := d.locks[userID]; !ok {
		return false
	}
	delete(d.locks, userID)
	return true
}

// activeLocks copies the lock table for broadcasting. Caller holds d.mu.
func (d *docState) activeLocks() []DocumentLock {
	out := make([]DocumentLock, 0, len(d.locks))
	for _, l := range d.locks {
		out = append(out, l)
	}
	return out
}
