package orderbook

import "fmt"

// ExpirationWeights price the scheduler's work units: a fixed overhead per
// processed block plus a cost per expired order. The per-block budget divides
// by these to decide how much housekeeping one block can afford.
type ExpirationWeights struct {
	PerBlock      uint64
	PerExpiration uint64
}

// WeightMeter is the explicit budget threaded through one housekeeping call.
// It is checked before every unit of work; the scheduler returns voluntarily
// when the budget runs out and carries the rest over to a later block.
type WeightMeter struct {
	limit uint64
	used  uint64
}

func NewWeightMeter(limit uint64) *WeightMeter { return &WeightMeter{limit: limit} }

func (m *WeightMeter) Remaining() uint64 {
	if m.used >= m.limit {
		return 0
	}
	return m.limit - m.used
}

func (m *WeightMeter) Used() uint64 { return m.used }

// TryConsume debits w if affordable.
func (m *WeightMeter) TryConsume(w uint64) bool {
	if m.Remaining() < w {
		return false
	}
	m.used += w
	return true
}

// ScheduleExpiration appends an entry to a block's agenda, rejecting beyond
// the per-block bound.
func ScheduleExpiration(data DataLayer, p Params, block BlockNumber, entry ExpirationEntry) error {
	agenda, err := data.GetAgenda(block)
	if err != nil {
		return err
	}
	if len(agenda) >= p.MaxExpiringOrdersPerBlock {
		return fmt.Errorf("%w: block %d has %d entries", ErrAgendaFull, block, len(agenda))
	}
	return data.PutAgenda(block, append(agenda, entry))
}

// UnscheduleExpiration removes an entry from a block's agenda. A missing
// entry indicates the schedule and the order set disagree; callers decide
// whether that is fatal.
func UnscheduleExpiration(data DataLayer, block BlockNumber, entry ExpirationEntry) error {
	agenda, err := data.GetAgenda(block)
	if err != nil {
		return err
	}
	out := agenda[:0]
	found := false
	for _, e := range agenda {
		if e == entry {
			found = true
			continue
		}
		out = append(out, e)
	}
	if !found {
		return fmt.Errorf("%w: order %d at block %d", ErrExpirationNotFound, entry.OrderID, block)
	}
	return data.PutAgenda(block, out)
}

// ProcessExpirations runs the per-block housekeeping: starting from the
// oldest block whose agenda was cut short (or now), it drains each block's
// agenda as far as the weight budget affords and hands every drained entry to
// expire. Entries beyond the budget stay queued and IncompleteExpirationsSince
// records the oldest unfinished block, so a burst of simultaneous expirations
// smooths across blocks without ever dropping one.
//
// expire runs the cancellation path for one order; its error is tolerated
// here so one stuck order cannot block unrelated expirations.
func ProcessExpirations(data DataLayer, now BlockNumber, meter *WeightMeter, w ExpirationWeights, expire func(ExpirationEntry)) error {
	start := now
	if since, ok, err := data.GetIncompleteSince(); err != nil {
		return err
	} else if ok && since < start {
		start = since
	}

	incomplete := BlockNumber(0)
	hasIncomplete := false
	for block := start; block <= now; block++ {
		if !meter.TryConsume(w.PerBlock) {
			incomplete, hasIncomplete = block, true
			break
		}
		agenda, err := data.GetAgenda(block)
		if err != nil {
			return err
		}
		if len(agenda) == 0 {
			continue
		}
		afford := int(meter.Remaining() / w.PerExpiration)
		n := len(agenda)
		if afford < n {
			n = afford
		}
		if !meter.TryConsume(uint64(n) * w.PerExpiration) {
			return fmt.Errorf("expiration weight accounting out of sync at block %d", block)
		}
		drained, rest := agenda[:n], agenda[n:]
		if err := data.PutAgenda(block, rest); err != nil {
			return err
		}
		for _, entry := range drained {
			expire(entry)
		}
		if len(rest) > 0 {
			incomplete, hasIncomplete = block, true
			break
		}
	}

	if hasIncomplete {
		return data.SetIncompleteSince(incomplete)
	}
	return data.ClearIncompleteSince()
}
