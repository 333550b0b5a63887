package ledger

// Project derives a balance from a user's events. Only validated events move
// available points; held events with a positive delta count as pending.
func Project(events []Event) Balance {
	var b Balance
	for _, e := range events {
		delta := int64(e.PointsDelta)
		switch {
		case e.Status == StatusValidated:
			b.AvailablePoints += delta
			if delta > 0 {
				b.LifetimeEarned += delta
			} else {
				b.LifetimeSpent += -delta
			}
		case e.Status.IsHeld() && delta > 0:
			b.PendingPoints += delta
		}
	}
	return b
}

// Equal compares the derived fields of two balances
func (b Balance) Equal(other Balance) bool {
	return b.AvailablePoints == other.AvailablePoints &&
		b.PendingPoints == other.PendingPoints &&
		b.LifetimeEarned == other.LifetimeEarned &&
		b.LifetimeSpent == other.LifetimeSpent
}
