package domain

import "time"

// ImminentBuffer is how far into the future an already-due target is pushed
// so the sweep queues the attempt instead of charging inline.
// TODO(settings): expose as a company knob once sweeps run more often than hourly.
const ImminentBuffer = time.Hour

// NextAttempt computes when the next automatic charge for an invoice should
// run, or nil if the invoice is not chargeable. When the invoice has a
// payment plan, plan timing is authoritative and the invoice's own attempt
// bookkeeping is ignored. Without a plan the function is idempotent: a
// previously stored NextAttemptAt is returned unchanged rather than
// recomputed.
func NextAttempt(inv Invoice, plan *Plan, delays DelayConfig, now time.Time) *time.Time {
	if !inv.AutopayEnabled || inv.Draft || inv.Closed || inv.Voided || inv.Paid {
		return nil
	}
	if inv.ProcessingStatus == ProcessingStatusPending {
		return nil
	}

	if plan != nil {
		if plan.Status != PlanStatusActive {
			return nil
		}
		for _, installment := range plan.Installments {
			if installment.Balance > 0 {
				due := installment.DueDate
				return &due
			}
		}
		return nil
	}

	if inv.NextAttemptAt != nil {
		at := *inv.NextAttemptAt
		return &at
	}

	delayDays := delays.CompanyDelayDays
	if delays.CustomerDelayDays != nil {
		delayDays = *delays.CustomerDelayDays
	}
	target := inv.IssueDate.Add(time.Duration(delayDays) * 24 * time.Hour)
	if !target.After(now) {
		imminent := now.Add(ImminentBuffer)
		return &imminent
	}
	return &target
}

// NextAttemptAfterFailure computes the follow-up attempt after a declined
// charge. Unlike NextAttempt it always recomputes from the stored reference
// point: the previously scheduled attempt time plus the configured retry
// offset for the current attempt count. A nil timestamp with a nil error
// means retries are exhausted.
func NextAttemptAfterFailure(inv Invoice, offsets []int) (*time.Time, error) {
	var last time.Time
	if inv.NextAttemptAt != nil {
		last = *inv.NextAttemptAt
	}
	return NextRetry(last, inv.AttemptCount, offsets)
}
