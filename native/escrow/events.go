package escrow

import (
	"encoding/hex"
	"strconv"

	"payvault/core/types"
)

const (
	EventTypeCreated   = "escrow.created"
	EventTypeFunded    = "escrow.funded"
	EventTypeApproved  = "escrow.approved"
	EventTypeSettled   = "escrow.settled"
	EventTypeReleased  = "escrow.released"
	EventTypeRefunded  = "escrow.refunded"
	EventTypeFrozen    = "escrow.frozen"
	EventTypeResolved  = "escrow.resolved"
	EventTypeCancelled = "escrow.cancelled"
	EventTypeClosed    = "escrow.closed"

	EventTypePoolCreated  = "escrow.pool.created"
	EventTypePoolFunded   = "escrow.pool.funded"
	EventTypePoolReleased = "escrow.pool.released"
	EventTypePoolClosed   = "escrow.pool.closed"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

func baseAttributes(esc *Escrow) map[string]string {
	attrs := map[string]string{
		"id":     hex.EncodeToString(esc.ID[:]),
		"payer":  hex.EncodeToString(esc.Payer[:]),
		"token":  esc.Token,
		"amount": strconv.FormatUint(esc.TotalAmount, 10),
		"status": esc.Status.String(),
	}
	if esc.SplitMode() {
		attrs["mode"] = "split"
		attrs["splits"] = strconv.Itoa(len(esc.Splits))
	} else {
		attrs["mode"] = "fixed"
		attrs["recipient"] = hex.EncodeToString(esc.Recipient[:])
		attrs["workerAmount"] = strconv.FormatUint(esc.WorkerAmount, 10)
		attrs["feeAmount"] = strconv.FormatUint(esc.FeeAmount, 10)
	}
	if esc.Deadline != 0 {
		attrs["deadline"] = strconv.FormatInt(esc.Deadline, 10)
	}
	return attrs
}

func newEscrowEvent(eventType string, esc *Escrow) escrowEvent {
	return escrowEvent{evt: &types.Event{Type: eventType, Attributes: baseAttributes(esc)}}
}

func escrowCreated(esc *Escrow) escrowEvent  { return newEscrowEvent(EventTypeCreated, esc) }
func escrowFunded(esc *Escrow) escrowEvent   { return newEscrowEvent(EventTypeFunded, esc) }
func escrowApproved(esc *Escrow) escrowEvent { return newEscrowEvent(EventTypeApproved, esc) }
func escrowReleased(esc *Escrow) escrowEvent { return newEscrowEvent(EventTypeReleased, esc) }
func escrowRefunded(esc *Escrow) escrowEvent { return newEscrowEvent(EventTypeRefunded, esc) }

func escrowSettled(esc *Escrow, amounts []uint64) escrowEvent {
	evt := newEscrowEvent(EventTypeSettled, esc)
	for i, amount := range amounts {
		evt.evt.Attributes["payout."+strconv.Itoa(i)] = strconv.FormatUint(amount, 10)
	}
	return evt
}

func escrowFrozen(esc *Escrow, by [20]byte) escrowEvent {
	evt := newEscrowEvent(EventTypeFrozen, esc)
	evt.evt.Attributes["frozenBy"] = hex.EncodeToString(by[:])
	return evt
}

func escrowResolved(esc *Escrow, admin [20]byte, outcome string) escrowEvent {
	evt := newEscrowEvent(EventTypeResolved, esc)
	evt.evt.Attributes["admin"] = hex.EncodeToString(admin[:])
	evt.evt.Attributes["outcome"] = outcome
	return evt
}

func escrowCancelled(esc *Escrow) escrowEvent { return newEscrowEvent(EventTypeCancelled, esc) }
func escrowClosed(esc *Escrow) escrowEvent    { return newEscrowEvent(EventTypeClosed, esc) }

func poolAttributes(pool *PoolEscrow) map[string]string {
	attrs := map[string]string{
		"id":                hex.EncodeToString(pool.ID[:]),
		"payer":             hex.EncodeToString(pool.Payer[:]),
		"token":             pool.Token,
		"paymentPerRelease": strconv.FormatUint(pool.PaymentPerRelease, 10),
		"maxReleases":       strconv.FormatUint(pool.MaxReleases, 10),
		"releaseCount":      strconv.FormatUint(pool.ReleaseCount, 10),
		"totalFunded":       strconv.FormatUint(pool.TotalFunded, 10),
		"totalReleased":     strconv.FormatUint(pool.TotalReleased, 10),
		"status":            pool.Status.String(),
	}
	if pool.Deadline != 0 {
		attrs["deadline"] = strconv.FormatInt(pool.Deadline, 10)
	}
	return attrs
}

func newPoolEvent(eventType string, pool *PoolEscrow) escrowEvent {
	return escrowEvent{evt: &types.Event{Type: eventType, Attributes: poolAttributes(pool)}}
}

func poolCreated(pool *PoolEscrow) escrowEvent { return newPoolEvent(EventTypePoolCreated, pool) }
func poolFunded(pool *PoolEscrow) escrowEvent  { return newPoolEvent(EventTypePoolFunded, pool) }

func poolReleased(pool *PoolEscrow, worker [20]byte, releaseTotal uint64) escrowEvent {
	evt := newPoolEvent(EventTypePoolReleased, pool)
	evt.evt.Attributes["worker"] = hex.EncodeToString(worker[:])
	evt.evt.Attributes["releaseTotal"] = strconv.FormatUint(releaseTotal, 10)
	return evt
}

func poolClosed(pool *PoolEscrow, remainder uint64) escrowEvent {
	evt := newPoolEvent(EventTypePoolClosed, pool)
	evt.evt.Attributes["remainder"] = strconv.FormatUint(remainder, 10)
	return evt
}
