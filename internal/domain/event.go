package domain

// Event names shared by the audit log and the signal bus.
const (
	EventWagerCommitted = "wager.committed"
	EventWagerCancelled = "wager.cancelled"
	EventWagerResolved  = "wager.resolved"
	EventDepositOrphan  = "deposit.orphaned"
	EventPayoutDeferred = "payout.deferred"
	EventPayoutFailed   = "payout.failed"
	EventPayoutSettled  = "payout.settled"
	EventTreasuryTopUp  = "treasury.topup"
	EventTreasurySweep  = "treasury.sweep"
	EventTaskFailed     = "task.failed"
	EventArchive        = "archive.commitments"
)
