package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionTriggerClaimed    = "trigger.claimed"
	ActionTriggerSkipped    = "trigger.skipped"
	ActionUnitStarted       = "unit.started"
	ActionUnitSucceeded     = "unit.succeeded"
	ActionUnitFailed        = "unit.failed"
	ActionUnitCancelled     = "unit.cancelled"
	ActionLedgerWriteFailed = "ledger.write_failed"
	ActionCronFired         = "cron.fired"
)

// Audit event categories group related actions.
const (
	CategoryTrigger = "taskrun.trigger"
	CategoryUnit    = "taskrun.unit"
	CategoryLedger  = "taskrun.ledger"
	CategoryCron    = "taskrun.cron"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceTrigger = "trigger"
	ResourceRecord  = "execution_record"
	ResourceProfile = "cron_profile"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionTriggerClaimed,
		ActionTriggerSkipped,
		ActionUnitStarted,
		ActionUnitSucceeded,
		ActionUnitFailed,
		ActionUnitCancelled,
		ActionLedgerWriteFailed,
		ActionCronFired,
	}
}
