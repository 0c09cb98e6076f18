package run

// State is the run-level pipeline state.
type State string

const (
	StateInit           State = "INIT"
	StateAuthenticated  State = "AUTHENTICATED"
	StateHarvesting     State = "HARVESTING"
	StateSyncing        State = "SYNCING"
	StateSyncingSkipped State = "SYNCING_SKIPPED"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)
