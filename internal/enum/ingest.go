package enum

type LedgerOutcome string

const (
	LedgerOutcomeProcessed LedgerOutcome = "processed"
	LedgerOutcomeDuplicate LedgerOutcome = "duplicate"
	LedgerOutcomeFailed    LedgerOutcome = "failed"
)

func (t LedgerOutcome) String() string {
	return string(t)
}

type DocumentChannel string

const (
	DocumentChannelEmail  DocumentChannel = "email"
	DocumentChannelUpload DocumentChannel = "upload"
)

func (t DocumentChannel) String() string {
	return string(t)
}

type CycleStatus string

const (
	CycleStatusRan     CycleStatus = "ran"
	CycleStatusBackoff CycleStatus = "backoff"
	CycleStatusLocked  CycleStatus = "locked"
)

func (t CycleStatus) String() string {
	return string(t)
}
