package config

type WorkerKeyStruct struct {
	PersistIntegrityEventsQueue string
	LedgerSyncRetryQueue        string
}

var WorkerKey = &WorkerKeyStruct{
	PersistIntegrityEventsQueue: "persist_integrity_events_queue",
	LedgerSyncRetryQueue:        "ledger_sync_retry_queue",
}
