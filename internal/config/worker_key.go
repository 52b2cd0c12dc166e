package config

type WorkerKeyStruct struct {
	PersistViolationsQueue  string
	PersistOutcomesQueue    string
	RecoverSubmissionsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistViolationsQueue:  "persist_violations_queue",
	PersistOutcomesQueue:    "persist_outcomes_queue",
	RecoverSubmissionsQueue: "recover_submissions_queue",
}
