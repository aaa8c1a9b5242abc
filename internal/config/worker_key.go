package config

type WorkerKeyStruct struct {
	PersistProgressQueue  string
	PersistIntegrityQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistProgressQueue:  "persist_progress_queue",
	PersistIntegrityQueue: "persist_integrity_queue",
}
