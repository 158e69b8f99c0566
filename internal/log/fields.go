package log

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldOperation    = "operation"
	FieldError        = "error"
	FieldGroupID      = "group_id"
	FieldMemberID     = "member_id"
	FieldTxID         = "tx_id"
	FieldCount        = "count"
	FieldWritten      = "written"
	FieldEvicted      = "evicted"
	FieldTotalRecords = "total_records"
	FieldQuota        = "quota_exceeded"
	FieldSinceTS      = "since_ts"
	FieldSyncTS       = "sync_ts"
	FieldDBPath       = "db_path"
	FieldDuration     = "duration_ms"
)

// Components defines standard component names
const (
	ComponentApp    = "app"
	ComponentCache  = "cache"
	ComponentQuery  = "query"
	ComponentSyncer = "syncer"
	ComponentRemote = "remote"
	ComponentAMQP   = "amqp"
	ComponentCLI    = "cli"
)

// Operations defines standard operation names
const (
	OpOpen     = "open"
	OpClose    = "close"
	OpWrite    = "write"
	OpRead     = "read"
	OpRemove   = "remove"
	OpClear    = "clear"
	OpDestroy  = "destroy"
	OpEvict    = "evict"
	OpRecover  = "recover"
	OpSync     = "sync"
	OpFetch    = "fetch"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
