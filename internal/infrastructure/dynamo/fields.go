package dynamo

// DynamoDB attribute names used in key conditions and update expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldUserID       = "user_id"
	fieldUsername     = "username"
	fieldChatID       = "chat_id"
	fieldBIN          = "bin"
	fieldHistoryID    = "history_id"
	fieldRequestID    = "request_id"
	fieldStatus       = "status"
	fieldError        = "error"
	fieldExpiresAt    = "expires_at"
	fieldResolvedAt   = "resolved_at"
	fieldPasswordHash = "password_hash"
	fieldUpdatedAt    = "updated_at"
)

// GSI names.
const (
	indexUsername = "username-index"
	indexChatID   = "chat_id-index"
)

// maxBatchWrite is the DynamoDB limit on requests per BatchWriteItem call.
const maxBatchWrite = 25
