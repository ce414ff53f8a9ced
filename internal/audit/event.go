package audit

import "time"

const TopicSecretOperation = "secret.operation"

// OperationEvent is emitted whenever a paid secret operation reaches a
// terminal state.
type OperationEvent struct {
	OperationID   string    `json:"operationId"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	NillionUserID string    `json:"nillionUserId"`
	AppID         string    `json:"appId,omitempty"`
	StoreID       string    `json:"storeId,omitempty"`
	SecretName    string    `json:"secretName,omitempty"`
	TxHash        string    `json:"txHash,omitempty"`
	Error         string    `json:"error,omitempty"`
	ClientIP      string    `json:"clientIp,omitempty"`
	UserAgent     string    `json:"userAgent,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}
