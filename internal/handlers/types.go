package handlers

import (
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/nillion-storage-api/internal/nillion"
	"github.com/serroba/nillion-storage-api/internal/secrets"
)

// SecretValue accepts any JSON value in a request. Anything other than a
// string or an integer is rejected with 400 after decoding.
type SecretValue struct {
	nillion.SecretValue
}

func (SecretValue) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Description: "A UTF-8 string or an integer.",
		Examples:    []any{"hello, world"},
	}
}

// plainValue is the response form of a secret: a string or an int64.
func plainValue(v nillion.SecretValue) any {
	if s, ok := v.Text(); ok {
		return s
	}

	if i, ok := v.Integer(); ok {
		return i
	}

	return nil
}

type SecretInput struct {
	NillionSeed string      `default:"user_123"  doc:"Seed the owner identity is derived from" json:"nillion_seed,omitempty"`
	SecretValue SecretValue `doc:"The value to store"                                          json:"secret_value"`
	SecretName  string      `default:"my_secret" doc:"Name of the secret"                     json:"secret_name,omitempty"`
}

type PermissionsInput struct {
	Retrieve []string            `doc:"User ids allowed to retrieve"                       json:"retrieve,omitempty"`
	Update   []string            `doc:"User ids allowed to update"                         json:"update,omitempty"`
	Delete   []string            `doc:"User ids allowed to delete"                         json:"delete,omitempty"`
	Compute  map[string][]string `doc:"User id to the program ids it may compute with"     json:"compute,omitempty"`
}

func (p *PermissionsInput) grant() *secrets.PermissionGrant {
	if p == nil {
		return nil
	}

	return &secrets.PermissionGrant{
		Retrieve: p.Retrieve,
		Update:   p.Update,
		Delete:   p.Delete,
		Compute:  p.Compute,
	}
}

type StoreIDItem struct {
	ID            int64     `json:"id"`
	NillionUserID string    `json:"nillion_user_id"`
	StoreID       string    `json:"store_id"`
	CreatedAt     time.Time `json:"created_at"`
	SecretName    string    `json:"secret_name"`
	TTLExpiresAt  time.Time `json:"ttl_expires_at"`
}

func storeIDItems(recs []secrets.StoreRecord) []StoreIDItem {
	items := make([]StoreIDItem, 0, len(recs))

	for _, r := range recs {
		items = append(items, StoreIDItem{
			ID:            r.ID,
			NillionUserID: r.NillionUserID,
			StoreID:       r.StoreID,
			CreatedAt:     r.CreatedAt,
			SecretName:    r.SecretName,
			TTLExpiresAt:  r.TTLExpiresAt,
		})
	}

	return items
}

type RegisterUserRequest struct {
	Body struct {
		NillionSeed string `default:"user_123" doc:"Seed the identity is derived from" json:"nillion_seed,omitempty"`
	}
}

type UserResponse struct {
	Body struct {
		NillionUserID string `doc:"Network user id derived from the seed" json:"nillion_user_id"`
	}
}

type UserItem struct {
	ID            int64  `json:"id"`
	NillionUserID string `json:"nillion_user_id"`
}

type ListUsersResponse struct {
	Body struct {
		Users []UserItem `json:"users"`
	}
}

type AppItem struct {
	AppID string `json:"app_id"`
}

type RegisterAppResponse struct {
	Body AppItem
}

type ListAppsResponse struct {
	Body []AppItem
}

type CreateAppSecretRequest struct {
	AppID string `doc:"Registered app id" path:"app_id"`
	Body  struct {
		Secret      SecretInput       `json:"secret"`
		Permissions *PermissionsInput `json:"permissions,omitempty"`
	}
}

type StoreIDResponse struct {
	Body struct {
		StoreID string `doc:"Store id assigned by the network" json:"store_id"`
	}
}

type ListPage struct {
	Page     int `default:"1"   doc:"1-based page number" minimum:"1"    query:"page"`
	PageSize int `default:"100" doc:"Items per page"      maximum:"1000" minimum:"1" query:"page_size"`
}

func (p ListPage) page() secrets.Page {
	return secrets.NewPage(p.Page, p.PageSize)
}

type ListAppStoreIDsRequest struct {
	AppID string `doc:"Registered app id" path:"app_id"`
	ListPage
}

type StoreIDsResponse struct {
	Body struct {
		StoreIDs []StoreIDItem `json:"store_ids"`
	}
}

type UpdateAppSecretRequest struct {
	AppID   string `doc:"Registered app id"       path:"app_id"`
	StoreID string `doc:"Store id of the secret"  path:"store_id"`
	Body    SecretInput
}

type SecretResponse struct {
	Body struct {
		StoreID string `json:"store_id"`
		Secret  any    `doc:"A UTF-8 string or an integer" json:"secret"`
	}
}

type StoreUserSecretRequest struct {
	Body struct {
		SecretInput
		Topics []string `doc:"Topics to list the secret under" json:"topics,omitempty"`
	}
}

type ListTopicStoreIDsRequest struct {
	Topic string `doc:"Topic name" path:"topic"`
	ListPage
}

type RetrieveSecretRequest struct {
	StoreID    string `doc:"Store id of the secret"                path:"store_id"`
	SecretName string `default:"my_secret" doc:"Name of the secret" query:"secret_name"`
	Seed       string `default:"user_123" doc:"Seed of the identity reading the secret" query:"retrieve_as_nillion_user_seed"`
}

type WalletResponse struct {
	Body struct {
		NillionAddress string `doc:"Bech32 address paying for operations" json:"nillion_address"`
	}
}

type ListOperationsRequest struct {
	Status string `doc:"Only operations in this status" enum:"pending,paid,committed,orphaned,unfulfilled,failed" query:"status" required:"false"`
	Limit  int    `default:"100" doc:"Maximum operations to return" maximum:"1000" minimum:"1" query:"limit"`
}

type OperationItem struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	NillionUserID string    `json:"nillion_user_id"`
	AppID         string    `json:"app_id,omitempty"`
	StoreID       string    `json:"store_id,omitempty"`
	SecretName    string    `json:"secret_name,omitempty"`
	TxHash        string    `json:"tx_hash,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ListOperationsResponse struct {
	Body struct {
		Operations []OperationItem `json:"operations"`
	}
}

type RateLimitStatusResponse struct {
	Body struct {
		RemainingRequests int64   `json:"remaining_requests"`
		TotalLimit        int64   `json:"total_limit"`
		WindowSizeSeconds float64 `json:"window_size_seconds"`
	}
}
