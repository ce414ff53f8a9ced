package handlers

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/nillion-storage-api/internal/middleware"
)

// RegisterRoutes registers the secret broker routes.
func RegisterRoutes(api huma.API, h *SecretHandler, rl *RateLimitHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "register-user",
		Method:      http.MethodPost,
		Path:        "/api/user",
		Summary:     "Get the user id for a seed",
		Description: "Derives the network user id from a seed and registers it.",
		Tags:        []string{"Users"},
	}, h.RegisterUser)

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/api/users",
		Summary:     "List users",
		Tags:        []string{"Users"},
		Hidden:      true,
	}, h.ListUsers)

	huma.Register(api, huma.Operation{
		OperationID: "register-app",
		Method:      http.MethodPost,
		Path:        "/api/apps/register",
		Summary:     "Register an app",
		Description: "Creates an app id with its own table of store ids.",
		Tags:        []string{"Apps"},
	}, h.RegisterApp)

	huma.Register(api, huma.Operation{
		OperationID: "list-apps",
		Method:      http.MethodGet,
		Path:        "/api/apps",
		Summary:     "List apps",
		Tags:        []string{"Apps"},
		Hidden:      true,
	}, h.ListApps)

	huma.Register(api, huma.Operation{
		OperationID: "create-app-secret",
		Method:      http.MethodPost,
		Path:        "/api/apps/{app_id}/secrets",
		Summary:     "Store a secret for an app",
		Description: "Pays for and stores a secret on the network, then records its store id under the app.",
		Tags:        []string{"Secrets"},
	}, h.CreateAppSecret)

	huma.Register(api, huma.Operation{
		OperationID: "list-app-store-ids",
		Method:      http.MethodGet,
		Path:        "/api/apps/{app_id}/store_ids",
		Summary:     "List store ids of an app",
		Tags:        []string{"Apps"},
	}, h.ListAppStoreIDs)

	huma.Register(api, huma.Operation{
		OperationID: "update-app-secret",
		Method:      http.MethodPut,
		Path:        "/api/apps/{app_id}/secrets/{store_id}",
		Summary:     "Update a secret of an app",
		Description: "Pays for and replaces the value behind a store id.",
		Tags:        []string{"Secrets"},
	}, h.UpdateAppSecret)

	huma.Register(api, huma.Operation{
		OperationID: "store-user-secret",
		Method:      http.MethodPost,
		Path:        "/api/secret",
		Summary:     "Store a secret under topics",
		Tags:        []string{"Secrets"},
	}, h.StoreUserSecret)

	huma.Register(api, huma.Operation{
		OperationID: "list-topic-store-ids",
		Method:      http.MethodGet,
		Path:        "/api/topics/{topic}/store_ids",
		Summary:     "List store ids of a topic",
		Tags:        []string{"Topics"},
	}, h.ListTopicStoreIDs)

	huma.Register(api, huma.Operation{
		OperationID: "retrieve-secret",
		Method:      http.MethodGet,
		Path:        "/api/secret/retrieve/{store_id}",
		Summary:     "Retrieve a secret",
		Description: "Returns a cached value or pays for and reads the secret from the network.",
		Tags:        []string{"Secrets"},
	}, h.RetrieveSecret)

	huma.Register(api, huma.Operation{
		OperationID: "wallet",
		Method:      http.MethodGet,
		Path:        "/api/wallet",
		Summary:     "Payment wallet address",
		Tags:        []string{"Wallet"},
	}, h.Wallet)

	huma.Register(api, huma.Operation{
		OperationID: "list-operations",
		Method:      http.MethodGet,
		Path:        "/api/operations",
		Summary:     "List journaled operations",
		Description: "Paid operations by status, newest first. Orphaned ones have a remote secret without a local record.",
		Tags:        []string{"Operations"},
	}, h.ListOperations)

	huma.Register(api, huma.Operation{
		OperationID: "rate-limit-status",
		Method:      http.MethodGet,
		Path:        "/rate-limit-status",
		Summary:     "Remaining rate limit quota",
		Tags:        []string{"Rate limit"},
		Metadata:    map[string]any{middleware.MetadataSkipRateLimit: true},
	}, rl.Status)
}
