package handlers

import (
	"context"

	"github.com/serroba/nillion-storage-api/internal/secrets"
	"go.uber.org/zap"
)

// SecretHandler exposes the secret broker over HTTP.
type SecretHandler struct {
	broker        secrets.Broker
	walletAddress string
	logger        *zap.Logger
}

// NewSecretHandler creates the secret and app handlers over broker.
func NewSecretHandler(broker secrets.Broker, walletAddress string, logger *zap.Logger) *SecretHandler {
	return &SecretHandler{
		broker:        broker,
		walletAddress: walletAddress,
		logger:        logger,
	}
}

func (h *SecretHandler) RegisterUser(ctx context.Context, req *RegisterUserRequest) (*UserResponse, error) {
	user, err := h.broker.RegisterUser(ctx, req.Body.NillionSeed)
	if err != nil {
		return nil, httpError(h.logger, "register user", err)
	}

	resp := &UserResponse{}
	resp.Body.NillionUserID = user.NillionUserID

	return resp, nil
}

func (h *SecretHandler) ListUsers(ctx context.Context, _ *struct{}) (*ListUsersResponse, error) {
	users, err := h.broker.ListUsers(ctx)
	if err != nil {
		return nil, httpError(h.logger, "list users", err)
	}

	resp := &ListUsersResponse{}
	resp.Body.Users = make([]UserItem, 0, len(users))

	for _, u := range users {
		resp.Body.Users = append(resp.Body.Users, UserItem{ID: u.ID, NillionUserID: u.NillionUserID})
	}

	return resp, nil
}

func (h *SecretHandler) RegisterApp(ctx context.Context, _ *struct{}) (*RegisterAppResponse, error) {
	appID, err := h.broker.RegisterApp(ctx)
	if err != nil {
		return nil, httpError(h.logger, "register app", err)
	}

	return &RegisterAppResponse{Body: AppItem{AppID: appID.String()}}, nil
}

func (h *SecretHandler) ListApps(ctx context.Context, _ *struct{}) (*ListAppsResponse, error) {
	apps, err := h.broker.ListApps(ctx)
	if err != nil {
		return nil, httpError(h.logger, "list apps", err)
	}

	items := make([]AppItem, 0, len(apps))
	for _, a := range apps {
		items = append(items, AppItem{AppID: a.AppID.String()})
	}

	return &ListAppsResponse{Body: items}, nil
}

func (h *SecretHandler) CreateAppSecret(ctx context.Context, req *CreateAppSecretRequest) (*StoreIDResponse, error) {
	storeID, err := h.broker.StoreAppSecret(ctx, secrets.StoreRequest{
		AppID:       req.AppID,
		Seed:        req.Body.Secret.NillionSeed,
		Name:        req.Body.Secret.SecretName,
		Value:       req.Body.Secret.SecretValue.SecretValue,
		Permissions: req.Body.Permissions.grant(),
	})
	if err != nil {
		return nil, httpError(h.logger, "store app secret", err)
	}

	resp := &StoreIDResponse{}
	resp.Body.StoreID = storeID

	return resp, nil
}

func (h *SecretHandler) ListAppStoreIDs(ctx context.Context, req *ListAppStoreIDsRequest) (*StoreIDsResponse, error) {
	recs, err := h.broker.ListAppRecords(ctx, req.AppID, req.page())
	if err != nil {
		return nil, httpError(h.logger, "list app store ids", err)
	}

	resp := &StoreIDsResponse{}
	resp.Body.StoreIDs = storeIDItems(recs)

	return resp, nil
}

func (h *SecretHandler) UpdateAppSecret(ctx context.Context, req *UpdateAppSecretRequest) (*SecretResponse, error) {
	res, err := h.broker.UpdateAppSecret(ctx, secrets.UpdateRequest{
		AppID:   req.AppID,
		StoreID: req.StoreID,
		Seed:    req.Body.NillionSeed,
		Name:    req.Body.SecretName,
		Value:   req.Body.SecretValue.SecretValue,
	})
	if err != nil {
		return nil, httpError(h.logger, "update app secret", err)
	}

	resp := &SecretResponse{}
	resp.Body.StoreID = res.Record.StoreID
	resp.Body.Secret = plainValue(req.Body.SecretValue.SecretValue)

	return resp, nil
}

func (h *SecretHandler) StoreUserSecret(ctx context.Context, req *StoreUserSecretRequest) (*StoreIDResponse, error) {
	storeID, err := h.broker.StoreUserSecret(ctx, secrets.StoreRequest{
		Seed:   req.Body.NillionSeed,
		Name:   req.Body.SecretName,
		Value:  req.Body.SecretValue.SecretValue,
		Topics: req.Body.Topics,
	})
	if err != nil {
		return nil, httpError(h.logger, "store user secret", err)
	}

	resp := &StoreIDResponse{}
	resp.Body.StoreID = storeID

	return resp, nil
}

func (h *SecretHandler) ListTopicStoreIDs(
	ctx context.Context, req *ListTopicStoreIDsRequest,
) (*StoreIDsResponse, error) {
	recs, err := h.broker.ListTopicRecords(ctx, req.Topic, req.page())
	if err != nil {
		return nil, httpError(h.logger, "list topic store ids", err)
	}

	resp := &StoreIDsResponse{}
	resp.Body.StoreIDs = storeIDItems(recs)

	return resp, nil
}

func (h *SecretHandler) RetrieveSecret(ctx context.Context, req *RetrieveSecretRequest) (*SecretResponse, error) {
	value, err := h.broker.Retrieve(ctx, secrets.RetrieveRequest{
		StoreID: req.StoreID,
		Name:    req.SecretName,
		Seed:    req.Seed,
	})
	if err != nil {
		return nil, httpError(h.logger, "retrieve secret", err)
	}

	resp := &SecretResponse{}
	resp.Body.StoreID = req.StoreID
	resp.Body.Secret = plainValue(value)

	return resp, nil
}

func (h *SecretHandler) Wallet(_ context.Context, _ *struct{}) (*WalletResponse, error) {
	resp := &WalletResponse{}
	resp.Body.NillionAddress = h.walletAddress

	return resp, nil
}

func (h *SecretHandler) ListOperations(
	ctx context.Context, req *ListOperationsRequest,
) (*ListOperationsResponse, error) {
	ops, err := h.broker.Operations(ctx, secrets.OperationStatus(req.Status), req.Limit)
	if err != nil {
		return nil, httpError(h.logger, "list operations", err)
	}

	resp := &ListOperationsResponse{}
	resp.Body.Operations = make([]OperationItem, 0, len(ops))

	for _, op := range ops {
		resp.Body.Operations = append(resp.Body.Operations, OperationItem{
			ID:            op.ID,
			Kind:          string(op.Kind),
			Status:        string(op.Status),
			NillionUserID: op.NillionUserID,
			AppID:         op.AppID,
			StoreID:       op.StoreID,
			SecretName:    op.SecretName,
			TxHash:        op.TxHash,
			Error:         op.Error,
			CreatedAt:     op.CreatedAt,
			UpdatedAt:     op.UpdatedAt,
		})
	}

	return resp, nil
}
