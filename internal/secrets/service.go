package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/nillion-storage-api/internal/audit"
	"github.com/serroba/nillion-storage-api/internal/messaging"
	"github.com/serroba/nillion-storage-api/internal/metrics"
	"github.com/serroba/nillion-storage-api/internal/nillion"
	"go.uber.org/zap"
)

// Payments settles the fee for exactly one network operation.
type Payments interface {
	QuoteAndPay(ctx context.Context, op nillion.Operation, memo string) (*nillion.PaymentReceipt, error)
}

// PermissionGrant extends the owner-only default permissions.
type PermissionGrant struct {
	Retrieve []string
	Update   []string
	Delete   []string
	Compute  map[string][]string
}

type StoreRequest struct {
	AppID       string
	Seed        string
	Name        string
	Value       nillion.SecretValue
	Permissions *PermissionGrant
	Topics      []string
}

type RetrieveRequest struct {
	StoreID string
	Name    string
	Seed    string
}

func (r RetrieveRequest) withDefaults() RetrieveRequest {
	if r.Seed == "" {
		r.Seed = DefaultSeed
	}

	if r.Name == "" {
		r.Name = DefaultSecretName
	}

	return r
}

type UpdateRequest struct {
	AppID   string
	StoreID string
	Seed    string
	Name    string
	Value   nillion.SecretValue
}

// UpdateResult carries the record after the update and the name it had before.
type UpdateResult struct {
	Record       *StoreRecord
	PreviousName string
}

// Broker is everything the HTTP layer needs from the secret service.
type Broker interface {
	RegisterUser(ctx context.Context, seed string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	RegisterApp(ctx context.Context) (uuid.UUID, error)
	ListApps(ctx context.Context) ([]App, error)
	ListAppRecords(ctx context.Context, appID string, page Page) ([]StoreRecord, error)
	ListTopicRecords(ctx context.Context, topic string, page Page) ([]StoreRecord, error)
	StoreAppSecret(ctx context.Context, req StoreRequest) (string, error)
	StoreUserSecret(ctx context.Context, req StoreRequest) (string, error)
	Retrieve(ctx context.Context, req RetrieveRequest) (nillion.SecretValue, error)
	UpdateAppSecret(ctx context.Context, req UpdateRequest) (*UpdateResult, error)
	Operations(ctx context.Context, status OperationStatus, limit int) ([]Operation, error)
}

// Service runs paid operations against the network: journal the intent, pay
// for exactly that operation, call the network with the receipt, then write
// the local bookkeeping.
type Service struct {
	network  nillion.Network
	payments Payments
	repo     Repository
	journal  Journal
	publish  messaging.Publish[audit.OperationEvent]
	metrics  *metrics.Collector
	logger   *zap.Logger
	ttlDays  int
	newID    func() string
	now      func() time.Time
}

// NewService creates the secret service.
func NewService(
	network nillion.Network,
	payments Payments,
	repo Repository,
	journal Journal,
	publish messaging.Publish[audit.OperationEvent],
	m *metrics.Collector,
	logger *zap.Logger,
	ttlDays int,
	newID func() string,
) *Service {
	if ttlDays <= 0 {
		ttlDays = DefaultTTLDays
	}

	return &Service{
		network:  network,
		payments: payments,
		repo:     repo,
		journal:  journal,
		publish:  publish,
		metrics:  m,
		logger:   logger,
		ttlDays:  ttlDays,
		newID:    newID,
		now:      time.Now,
	}
}

func (s *Service) RegisterUser(ctx context.Context, seed string) (*User, error) {
	if seed == "" {
		seed = DefaultSeed
	}

	return s.repo.UpsertUser(ctx, nillion.UserKeyFromSeed(seed).UserID())
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

func (s *Service) RegisterApp(ctx context.Context) (uuid.UUID, error) {
	appID, err := s.repo.CreateApp(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("app registered", zap.String("app_id", appID.String()))

	return appID, nil
}

func (s *Service) ListApps(ctx context.Context) ([]App, error) {
	return s.repo.ListApps(ctx)
}

func (s *Service) ListAppRecords(ctx context.Context, appID string, page Page) ([]StoreRecord, error) {
	id, err := ParseAppID(appID)
	if err != nil {
		return nil, err
	}

	return s.repo.ListAppRecords(ctx, id, page)
}

func (s *Service) ListTopicRecords(ctx context.Context, topic string, page Page) ([]StoreRecord, error) {
	return s.repo.ListTopicRecords(ctx, topic, page)
}

func (s *Service) Operations(ctx context.Context, status OperationStatus, limit int) ([]Operation, error) {
	return s.journal.List(ctx, status, limit)
}

// StoreAppSecret stores a secret owned by the seed's identity and records it
// in the app's table.
func (s *Service) StoreAppSecret(ctx context.Context, req StoreRequest) (string, error) {
	if err := req.Value.Validate(); err != nil {
		return "", err
	}

	appID, err := s.requireApp(ctx, req.AppID)
	if err != nil {
		return "", err
	}

	return s.store(ctx, req, func(ctx context.Context, rec *StoreRecord) error {
		return s.repo.SaveAppRecord(ctx, appID, rec)
	})
}

// StoreUserSecret stores a secret tagged with topics in the shared secrets table.
func (s *Service) StoreUserSecret(ctx context.Context, req StoreRequest) (string, error) {
	if err := req.Value.Validate(); err != nil {
		return "", err
	}

	req.AppID = ""

	storeID, err := s.store(ctx, req, func(ctx context.Context, rec *StoreRecord) error {
		return s.repo.SaveUserSecret(ctx, rec, req.Topics)
	})
	if err != nil {
		return "", err
	}

	if total, err := s.repo.SecretCount(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("secret count read failed", zap.Error(err))
	} else {
		s.metrics.SetUserSecrets(total)
	}

	return storeID, nil
}

func (s *Service) store(
	ctx context.Context, req StoreRequest, persist func(context.Context, *StoreRecord) error,
) (string, error) {
	if req.Seed == "" {
		req.Seed = DefaultSeed
	}

	if req.Name == "" {
		req.Name = DefaultSecretName
	}

	// paid work runs to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	user := nillion.UserKeyFromSeed(req.Seed)
	userID := user.UserID()
	values := nillion.Values{req.Name: req.Value}

	op, err := s.begin(ctx, &Operation{
		Kind:          OpStore,
		NillionUserID: userID,
		AppID:         req.AppID,
		SecretName:    req.Name,
	})
	if err != nil {
		return "", err
	}

	receipt, err := s.pay(ctx, op, nillion.StoreValues(values, s.ttlDays), StoreMemo(req.Name, userID))
	if err != nil {
		return "", err
	}

	storeID, err := s.network.StoreValues(ctx, user, values, buildPermissions(userID, req.Permissions), s.ttlDays, receipt)
	if err != nil {
		return "", s.unfulfilled(ctx, op, err)
	}

	op.StoreID = storeID

	now := s.now()
	rec := &StoreRecord{
		NillionUserID: userID,
		StoreID:       storeID,
		SecretName:    req.Name,
		CreatedAt:     now,
		TTLExpiresAt:  now.AddDate(0, 0, s.ttlDays),
	}

	if err := persist(ctx, rec); err != nil {
		return "", s.orphaned(ctx, op, err)
	}

	s.finish(ctx, op, StatusCommitted, nil)

	return storeID, nil
}

// Retrieve pays for and reads one named secret as the seed's identity.
func (s *Service) Retrieve(ctx context.Context, req RetrieveRequest) (nillion.SecretValue, error) {
	req = req.withDefaults()
	ctx = context.WithoutCancel(ctx)

	user := nillion.UserKeyFromSeed(req.Seed)

	op, err := s.begin(ctx, &Operation{
		Kind:          OpRetrieve,
		NillionUserID: user.UserID(),
		StoreID:       req.StoreID,
		SecretName:    req.Name,
	})
	if err != nil {
		return nillion.SecretValue{}, err
	}

	receipt, err := s.pay(ctx, op, nillion.RetrieveValue(req.StoreID, req.Name), RetrieveMemo(req.Name, req.StoreID))
	if err != nil {
		return nillion.SecretValue{}, err
	}

	value, err := s.network.RetrieveValue(ctx, user, req.StoreID, req.Name, receipt)
	if err != nil {
		return nillion.SecretValue{}, s.unfulfilled(ctx, op, err)
	}

	s.finish(ctx, op, StatusCommitted, nil)

	return value, nil
}

// UpdateAppSecret replaces the value behind an existing store id of an app
// and renames its local record.
func (s *Service) UpdateAppSecret(ctx context.Context, req UpdateRequest) (*UpdateResult, error) {
	if err := req.Value.Validate(); err != nil {
		return nil, err
	}

	if req.Seed == "" {
		req.Seed = DefaultSeed
	}

	if req.Name == "" {
		req.Name = DefaultSecretName
	}

	appID, err := s.requireApp(ctx, req.AppID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindAppRecord(ctx, appID, req.StoreID)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)

	user := nillion.UserKeyFromSeed(req.Seed)
	values := nillion.Values{req.Name: req.Value}

	op, err := s.begin(ctx, &Operation{
		Kind:          OpUpdate,
		NillionUserID: user.UserID(),
		AppID:         req.AppID,
		StoreID:       req.StoreID,
		SecretName:    req.Name,
	})
	if err != nil {
		return nil, err
	}

	receipt, err := s.pay(ctx, op, nillion.UpdateValues(req.StoreID, values, s.ttlDays), UpdateMemo(req.StoreID))
	if err != nil {
		return nil, err
	}

	if err := s.network.UpdateValues(ctx, user, req.StoreID, values, s.ttlDays, receipt); err != nil {
		return nil, s.unfulfilled(ctx, op, err)
	}

	rec, err := s.repo.UpdateAppRecord(ctx, appID, req.StoreID, req.Name, s.now().AddDate(0, 0, s.ttlDays))
	if err != nil {
		return nil, s.orphaned(ctx, op, err)
	}

	s.finish(ctx, op, StatusCommitted, nil)

	return &UpdateResult{Record: rec, PreviousName: existing.SecretName}, nil
}

func (s *Service) requireApp(ctx context.Context, raw string) (uuid.UUID, error) {
	appID, err := ParseAppID(raw)
	if err != nil {
		return uuid.Nil, err
	}

	ok, err := s.repo.AppExists(ctx, appID)
	if err != nil {
		return uuid.Nil, err
	}

	if !ok {
		return uuid.Nil, ErrAppNotFound
	}

	return appID, nil
}

// begin journals the intent. Nothing has been spent yet, so a journal failure aborts.
func (s *Service) begin(ctx context.Context, op *Operation) (*Operation, error) {
	now := s.now()
	op.ID = s.newID()
	op.Status = StatusPending
	op.CreatedAt = now
	op.UpdatedAt = now

	if err := s.journal.Save(ctx, op); err != nil {
		return nil, fmt.Errorf("journal %s: %w", op.Kind, err)
	}

	return op, nil
}

func (s *Service) pay(
	ctx context.Context, op *Operation, networkOp nillion.Operation, memo string,
) (*nillion.PaymentReceipt, error) {
	receipt, err := s.payments.QuoteAndPay(ctx, networkOp, memo)
	if err != nil {
		s.finish(ctx, op, StatusFailed, err)

		return nil, err
	}

	op.TxHash = receipt.TxHash
	s.transition(ctx, op, StatusPaid, nil)

	return receipt, nil
}

func (s *Service) unfulfilled(ctx context.Context, op *Operation, err error) error {
	s.logger.Error("paid operation not fulfilled by the network",
		zap.String("operation_id", op.ID),
		zap.String("kind", string(op.Kind)),
		zap.String("tx_hash", op.TxHash),
		zap.String("store_id", op.StoreID),
		zap.Error(err),
	)
	s.finish(ctx, op, StatusUnfulfilled, err)

	return fmt.Errorf("%w: %w", ErrUpstreamOperationFailed, err)
}

func (s *Service) orphaned(ctx context.Context, op *Operation, err error) error {
	s.logger.Error("remote secret has no local record",
		zap.String("operation_id", op.ID),
		zap.String("kind", string(op.Kind)),
		zap.String("store_id", op.StoreID),
		zap.String("tx_hash", op.TxHash),
		zap.Error(err),
	)
	s.finish(ctx, op, StatusOrphaned, err)

	return fmt.Errorf("record %s: %w", op.StoreID, err)
}

// finish moves op to a terminal status and announces it.
func (s *Service) finish(ctx context.Context, op *Operation, status OperationStatus, cause error) {
	s.transition(ctx, op, status, cause)
	s.metrics.RecordOperation(string(op.Kind), string(status))

	if s.publish == nil {
		return
	}

	meta := audit.RequestMetaFromContext(ctx)
	event := &audit.OperationEvent{
		OperationID:   op.ID,
		Kind:          string(op.Kind),
		Status:        string(op.Status),
		NillionUserID: op.NillionUserID,
		AppID:         op.AppID,
		StoreID:       op.StoreID,
		SecretName:    op.SecretName,
		TxHash:        op.TxHash,
		Error:         op.Error,
		ClientIP:      meta.ClientIP,
		UserAgent:     meta.UserAgent,
		OccurredAt:    op.UpdatedAt,
	}

	if err := s.publish(ctx, event); err != nil {
		s.logger.Warn("audit event not published", zap.String("operation_id", op.ID), zap.Error(err))
	}
}

// transition failures are logged only; the paid work already happened.
func (s *Service) transition(ctx context.Context, op *Operation, status OperationStatus, cause error) {
	op.Status = status
	op.UpdatedAt = s.now()

	if cause != nil {
		op.Error = cause.Error()
	}

	if err := s.journal.Save(ctx, op); err != nil {
		s.logger.Error("journal update failed",
			zap.String("operation_id", op.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func buildPermissions(owner string, grant *PermissionGrant) *nillion.Permissions {
	perms := nillion.DefaultPermissions(owner)
	if grant == nil {
		return perms
	}

	perms.AddRetrieve(grant.Retrieve...)
	perms.AddUpdate(grant.Update...)
	perms.AddDelete(grant.Delete...)
	perms.AddCompute(grant.Compute)

	return perms
}

// Compile-time check.
var _ Broker = (*Service)(nil)
