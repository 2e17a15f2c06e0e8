package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SessionService owns the open/closed lifecycle of register sessions
type SessionService struct {
	store           SessionStore
	events          EventPublisher
	defaultCurrency string
	logger          *zap.Logger
	now             func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(store SessionStore, events EventPublisher, defaultCurrency string) *SessionService {
	return &SessionService{
		store:           store,
		events:          events,
		defaultCurrency: defaultCurrency,
		logger:          util.GetLogger(),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// OpenSessionRequest represents a request to open a register
type OpenSessionRequest struct {
	StoreID        string          `json:"store_id" binding:"required"`
	RegisterID     string          `json:"register_id" binding:"required"`
	RegisterName   string          `json:"register_name"`
	CashierID      string          `json:"-"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Currency       string          `json:"currency"`
	Notes          string          `json:"notes"`
}

// OpenSession opens a register. The store enforces at most one open
// session per register, so two simultaneous opens cannot both succeed.
func (s *SessionService) OpenSession(ctx context.Context, req *OpenSessionRequest) (*models.RegisterSession, error) {
	ctx, span := util.StartSpan(ctx, "SessionService.OpenSession")
	defer span.End()

	if strings.TrimSpace(req.StoreID) == "" || strings.TrimSpace(req.RegisterID) == "" {
		return nil, validationErr("store_id and register_id are required")
	}
	if req.CashierID == "" {
		return nil, validationErr("cashier is required")
	}
	if req.OpeningBalance.IsNegative() {
		return nil, validationErr("opening balance must not be negative")
	}

	currency := req.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}

	session := &models.RegisterSession{
		ID:             newID(),
		StoreID:        req.StoreID,
		RegisterID:     req.RegisterID,
		RegisterName:   req.RegisterName,
		CashierID:      req.CashierID,
		OpeningBalance: req.OpeningBalance.Round(2),
		Currency:       currency,
		Notes:          req.Notes,
		Status:         models.SessionStatusOpen,
		OpenedAt:       s.now(),
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			util.SessionOpenRejectedTotal.Inc()
			s.logger.Info("Register already open",
				zap.String("store_id", req.StoreID),
				zap.String("register_id", req.RegisterID))
			return nil, ErrAlreadyOpen
		}
		return nil, storeErr("open session", err)
	}

	util.SessionsOpenedTotal.Inc()
	s.logger.Info("Register session opened",
		zap.String("session_id", session.ID),
		zap.String("store_id", session.StoreID),
		zap.String("register_id", session.RegisterID),
		zap.String("cashier_id", session.CashierID))

	s.publish(ctx, models.EventTypeSessionOpened, session)
	return session, nil
}

// CloseSession closes an open session and stamps its expected drawer cash.
// Closing a closed session fails with ErrNotOpen; sessions never reopen.
func (s *SessionService) CloseSession(ctx context.Context, sessionID, closingNotes string) (*models.RegisterSession, error) {
	ctx, span := util.StartSpan(ctx, "SessionService.CloseSession")
	defer span.End()

	session, err := s.store.CloseSession(ctx, sessionID, closingNotes, s.now())
	if err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil, ErrNotOpen
		}
		return nil, storeErr("close session", err)
	}

	util.SessionsClosedTotal.Inc()
	s.logger.Info("Register session closed",
		zap.String("session_id", session.ID),
		zap.String("expected_cash", session.ExpectedCash.Decimal.String()))

	s.publish(ctx, models.EventTypeSessionClosed, session)
	return session, nil
}

// GetActiveSession returns the open session of a register, or nil when
// the register is closed
func (s *SessionService) GetActiveSession(ctx context.Context, storeID, registerID string) (*models.RegisterSession, error) {
	session, err := s.store.GetOpenSession(ctx, storeID, registerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get active session", err)
	}
	return session, nil
}

// GetActiveSessionsByStore lists the open sessions of a store
func (s *SessionService) GetActiveSessionsByStore(ctx context.Context, storeID string) ([]models.RegisterSession, error) {
	sessions, err := s.store.ListOpenSessions(ctx, storeID)
	if err != nil {
		return nil, storeErr("list active sessions", err)
	}
	return sessions, nil
}

// GetSession retrieves a session by ID
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.RegisterSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeErr("get session", err)
	}
	return session, nil
}

func (s *SessionService) publish(ctx context.Context, eventType string, session *models.RegisterSession) {
	event := &models.SessionEvent{
		BaseEvent:    newEvent(eventType, s.now()),
		SessionID:    session.ID,
		StoreID:      session.StoreID,
		RegisterID:   session.RegisterID,
		CashierID:    session.CashierID,
		ExpectedCash: session.ExpectedCash,
	}
	if err := s.events.PublishSessionEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish session event",
			zap.String("type", eventType),
			zap.String("session_id", session.ID),
			zap.Error(err))
	}
}
