package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/phuongtg/spark-cloud-go/pkg/errors"
	"github.com/phuongtg/spark-cloud-go/pkg/log"
	"github.com/phuongtg/spark-cloud-go/pkg/persistence"
)

// Default manager settings.
const (
	// DefaultRefreshTimeout bounds one token exchange.
	DefaultRefreshTimeout = 30 * time.Second

	// DefaultExpirySkew treats tokens this close to expiry as expired.
	DefaultExpirySkew = 30 * time.Second
)

// Grant is the result of a token exchange.
type Grant struct {
	Credential

	// RefreshToken replaces the previous refresh token if non-empty.
	RefreshToken string
}

// RefreshFunc exchanges a refresh token for a new grant.
type RefreshFunc func(ctx context.Context, refreshToken string) (Grant, error)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Initial is the starting grant. May be empty if Refresh can mint one.
	Initial Grant

	// Refresh performs the token exchange. If nil, Refresh always fails.
	Refresh RefreshFunc

	// Store persists the grant after every successful refresh. Optional.
	Store *persistence.SessionStore

	// Username is recorded alongside persisted tokens.
	Username string

	// RefreshTimeout bounds one token exchange.
	RefreshTimeout time.Duration

	// ExpirySkew treats tokens this close to expiry as expired.
	ExpirySkew time.Duration

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives refresh and session state events. Optional.
	ProtocolLogger log.Logger
}

// Manager is a Provider holding a refreshable token pair.
type Manager struct {
	mu      sync.RWMutex
	current Grant

	refresh        RefreshFunc
	store          *persistence.SessionStore
	username       string
	refreshTimeout time.Duration
	skew           time.Duration
	logger         *slog.Logger
	protocolLogger log.Logger
	now            func() time.Time

	group     singleflight.Group
	refreshes atomic.Int64
}

// NewManager creates a credential manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.ExpirySkew < 0 {
		cfg.ExpirySkew = 0
	} else if cfg.ExpirySkew == 0 {
		cfg.ExpirySkew = DefaultExpirySkew
	}
	if cfg.ProtocolLogger == nil {
		cfg.ProtocolLogger = log.NoopLogger{}
	}
	return &Manager{
		current:        cfg.Initial,
		refresh:        cfg.Refresh,
		store:          cfg.Store,
		username:       cfg.Username,
		refreshTimeout: cfg.RefreshTimeout,
		skew:           cfg.ExpirySkew,
		logger:         cfg.Logger,
		protocolLogger: cfg.ProtocolLogger,
		now:            time.Now,
	}
}

// LoadManager creates a manager seeded from cfg.Store. A missing session
// file leaves the manager empty; Token will then try to refresh.
func LoadManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store != nil {
		state, err := cfg.Store.Load()
		if err != nil {
			return nil, err
		}
		if state != nil {
			cfg.Initial = Grant{
				Credential: Credential{
					AccessToken: state.AccessToken,
					ExpiresAt:   state.ExpiresAt,
				},
				RefreshToken: state.RefreshToken,
			}
			if cfg.Username == "" {
				cfg.Username = state.Username
			}
		}
	}
	return NewManager(cfg), nil
}

// Token returns the current credential, refreshing if it is empty or expired.
func (m *Manager) Token(ctx context.Context) (Credential, error) {
	m.mu.RLock()
	cred := m.current.Credential
	m.mu.RUnlock()

	if cred.Valid(m.now(), m.skew) {
		return cred, nil
	}
	return m.Refresh(ctx)
}

// Refresh obtains a new credential. Concurrent callers share one exchange,
// which runs on a context detached from any single caller: a caller that
// gives up does not fail the others.
func (m *Manager) Refresh(ctx context.Context) (Credential, error) {
	ch := m.group.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.doRefresh(rctx)
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

func (m *Manager) doRefresh(ctx context.Context) (Credential, error) {
	if m.refresh == nil {
		return Credential{}, errors.NewAuthError(0, "credential cannot be refreshed")
	}

	m.mu.RLock()
	refreshToken := m.current.RefreshToken
	m.mu.RUnlock()

	m.refreshes.Add(1)
	m.protocolLogger.Log(log.Event{
		Timestamp:  m.now(),
		Direction:  log.DirectionOut,
		Layer:      log.LayerRouter,
		Category:   log.CategoryControl,
		ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgRefresh},
	})
	m.debugLog("session: refreshing credential")

	grant, err := m.refresh(ctx, refreshToken)
	if err != nil {
		m.debugLog("session: refresh failed", "error", err)
		m.logState("VALID", "INVALID", err.Error())
		if errors.Is(err, errors.ErrAuth) {
			return Credential{}, err
		}
		return Credential{}, &errors.AuthError{Message: "refresh failed", Err: err}
	}
	if grant.AccessToken == "" {
		return Credential{}, errors.NewAuthError(0, "refresh returned no access token")
	}

	m.mu.Lock()
	if grant.RefreshToken == "" {
		grant.RefreshToken = m.current.RefreshToken
	}
	m.current = grant
	m.mu.Unlock()

	m.logState("EXPIRED", "VALID", "")
	m.persist(grant)
	return grant.Credential, nil
}

// Set replaces the held grant, for example after an interactive login.
func (m *Manager) Set(grant Grant) {
	m.mu.Lock()
	m.current = grant
	m.mu.Unlock()
	m.persist(grant)
}

// Current returns the held grant without refreshing.
func (m *Manager) Current() Grant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Refreshes returns how many token exchanges have been started.
func (m *Manager) Refreshes() int64 {
	return m.refreshes.Load()
}

func (m *Manager) persist(grant Grant) {
	if m.store == nil {
		return
	}
	err := m.store.Save(&persistence.SessionState{
		Username:     m.username,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.ExpiresAt,
	})
	if err != nil && m.logger != nil {
		m.logger.Warn("session: failed to persist credential", "path", m.store.Path(), "error", err)
	}
}

func (m *Manager) logState(oldState, newState, reason string) {
	m.protocolLogger.Log(log.Event{
		Timestamp: m.now(),
		Layer:     log.LayerRouter,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// debugLog logs a debug message if logging is enabled.
func (m *Manager) debugLog(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}

var _ Provider = (*Manager)(nil)
