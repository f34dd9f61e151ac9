// Package identity provides the installation-scoped device token sent with
// every signal. The token is random, created once and never rotated.
package identity

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/staysense/staysense-go/internal/kvstore"
	"github.com/staysense/staysense-go/internal/logger"
)

// MinTokenLength is the shortest token the server accepts.
const MinTokenLength = 16

// Provider lazily loads or creates the device token.
type Provider struct {
	store  kvstore.Store
	logger logger.Logger
	newID  func() string

	mu    sync.Mutex
	token string
}

// NewProvider creates a Provider backed by store.
func NewProvider(store kvstore.Store, log logger.Logger) *Provider {
	return &Provider{
		store:  store,
		logger: log.Module("identity"),
		newID:  func() string { return uuid.NewString() },
	}
}

// DeviceToken returns the persisted token, creating it on first use. A
// stored value that is missing, corrupt or too short is replaced. When the
// store cannot be read the error is returned and nothing is written, so a
// transient failure never rotates the token. When a new token cannot be
// persisted it is still returned and reused for the life of the Provider;
// the returned error is nil in that case and the failure is logged.
func (p *Provider) DeviceToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" {
		return p.token, nil
	}

	var stored string
	found, err := kvstore.ReadJSON(ctx, p.store, kvstore.KeyDeviceToken, &stored)
	if err != nil {
		p.logger.Warn("device token unreadable", logger.Error(err))
		return "", err
	}
	if found && len(stored) >= MinTokenLength {
		p.token = stored
		return p.token, nil
	}
	if stored != "" {
		p.logger.Warn("replacing invalid device token", logger.Int("length", len(stored)))
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	token := p.newID()
	if err := kvstore.SaveJSON(ctx, p.store, kvstore.KeyDeviceToken, token); err != nil {
		p.logger.Error("failed to persist device token", logger.Error(err))
	} else {
		p.logger.Info("created device token")
	}
	p.token = token
	return p.token, nil
}
