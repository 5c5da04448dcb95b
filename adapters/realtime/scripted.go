package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sanktgall/neumascribe/domain/repositories"
)

// ScriptedProvider is a canned realtime provider for development and
// tests. It never talks to the network, secrets and answers are
// generated locally.
type ScriptedProvider struct {
	logger  *zap.Logger
	counter atomic.Int64
}

// Verify interface compliance at compile time
var _ repositories.RealtimeProvider = (*ScriptedProvider)(nil)

// NewScriptedProvider creates a new scripted provider
func NewScriptedProvider(logger *zap.Logger) *ScriptedProvider {
	return &ScriptedProvider{logger: logger}
}

// MintClientSecret returns a locally generated credential
func (s *ScriptedProvider) MintClientSecret(ctx context.Context) (*repositories.ClientSecret, error) {
	n := s.counter.Add(1)
	secret := repositories.ClientSecret{
		Value:     fmt.Sprintf("scripted-secret-%d", n),
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
	}

	raw, err := json.Marshal(map[string]interface{}{
		"value":      secret.Value,
		"expires_at": secret.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}
	secret.Raw = raw

	s.logger.Debug("Minted scripted client secret", zap.Int64("n", n))
	return &secret, nil
}

// ExchangeOffer answers every offer with a fixed SDP stub
func (s *ScriptedProvider) ExchangeOffer(ctx context.Context, offerSDP string) (string, error) {
	s.logger.Debug("Answering scripted SDP offer", zap.Int("offer_bytes", len(offerSDP)))
	return "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=scripted\r\nt=0 0\r\n", nil
}
