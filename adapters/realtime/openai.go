package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sanktgall/neumascribe/domain/repositories"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-realtime"
	defaultTimeout = 30 * time.Second

	clientSecretsPath = "/realtime/client_secrets"
	callsPath         = "/realtime/calls"
)

// OpenAIConfig holds the settings for the OpenAI realtime provider
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// ValidateOpenAIConfig validates the OpenAI provider configuration
func ValidateOpenAIConfig(config OpenAIConfig) error {
	if config.APIKey == "" {
		return errors.New("openai API key is required")
	}
	return nil
}

// OpenAIRealtime talks to the OpenAI realtime REST surface. Only the
// two control plane calls live here, the audio itself flows over
// WebRTC between the browser and OpenAI.
type OpenAIRealtime struct {
	config     OpenAIConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// Verify interface compliance at compile time
var _ repositories.RealtimeProvider = (*OpenAIRealtime)(nil)

// NewOpenAIRealtime creates a new OpenAI realtime provider
func NewOpenAIRealtime(config OpenAIConfig, logger *zap.Logger) (*OpenAIRealtime, error) {
	if err := ValidateOpenAIConfig(config); err != nil {
		return nil, fmt.Errorf("invalid openai configuration: %w", err)
	}

	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	return &OpenAIRealtime{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}, nil
}

// clientSecretRequest is the body for the client secret endpoint
type clientSecretRequest struct {
	Session realtimeSession `json:"session"`
}

type realtimeSession struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

// clientSecretResponse picks the fields we log and sanity check out of
// the provider response. The full body is passed through untouched.
type clientSecretResponse struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// MintClientSecret requests a fresh ephemeral credential from OpenAI
func (o *OpenAIRealtime) MintClientSecret(ctx context.Context) (*repositories.ClientSecret, error) {
	payload, err := json.Marshal(clientSecretRequest{
		Session: realtimeSession{
			Type:  "realtime",
			Model: o.config.Model,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal client secret request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.BaseURL+clientSecretsPath, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create client secret request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client secret request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read client secret response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		o.logger.Error("OpenAI client secret request failed",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)),
		)
		return nil, fmt.Errorf("openai API error %d: %s", resp.StatusCode, string(body))
	}

	var parsed clientSecretResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode client secret response: %w", err)
	}
	if parsed.Value == "" {
		return nil, errors.New("openai returned no client secret value")
	}

	o.logger.Debug("Minted realtime client secret",
		zap.Int64("expires_at", parsed.ExpiresAt),
	)

	return &repositories.ClientSecret{
		Value:     parsed.Value,
		ExpiresAt: parsed.ExpiresAt,
		Raw:       body,
	}, nil
}

// ExchangeOffer sends the browser's SDP offer to OpenAI and returns the
// SDP answer
func (o *OpenAIRealtime) ExchangeOffer(ctx context.Context, offerSDP string) (string, error) {
	if strings.TrimSpace(offerSDP) == "" {
		return "", errors.New("sdp offer is empty")
	}

	endpoint := o.config.BaseURL + callsPath + "?model=" + url.QueryEscape(o.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("failed to create call request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read call response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		o.logger.Error("OpenAI call request failed",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)),
		)
		return "", fmt.Errorf("openai API error %d: %s", resp.StatusCode, string(body))
	}

	o.logger.Debug("Exchanged SDP offer",
		zap.Int("answer_bytes", len(body)),
	)

	return string(body), nil
}
