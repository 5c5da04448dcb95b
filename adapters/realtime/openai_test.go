package realtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestValidateOpenAIConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  OpenAIConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  OpenAIConfig{APIKey: "sk-test"},
			wantErr: false,
		},
		{
			name:    "missing api key",
			config:  OpenAIConfig{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOpenAIConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewOpenAIRealtimeDefaults(t *testing.T) {
	provider, err := NewOpenAIRealtime(OpenAIConfig{APIKey: "sk-test"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOpenAIRealtime failed: %v", err)
	}

	if provider.config.BaseURL != defaultBaseURL {
		t.Errorf("Expected base URL %s, got %s", defaultBaseURL, provider.config.BaseURL)
	}
	if provider.config.Model != defaultModel {
		t.Errorf("Expected model %s, got %s", defaultModel, provider.config.Model)
	}
	if provider.httpClient.Timeout != defaultTimeout {
		t.Errorf("Expected timeout %v, got %v", defaultTimeout, provider.httpClient.Timeout)
	}

	if _, err := NewOpenAIRealtime(OpenAIConfig{}, zap.NewNop()); err == nil {
		t.Error("Expected error for missing API key")
	}
}

func TestMintClientSecret(t *testing.T) {
	response := `{"value":"ek_test_123","expires_at":1756000000,"session":{"type":"realtime"}}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/client_secrets" {
			t.Errorf("Expected path /realtime/client_secrets, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Expected bearer auth header, got %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected json content type, got %s", r.Header.Get("Content-Type"))
		}

		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"model":"gpt-realtime"`) {
			t.Errorf("Expected model in request body, got %s", string(body))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(response))
	}))
	defer server.Close()

	provider, err := NewOpenAIRealtime(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOpenAIRealtime failed: %v", err)
	}

	secret, err := provider.MintClientSecret(context.Background())
	if err != nil {
		t.Fatalf("MintClientSecret failed: %v", err)
	}

	if secret.Value != "ek_test_123" {
		t.Errorf("Expected secret value ek_test_123, got %s", secret.Value)
	}
	if secret.ExpiresAt != 1756000000 {
		t.Errorf("Expected expiry 1756000000, got %d", secret.ExpiresAt)
	}
	if string(secret.Raw) != response {
		t.Errorf("Expected raw response to be passed through, got %s", string(secret.Raw))
	}
}

func TestMintClientSecretErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
	}{
		{
			name:     "provider error status",
			status:   http.StatusUnauthorized,
			response: `{"error":{"message":"bad key"}}`,
		},
		{
			name:     "missing secret value",
			status:   http.StatusOK,
			response: `{"expires_at":1756000000}`,
		},
		{
			name:     "broken json",
			status:   http.StatusOK,
			response: `{"value":`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.response))
			}))
			defer server.Close()

			provider, err := NewOpenAIRealtime(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL}, zap.NewNop())
			if err != nil {
				t.Fatalf("NewOpenAIRealtime failed: %v", err)
			}

			if _, err := provider.MintClientSecret(context.Background()); err == nil {
				t.Error("Expected MintClientSecret to fail")
			}
		})
	}
}

func TestExchangeOffer(t *testing.T) {
	const offer = "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"
	const answer = "v=0\r\no=- 2 2 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/calls" {
			t.Errorf("Expected path /realtime/calls, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("model") != "gpt-realtime" {
			t.Errorf("Expected model query parameter, got %s", r.URL.Query().Get("model"))
		}
		if r.Header.Get("Content-Type") != "application/sdp" {
			t.Errorf("Expected sdp content type, got %s", r.Header.Get("Content-Type"))
		}

		body, _ := io.ReadAll(r.Body)
		if string(body) != offer {
			t.Errorf("Expected offer to be forwarded verbatim, got %q", string(body))
		}

		w.Header().Set("Content-Type", "application/sdp")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(answer))
	}))
	defer server.Close()

	provider, err := NewOpenAIRealtime(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOpenAIRealtime failed: %v", err)
	}

	got, err := provider.ExchangeOffer(context.Background(), offer)
	if err != nil {
		t.Fatalf("ExchangeOffer failed: %v", err)
	}
	if got != answer {
		t.Errorf("Expected answer %q, got %q", answer, got)
	}

	if _, err := provider.ExchangeOffer(context.Background(), "   "); err == nil {
		t.Error("Expected error for empty offer")
	}
}

func TestExchangeOfferProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("unsupported codec"))
	}))
	defer server.Close()

	provider, err := NewOpenAIRealtime(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewOpenAIRealtime failed: %v", err)
	}

	_, err = provider.ExchangeOffer(context.Background(), "v=0\r\n")
	if err == nil {
		t.Fatal("Expected ExchangeOffer to fail")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("Expected status code in error, got %v", err)
	}
}
