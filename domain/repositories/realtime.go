package repositories

import (
	"context"
	"encoding/json"
)

// ClientSecret is a short-lived credential the browser uses to open its
// own realtime channel to the speech provider. Raw holds the provider
// response verbatim so the token endpoint can pass it through without
// the server learning the provider's schema.
type ClientSecret struct {
	Value     string
	ExpiresAt int64
	Raw       json.RawMessage
}

// RealtimeProvider defines the two provider calls the server performs
// on behalf of the browser. Audio never touches the server, the
// provider speaks WebRTC directly with the client.
type RealtimeProvider interface {
	// MintClientSecret requests a fresh ephemeral credential.
	MintClientSecret(ctx context.Context) (*ClientSecret, error)

	// ExchangeOffer sends the browser's SDP offer to the provider and
	// returns the provider's SDP answer.
	ExchangeOffer(ctx context.Context, offerSDP string) (string, error)
}
