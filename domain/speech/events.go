// Package speech models the event protocol spoken over the realtime
// channel. The browser owns the audio transport and forwards the
// provider's data channel events verbatim, so the types here mirror the
// provider wire format instead of inventing a new one.
package speech

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sanktgall/neumascribe/domain/entities"
)

const (
	// ServerEventResponseDone is the only server event type that carries
	// finished classifications. Everything else is passed over.
	ServerEventResponseDone = "response.done"

	// OutputItemFunctionCall marks a response output entry produced by a
	// tool call.
	OutputItemFunctionCall = "function_call"

	// ClientEventItemCreate is the client event type used to answer a
	// function call.
	ClientEventItemCreate = "conversation.item.create"

	// ItemFunctionCallOutput is the conversation item type carrying a
	// function call result.
	ItemFunctionCallOutput = "function_call_output"
)

// ServerEvent is one event received from the speech model. Unknown
// fields are dropped on decode, which is fine because only the response
// payload of a response.done event is ever read.
type ServerEvent struct {
	Type     string    `json:"type"`
	EventID  string    `json:"event_id,omitempty"`
	Response *Response `json:"response,omitempty"`
}

// Response is the response body of a response.done event.
type Response struct {
	ID     string       `json:"id,omitempty"`
	Status string       `json:"status,omitempty"`
	Output []OutputItem `json:"output,omitempty"`
}

// OutputItem is one entry of a response output. Function call items
// carry their arguments as a JSON encoded string.
type OutputItem struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ClientEvent is an event the server asks the browser to forward back
// to the speech model over the data channel.
type ClientEvent struct {
	Type string            `json:"type"`
	Item *ConversationItem `json:"item,omitempty"`
}

// ConversationItem is the payload of a conversation.item.create event.
type ConversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// ackPayload is what the model expects as a function call result.
const ackPayload = `{"success":true}`

// NewFunctionCallAck builds the acknowledgement for a handled function
// call. Without the ack the model stalls waiting for the tool result.
func NewFunctionCallAck(callID string) ClientEvent {
	return ClientEvent{
		Type: ClientEventItemCreate,
		Item: &ConversationItem{
			Type:   ItemFunctionCallOutput,
			CallID: callID,
			Output: ackPayload,
		},
	}
}

// Classification is one spoken annotation extracted from a server
// event, ready to become a draft record.
type Classification struct {
	Category entities.Category
	Label    string
	CallID   string
}

// classificationArgs is the argument payload of an annotation function
// call.
type classificationArgs struct {
	Category string `json:"category"`
	Label    string `json:"label"`
}

// ExtractClassifications pulls the finished classifications out of a
// server event. Events other than response.done yield nothing, as do
// output items that are not function calls or whose arguments do not
// decode. Malformed entries are skipped, never fatal.
func ExtractClassifications(event ServerEvent) []Classification {
	if event.Type != ServerEventResponseDone || event.Response == nil {
		return nil
	}

	var classifications []Classification
	for _, item := range event.Response.Output {
		if item.Type != OutputItemFunctionCall {
			continue
		}

		var args classificationArgs
		if err := json.Unmarshal([]byte(item.Arguments), &args); err != nil {
			continue
		}

		classifications = append(classifications, Classification{
			Category: entities.ParseCategory(strings.TrimSpace(args.Category)),
			Label:    NormalizeLabel(args.Label),
			CallID:   item.CallID,
		})
	}

	return classifications
}

// NormalizeLabel trims surrounding whitespace and converts the label to
// NFC. Transcribed text arrives with combining marks in whatever order
// the model produced them.
func NormalizeLabel(label string) string {
	return norm.NFC.String(strings.TrimSpace(label))
}
