package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
)

type annotatorAuthRequest struct {
	Name      string `json:"name"`
	AccessKey string `json:"access_key"`
}

type annotatorAuthResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	AnnotatorID string    `json:"annotator_id"`
}

func main() {
	godotenv.Load()

	host := os.Getenv("NEUMASCRIBE_HOST")
	if host == "" {
		host = "localhost:8080"
	}

	// First, authenticate and get a JWT token
	token, annotatorID, err := authenticateAnnotator(host)
	if err != nil {
		log.Fatal("Failed to authenticate annotator:", err)
	}
	log.Printf("Successfully authenticated annotator: %s", annotatorID)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// Connect to the WebSocket server with the JWT token
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), headers)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Start a goroutine to read messages from the server
	go handleIncomingMessage(c, done)

	// Walk one dictated chant line through the protocol
	runAnnotationWalkthrough(c)

	// Wait for interrupt signal
	select {
	case <-done:
		return
	case <-interrupt:
		log.Println("interrupt")
		// Cleanly close the connection by sending a close message and then
		// waiting (with timeout) for the server to close the connection.
		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Println("write close:", err)
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return
	}
}

func authenticateAnnotator(host string) (string, string, error) {
	accessKey := os.Getenv("ANNOTATOR_ACCESS_KEY")
	if accessKey == "" {
		return "", "", fmt.Errorf("ANNOTATOR_ACCESS_KEY environment variable is required")
	}
	name := os.Getenv("ANNOTATOR_NAME")
	if name == "" {
		name = "Probe Annotator"
	}

	authReq := annotatorAuthRequest{Name: name, AccessKey: accessKey}
	jsonData, err := json.Marshal(authReq)
	if err != nil {
		return "", "", err
	}

	resp, err := http.Post("http://"+host+"/api/v1/annotators/auth", "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("authentication failed: %s", string(body))
	}

	var authResp annotatorAuthResponse
	if err := json.Unmarshal(body, &authResp); err != nil {
		return "", "", err
	}

	return authResp.Token, authResp.AnnotatorID, nil
}

// runAnnotationWalkthrough dictates a neume and the syllable below it,
// boxes both on the page, and stops the session. The server should
// answer with one inferred connection along the way.
func runAnnotationWalkthrough(c *websocket.Conn) {
	manuscript := "St. Gallen, Stiftsbibliothek, Cod. Sang. 359, p. 107"

	log.Printf("🚀 Starting annotation session for %s", manuscript)
	if err := sendJSONMessage(c, map[string]interface{}{
		"type":       "session.start",
		"manuscript": manuscript,
	}); err != nil {
		log.Printf("Error sending session start: %v", err)
		return
	}
	time.Sleep(200 * time.Millisecond)

	log.Printf("🎙  Speech channel up, marking the session ready")
	if err := sendJSONMessage(c, map[string]interface{}{
		"type": "session.ready",
	}); err != nil {
		log.Printf("Error sending session ready: %v", err)
		return
	}
	time.Sleep(200 * time.Millisecond)

	log.Printf("🎤 Dictating a pes neume")
	if err := sendJSONMessage(c, speechEvent("probe-call-1", "neume", "pes")); err != nil {
		log.Printf("Error sending speech event: %v", err)
		return
	}
	time.Sleep(200 * time.Millisecond)

	log.Printf("📦 Placing the neume box on the page")
	if err := sendJSONMessage(c, map[string]interface{}{
		"type": "annotation.place",
		"box":  map[string]float64{"x": 412, "y": 118, "width": 38, "height": 26},
	}); err != nil {
		log.Printf("Error placing annotation: %v", err)
		return
	}
	time.Sleep(200 * time.Millisecond)

	log.Printf("🎤 Dictating the syllable underneath")
	if err := sendJSONMessage(c, speechEvent("probe-call-2", "syllable", "lau")); err != nil {
		log.Printf("Error sending speech event: %v", err)
		return
	}
	time.Sleep(200 * time.Millisecond)

	log.Printf("📦 Placing the syllable box on the text line")
	if err := sendJSONMessage(c, map[string]interface{}{
		"type": "annotation.place",
		"box":  map[string]float64{"x": 400, "y": 190, "width": 64, "height": 22},
	}); err != nil {
		log.Printf("Error placing annotation: %v", err)
		return
	}
	time.Sleep(200 * time.Millisecond)

	log.Printf("🛑 Stopping the session")
	if err := sendJSONMessage(c, map[string]interface{}{
		"type": "session.stop",
	}); err != nil {
		log.Printf("Error sending session stop: %v", err)
		return
	}

	log.Printf("✅ Walkthrough sent! Waiting for server broadcasts, interrupt to exit...")
}

// speechEvent wraps one classified annotation in the provider event
// shape the server expects on the speech channel.
func speechEvent(callID, category, label string) map[string]interface{} {
	arguments, _ := json.Marshal(map[string]string{
		"category": category,
		"label":    label,
	})

	return map[string]interface{}{
		"type": "speech.event",
		"event": map[string]interface{}{
			"type": "response.done",
			"response": map[string]interface{}{
				"output": []map[string]interface{}{
					{
						"type":      "function_call",
						"name":      "annotate",
						"call_id":   callID,
						"arguments": string(arguments),
					},
				},
			},
		},
	}
}

func sendJSONMessage(c *websocket.Conn, message map[string]interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, data)
}

func handleIncomingMessage(c *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			log.Println("read:", err)
			return
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Println("unmarshal error:", err)
			continue
		}

		msgType, _ := msg["type"].(string)
		switch msgType {
		case "session.state":
			log.Printf("📋 Session %v is %v", msg["session_id"], msg["status"])
		case "speech.send":
			log.Printf("📨 Relay for the speech channel: %s", compactJSON(msg["event"]))
		case "annotations.state":
			records, _ := msg["records"].([]interface{})
			log.Printf("🗂  Session now holds %d annotation record(s)", len(records))
		case "connections.state":
			connections, _ := msg["connections"].([]interface{})
			log.Printf("🔗 %d neume connection(s) inferred", len(connections))
			for _, raw := range connections {
				if conn, ok := raw.(map[string]interface{}); ok {
					log.Printf("   neume %v -> syllable %v", conn["neume"], conn["syllable"])
				}
			}
		case "error":
			log.Printf("⚠️  Server error %v: %v", msg["error_code"], msg["message"])
		case "pong":
			log.Printf("🏓 Pong")
		default:
			log.Printf("Received unknown message type: %s", msgType)
		}
	}
}

func compactJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
