package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gorilla "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanktgall/neumascribe/adapters/memory"
	"github.com/sanktgall/neumascribe/adapters/realtime"
	"github.com/sanktgall/neumascribe/domain/entities"
	"github.com/sanktgall/neumascribe/internal/auth"
	"github.com/sanktgall/neumascribe/internal/websocket"
	"github.com/sanktgall/neumascribe/usecase"
)

const (
	testAccessKey = "scriptorium-key"
	testJWTSecret = "test-secret"
)

func newTestServer(t *testing.T) (*echo.Echo, *memory.SessionRepository, *auth.Authenticator) {
	t.Helper()

	logger := zap.NewNop()
	archive := memory.NewSessionRepository()
	service := usecase.NewAnnotationService(archive, logger)
	hub := websocket.NewHub(service, logger)
	go hub.Run()

	authenticator := auth.NewAuthenticator(testJWTSecret, time.Hour)
	provider := realtime.NewScriptedProvider(logger)

	e := echo.New()
	InitRoutes(e, hub, authenticator, provider, archive, testAccessKey, logger)
	return e, archive, authenticator
}

func doRequest(e *echo.Echo, method, path, body, contentType, token string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode error response %q: %v", rec.Body.String(), err)
	}
	return resp
}

// archivedSession builds a closed session with one placed record so the
// listing endpoints have something real to return.
func archivedSession(t *testing.T, archive *memory.SessionRepository, annotatorID, manuscript string) *entities.AnnotationSession {
	t.Helper()

	session := entities.NewAnnotationSession(annotatorID)
	if err := session.Begin(manuscript); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := session.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if _, err := session.AppendDraft(entities.AnnotationRecord{
		Category: entities.CategoryNeume,
		Label:    "pes",
	}); err != nil {
		t.Fatalf("AppendDraft failed: %v", err)
	}
	if _, err := session.PlaceBox(-1, entities.BoundingBox{X: 100, Y: 50, Width: 40, Height: 30}); err != nil {
		t.Fatalf("PlaceBox failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := archive.Create(context.Background(), session); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return session
}

func TestHealthEndpoint(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec := doRequest(e, http.MethodGet, "/health", "", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %q", body["status"])
	}
	if body["service"] != "neumascribe-server" {
		t.Errorf("Expected service neumascribe-server, got %q", body["service"])
	}
}

func TestAnnotatorAuth(t *testing.T) {
	e, _, authenticator := newTestServer(t)

	t.Run("ValidKey", func(t *testing.T) {
		rec := doRequest(e, http.MethodPost, "/api/v1/annotators/auth",
			`{"name":"Notker Balbulus","access_key":"scriptorium-key"}`,
			echo.MIMEApplicationJSON, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var resp AnnotatorAuthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode auth response: %v", err)
		}
		if resp.Token == "" {
			t.Error("Expected a token in the response")
		}
		if !strings.HasPrefix(resp.AnnotatorID, "notker-balbulus-") {
			t.Errorf("Expected annotator id derived from the name, got %q", resp.AnnotatorID)
		}
		if !resp.ExpiresAt.After(time.Now()) {
			t.Errorf("Expected a future expiry, got %v", resp.ExpiresAt)
		}

		claims, err := authenticator.ValidateToken(resp.Token)
		if err != nil {
			t.Fatalf("Issued token failed validation: %v", err)
		}
		if claims.AnnotatorID != resp.AnnotatorID {
			t.Errorf("Expected token annotator id %q, got %q", resp.AnnotatorID, claims.AnnotatorID)
		}
		if claims.Role != auth.RoleAnnotator {
			t.Errorf("Expected role %q, got %q", auth.RoleAnnotator, claims.Role)
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		rec := doRequest(e, http.MethodPost, "/api/v1/annotators/auth",
			`{"name":"Notker","access_key":"wrong"}`,
			echo.MIMEApplicationJSON, "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("Expected status 401, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error != "authentication_failed" {
			t.Errorf("Expected error authentication_failed, got %q", resp.Error)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		rec := doRequest(e, http.MethodPost, "/api/v1/annotators/auth",
			`{"name":"Notker"}`,
			echo.MIMEApplicationJSON, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected status 400, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error != "missing_fields" {
			t.Errorf("Expected error missing_fields, got %q", resp.Error)
		}
	})

	t.Run("BrokenJSON", func(t *testing.T) {
		rec := doRequest(e, http.MethodPost, "/api/v1/annotators/auth",
			`{"name":`, echo.MIMEApplicationJSON, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected status 400, got %d", rec.Code)
		}
	})
}

func TestMintTokenEndpoint(t *testing.T) {
	e, _, authenticator := newTestServer(t)

	t.Run("RequiresToken", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/api/v1/token", "", "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("Expected status 401, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error != "missing_token" {
			t.Errorf("Expected error missing_token, got %q", resp.Error)
		}
	})

	t.Run("PassesProviderPayloadThrough", func(t *testing.T) {
		token, _, err := authenticator.GenerateAnnotatorToken("notker-1", "Notker")
		if err != nil {
			t.Fatalf("GenerateAnnotatorToken failed: %v", err)
		}

		rec := doRequest(e, http.MethodGet, "/api/v1/token", "", "", token)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var payload struct {
			Value     string `json:"value"`
			ExpiresAt int64  `json:"expires_at"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("Failed to decode token payload: %v", err)
		}
		if !strings.HasPrefix(payload.Value, "scripted-secret-") {
			t.Errorf("Expected a scripted secret value, got %q", payload.Value)
		}
		if payload.ExpiresAt <= 0 {
			t.Errorf("Expected an expiry timestamp, got %d", payload.ExpiresAt)
		}
	})
}

func TestExchangeOfferEndpoint(t *testing.T) {
	e, _, authenticator := newTestServer(t)
	token, _, err := authenticator.GenerateAnnotatorToken("notker-1", "Notker")
	if err != nil {
		t.Fatalf("GenerateAnnotatorToken failed: %v", err)
	}

	t.Run("ReturnsAnswer", func(t *testing.T) {
		offer := "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"
		rec := doRequest(e, http.MethodPost, "/api/v1/session", offer, "application/sdp", token)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "application/sdp") {
			t.Errorf("Expected content type application/sdp, got %q", ct)
		}
		if !strings.HasPrefix(rec.Body.String(), "v=0") {
			t.Errorf("Expected an SDP answer, got %q", rec.Body.String())
		}
	})

	t.Run("RejectsEmptyBody", func(t *testing.T) {
		rec := doRequest(e, http.MethodPost, "/api/v1/session", "", "application/sdp", token)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected status 400, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error != "missing_fields" {
			t.Errorf("Expected error missing_fields, got %q", resp.Error)
		}
	})

	t.Run("RequiresToken", func(t *testing.T) {
		rec := doRequest(e, http.MethodPost, "/api/v1/session", "v=0", "application/sdp", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("Expected status 401, got %d", rec.Code)
		}
	})
}

func TestArchivedSessionEndpoints(t *testing.T) {
	e, archive, authenticator := newTestServer(t)

	mine := archivedSession(t, archive, "notker-1", "Einsiedeln 121")
	archivedSession(t, archive, "notker-1", "St. Gallen 359")
	foreign := archivedSession(t, archive, "tuotilo-1", "Bamberg lit. 6")

	token, _, err := authenticator.GenerateAnnotatorToken("notker-1", "Notker")
	if err != nil {
		t.Fatalf("GenerateAnnotatorToken failed: %v", err)
	}

	t.Run("ListOwnSessions", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/api/v1/sessions", "", "", token)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var sessions []*entities.AnnotationSession
		if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
			t.Fatalf("Failed to decode session list: %v", err)
		}
		if len(sessions) != 2 {
			t.Fatalf("Expected 2 sessions, got %d", len(sessions))
		}
		for _, session := range sessions {
			if session.AnnotatorID != "notker-1" {
				t.Errorf("Expected only own sessions, got one for %q", session.AnnotatorID)
			}
		}
	})

	t.Run("ListHonorsLimit", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/api/v1/sessions?limit=1", "", "", token)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		var sessions []*entities.AnnotationSession
		if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
			t.Fatalf("Failed to decode session list: %v", err)
		}
		if len(sessions) != 1 {
			t.Errorf("Expected 1 session, got %d", len(sessions))
		}
	})

	t.Run("ListRejectsBadLimit", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/api/v1/sessions?limit=zero", "", "", token)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected status 400, got %d", rec.Code)
		}
	})

	t.Run("GetOwnSession", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/api/v1/sessions/"+mine.ID, "", "", token)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}

		var session entities.AnnotationSession
		if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
			t.Fatalf("Failed to decode session: %v", err)
		}
		if session.ID != mine.ID {
			t.Errorf("Expected session %q, got %q", mine.ID, session.ID)
		}
		if session.Manuscript != "Einsiedeln 121" {
			t.Errorf("Expected manuscript Einsiedeln 121, got %q", session.Manuscript)
		}
		if len(session.Records) != 1 {
			t.Fatalf("Expected 1 record, got %d", len(session.Records))
		}
		if session.Records[0].Box == nil || session.Records[0].Box.X != 100 {
			t.Errorf("Expected the placed box to survive the round trip, got %+v", session.Records[0].Box)
		}
	})

	t.Run("ForeignSessionHidden", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/api/v1/sessions/"+foreign.ID, "", "", token)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("Expected status 404, got %d", rec.Code)
		}
	})

	t.Run("MissingSession", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/api/v1/sessions/nonexistent", "", "", token)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("Expected status 404, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error != "not_found" {
			t.Errorf("Expected error not_found, got %q", resp.Error)
		}
	})
}

func TestStylesEndpoint(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec := doRequest(e, http.MethodGet, "/api/v1/styles", "", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var palette map[entities.Category]entities.MarkerStyle
	if err := json.Unmarshal(rec.Body.Bytes(), &palette); err != nil {
		t.Fatalf("Failed to decode style palette: %v", err)
	}
	if len(palette) != 2 {
		t.Fatalf("Expected 2 styles, got %d", len(palette))
	}
	if palette[entities.CategoryNeume].Stroke != "#b45309" {
		t.Errorf("Expected neume stroke #b45309, got %q", palette[entities.CategoryNeume].Stroke)
	}
	if palette[entities.CategorySyllable].FontSize != 15 {
		t.Errorf("Expected syllable font size 15, got %v", palette[entities.CategorySyllable].FontSize)
	}
}

func TestWebSocketAuthGate(t *testing.T) {
	e, _, _ := newTestServer(t)

	t.Run("MissingToken", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/ws", "", "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("Expected status 401, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error != "missing_token" {
			t.Errorf("Expected error missing_token, got %q", resp.Error)
		}
	})

	t.Run("InvalidToken", func(t *testing.T) {
		rec := doRequest(e, http.MethodGet, "/ws?token=not-a-jwt", "", "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("Expected status 401, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error != "invalid_token" {
			t.Errorf("Expected error invalid_token, got %q", resp.Error)
		}
	})

	t.Run("WrongRole", func(t *testing.T) {
		claims := &auth.JWTClaims{
			AnnotatorID: "intruder-1",
			Role:        "device",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
			},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
		if err != nil {
			t.Fatalf("Failed to sign token: %v", err)
		}

		rec := doRequest(e, http.MethodGet, "/ws?token="+signed, "", "", "")
		if rec.Code != http.StatusForbidden {
			t.Fatalf("Expected status 403, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error != "invalid_role" {
			t.Errorf("Expected error invalid_role, got %q", resp.Error)
		}
	})
}

func TestWebSocketUpgradeWithQueryToken(t *testing.T) {
	e, _, authenticator := newTestServer(t)

	server := httptest.NewServer(e)
	defer server.Close()

	token, _, err := authenticator.GenerateAnnotatorToken("notker-1", "Notker")
	if err != nil {
		t.Fatalf("GenerateAnnotatorToken failed: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Expected the upgrade to succeed, got %v", err)
	}
	defer conn.Close()

	// The hub answers pings even before a session starts.
	ping, _ := json.Marshal(map[string]string{"type": "ping"})
	if err := conn.WriteMessage(gorilla.TextMessage, ping); err != nil {
		t.Fatalf("Failed to write ping: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read pong: %v", err)
	}

	var pong map[string]interface{}
	if err := json.Unmarshal(raw, &pong); err != nil {
		t.Fatalf("Failed to decode pong: %v", err)
	}
	if pong["type"] != "pong" {
		t.Errorf("Expected a pong, got %v", pong["type"])
	}
}
