package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanktgall/neumascribe/domain/entities"
	"github.com/sanktgall/neumascribe/domain/repositories"
	"github.com/sanktgall/neumascribe/internal/auth"
	"github.com/sanktgall/neumascribe/internal/websocket"
)

// annotatorIDKey is the echo context key the auth middleware stores the
// caller's annotator id under.
const annotatorIDKey = "annotator_id"

const defaultSessionListLimit = 20

// InitRoutes initializes all API routes
func InitRoutes(
	e *echo.Echo,
	hub *websocket.Hub,
	authenticator *auth.Authenticator,
	provider repositories.RealtimeProvider,
	archive repositories.SessionRepository,
	accessKey string,
	logger *zap.Logger,
) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "neumascribe-server",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	// Marker styles are static and the viewer loads them before logging
	// in, so the endpoint is public.
	v1.GET("/styles", func(c echo.Context) error {
		return c.JSON(http.StatusOK, entities.StylePalette())
	})

	// Annotator APIs
	v1.POST("/annotators/auth", func(c echo.Context) error {
		return annotatorAuth(c, authenticator, accessKey, logger)
	})

	gate := requireAnnotator(authenticator, logger)

	// Realtime provider passthroughs
	v1.GET("/token", func(c echo.Context) error {
		return mintClientSecret(c, provider, logger)
	}, gate)
	v1.POST("/session", func(c echo.Context) error {
		return exchangeOffer(c, provider, logger)
	}, gate)

	// Archived session APIs
	v1.GET("/sessions", func(c echo.Context) error {
		return listSessions(c, archive, logger)
	}, gate)
	v1.GET("/sessions/:id", func(c echo.Context) error {
		return getSession(c, archive, logger)
	}, gate)

	// WebSocket endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		return websocketWithAuth(hub, c, authenticator, logger)
	})
}

// annotatorAuth exchanges the shared access key for an annotator JWT.
func annotatorAuth(c echo.Context, authenticator *auth.Authenticator, accessKey string, logger *zap.Logger) error {
	var req AnnotatorAuthRequest

	// Bind and validate request
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind annotator auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.Name == "" || req.AccessKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Name and access key are required",
		})
	}

	if req.AccessKey != accessKey {
		logger.Warn("Annotator authentication failed",
			zap.String("name", req.Name))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid access key",
		})
	}

	annotatorID := annotatorIDFromName(req.Name)

	token, expiresAt, err := authenticator.GenerateAnnotatorToken(annotatorID, req.Name)
	if err != nil {
		logger.Error("Failed to generate annotator token",
			zap.String("annotator_id", annotatorID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Annotator authenticated successfully",
		zap.String("annotator_id", annotatorID),
		zap.String("name", req.Name))

	return c.JSON(http.StatusOK, AnnotatorAuthResponse{
		Token:       token,
		ExpiresAt:   expiresAt,
		AnnotatorID: annotatorID,
	})
}

// annotatorIDFromName derives a readable annotator id from the display
// name, with a uuid suffix so repeated logins stay distinct.
func annotatorIDFromName(name string) string {
	slug := strings.Join(strings.Fields(strings.ToLower(name)), "-")
	if slug == "" {
		slug = "annotator"
	}
	return slug + "-" + uuid.NewString()[:8]
}

// mintClientSecret proxies the provider's ephemeral credential mint.
func mintClientSecret(c echo.Context, provider repositories.RealtimeProvider, logger *zap.Logger) error {
	secret, err := provider.MintClientSecret(c.Request().Context())
	if err != nil {
		logger.Error("Failed to mint realtime client secret", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "provider_unavailable",
			Message: "Failed to obtain a realtime client secret",
		})
	}

	// Pass the provider payload through untouched so new provider fields
	// reach the viewer without a server change.
	if len(secret.Raw) > 0 {
		return c.JSONBlob(http.StatusOK, secret.Raw)
	}
	return c.JSON(http.StatusOK, secret)
}

// exchangeOffer relays an SDP offer to the provider and returns the answer.
func exchangeOffer(c echo.Context, provider repositories.RealtimeProvider, logger *zap.Logger) error {
	offer, err := io.ReadAll(c.Request().Body)
	if err != nil {
		logger.Error("Failed to read SDP offer", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to read request body",
		})
	}
	if len(offer) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "SDP offer body is required",
		})
	}

	answer, err := provider.ExchangeOffer(c.Request().Context(), string(offer))
	if err != nil {
		logger.Error("Failed to exchange SDP offer", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "provider_unavailable",
			Message: "Failed to negotiate a realtime session",
		})
	}

	return c.Blob(http.StatusOK, "application/sdp", []byte(answer))
}

// listSessions returns the caller's archived sessions, newest first.
func listSessions(c echo.Context, archive repositories.SessionRepository, logger *zap.Logger) error {
	limit := int64(defaultSessionListLimit)
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "limit must be a positive integer",
			})
		}
		limit = parsed
	}

	callerID := annotatorID(c)
	sessions, err := archive.GetByAnnotatorID(c.Request().Context(), callerID, limit)
	if err != nil {
		logger.Error("Failed to list archived sessions",
			zap.String("annotator_id", callerID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load archived sessions",
		})
	}

	return c.JSON(http.StatusOK, sessions)
}

// getSession returns one archived session with its records and connections.
func getSession(c echo.Context, archive repositories.SessionRepository, logger *zap.Logger) error {
	id := c.Param("id")

	session, err := archive.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Session not found",
			})
		}
		logger.Error("Failed to load archived session",
			zap.String("session_id", id),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load archived session",
		})
	}

	// Annotators can only read their own sessions.
	if session.AnnotatorID != annotatorID(c) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Session not found",
		})
	}

	return c.JSON(http.StatusOK, session)
}

// requireAnnotator gates a route on a valid annotator JWT and stores the
// caller's annotator id on the request context.
func requireAnnotator(authenticator *auth.Authenticator, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request())
			if token == "" {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required in Authorization header",
				})
			}

			claims, err := authenticator.ValidateToken(token)
			if err != nil {
				logger.Warn("Request rejected: invalid token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			if claims.Role != auth.RoleAnnotator {
				logger.Warn("Request rejected: invalid role",
					zap.String("role", claims.Role))
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "invalid_role",
					Message: "Only annotator tokens may call this endpoint",
				})
			}

			c.Set(annotatorIDKey, claims.AnnotatorID)
			return next(c)
		}
	}
}

// annotatorID returns the id requireAnnotator stored for the caller.
func annotatorID(c echo.Context) string {
	id, _ := c.Get(annotatorIDKey).(string)
	return id
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// websocketWithAuth handles WebSocket connections with JWT authentication
func websocketWithAuth(hub *websocket.Hub, c echo.Context, authenticator *auth.Authenticator, logger *zap.Logger) error {
	// Browsers cannot set headers on a WebSocket dial, so the token is
	// also accepted from the query string.
	token := bearerToken(c.Request())
	if token == "" {
		token = c.QueryParam("token")
	}

	if token == "" {
		logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in Authorization header or token query parameter",
		})
	}

	claims, err := authenticator.ValidateToken(token)
	if err != nil {
		logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	if claims.Role != auth.RoleAnnotator {
		logger.Warn("WebSocket connection rejected: invalid role",
			zap.String("role", claims.Role))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_role",
			Message: "Only annotator tokens are allowed for WebSocket connections",
		})
	}

	if claims.AnnotatorID == "" {
		logger.Error("WebSocket connection rejected: missing annotator ID in token")
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_token_claims",
			Message: "Annotator ID not found in token",
		})
	}

	logger.Info("WebSocket connection authenticated",
		zap.String("annotator_id", claims.AnnotatorID))

	return websocket.HandleWebSocket(hub, c, claims.AnnotatorID, logger)
}
