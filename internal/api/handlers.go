package api

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/BTreeMap/ChatDesk/internal/messaging"
	"github.com/BTreeMap/ChatDesk/internal/models"
)

// sendMessageHandler sends a text, or a media URL with the text as caption (POST /v1/messages).
func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req models.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.sendMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	to, err := s.msgService.ValidateAndCanonicalizeRecipient(req.Number)
	if err != nil {
		slog.Warn("Server.sendMessageHandler: recipient validation failed", "error", err, "number", req.Number)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	if req.URLMedia != "" {
		err = s.msgService.SendMedia(ctx, to, models.OutboundMedia{
			Kind:    mediaKindFromURL(req.URLMedia),
			URL:     req.URLMedia,
			Caption: req.Message,
		})
	} else {
		err = s.msgService.SendMessage(ctx, to, req.Message)
	}
	if err != nil {
		slog.Error("Server.sendMessageHandler: failed to send message", "error", err, "to", to)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to send message"))
		return
	}

	slog.Info("Server.sendMessageHandler: message sent", "to", to, "media", req.URLMedia != "")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("sent", map[string]string{"number": to}))
}

// registerHandler starts a registration conversation for a number (POST /v1/register).
func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	if s.registrar == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Registration is not enabled"))
		return
	}
	var req models.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	number, err := s.msgService.ValidateAndCanonicalizeRecipient(req.Number)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	if err := s.registrar.Start(ctx, number, s.register); err != nil {
		slog.Error("Server.registerHandler: failed to start registration", "error", err, "number", number)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start registration"))
		return
	}
	slog.Info("Server.registerHandler: registration started", "number", number)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("trigger", map[string]string{"number": number}))
}

// blacklistHandler lists (GET) or updates (POST) the blacklist.
func (s *Server) blacklistHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if s.blacklist == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Blacklist is not enabled"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if r.Method == http.MethodGet {
		numbers, err := s.blacklist.ListBlacklist(ctx)
		if err != nil {
			slog.Error("Server.blacklistHandler: failed to list blacklist", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch blacklist"))
			return
		}
		if numbers == nil {
			numbers = []string{}
		}
		writeJSONResponse(w, http.StatusOK, models.Success(numbers))
		return
	}

	var req models.BlacklistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	number, err := s.msgService.ValidateAndCanonicalizeRecipient(req.Number)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if req.Intent == models.BlacklistAdd {
		err = s.blacklist.AddToBlacklist(ctx, number)
	} else {
		err = s.blacklist.RemoveFromBlacklist(ctx, number)
	}
	if err != nil {
		slog.Error("Server.blacklistHandler: failed to update blacklist", "error", err, "number", number, "intent", req.Intent)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update blacklist"))
		return
	}
	slog.Info("Server.blacklistHandler: blacklist updated", "number", number, "intent", req.Intent)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"number": number, "intent": string(req.Intent)}))
}

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK
	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			slog.Warn("Server.healthHandler: store ping failed", "error", err)
			healthData["status"] = "degraded"
			healthData["error"] = "Store unavailable"
			statusCode = http.StatusServiceUnavailable
		}
	}
	writeJSONResponse(w, statusCode, healthData)
}

// mediaKindFromURL guesses the media kind from the URL's file extension.
func mediaKindFromURL(raw string) models.MediaKind {
	u, err := url.Parse(raw)
	if err != nil {
		return models.MediaDocument
	}
	return messaging.MediaKindOf(mime.TypeByExtension(path.Ext(u.Path)))
}

