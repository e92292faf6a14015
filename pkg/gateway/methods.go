package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/harun/icetop/internal/config"
	"github.com/harun/icetop/pkg/agent"
	"github.com/harun/icetop/pkg/toolexecutor"
)

// ChatService is the part of agent.Service the gateway drives.
type ChatService interface {
	Send(ctx context.Context, req agent.SendRequest, progress toolexecutor.ProgressFunc) (string, error)
	Reset(id string) int
	ReloadAll() int
}

// CatalogLister returns the configured catalog names.
type CatalogLister func(ctx context.Context) ([]string, error)

// ChatProgressEvent is pushed to the calling WebSocket client for every
// progress event of a running chat.
const ChatProgressEvent = "chat.progress"

var statusOK = map[string]string{"status": "ok"}

func (s *Server) registerMethods() {
	s.router.RegisterMethod("ping", s.handlePing)
	s.router.RegisterMethod("list_catalogs", s.handleListCatalogs)
	s.router.RegisterMethod("chat", s.handleChat)
	s.router.RegisterMethod("chat_reset", s.handleChatReset)
	s.router.RegisterMethod("chat_reload", s.handleChatReload)
	s.router.RegisterMethod("get_settings", s.handleGetSettings)
	s.router.RegisterMethod("update_settings", s.handleUpdateSettings)
	s.registerCatalogMethods()
}

func (s *Server) handlePing(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return statusOK, nil
}

func (s *Server) handleListCatalogs(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if s.catalogs == nil {
		return []string{}, nil
	}
	names, err := s.catalogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalogs: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (s *Server) handleChat(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	req := agent.SendRequest{
		SessionID: cast.ToString(params["sessionId"]),
		Catalog:   cast.ToString(params["catalog"]),
		Message:   cast.ToString(params["message"]),
	}
	if strings.TrimSpace(req.Catalog) == "" {
		return nil, invalidParams("catalog is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, invalidParams("message is required")
	}

	var progress toolexecutor.ProgressFunc
	if clientID := clientIDFromContext(ctx); clientID != "" {
		requestID := requestIDFromContext(ctx)
		session := req.SessionID
		progress = func(ev toolexecutor.ProgressEvent) {
			s.events.sendTo(clientID, EventMessage{
				Event:     ChatProgressEvent,
				Data:      ev,
				Session:   session,
				RequestID: requestID,
			})
		}
	}

	reply, err := s.chat.Send(ctx, req, progress)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *Server) handleChatReset(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	removed := s.chat.Reset(cast.ToString(params["sessionId"]))
	s.logger.Debug().Int("removed", removed).Msg("Chat sessions reset")
	return statusOK, nil
}

func (s *Server) handleChatReload(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	removed := s.chat.ReloadAll()
	s.logger.Info().Int("removed", removed).Msg("Chat sessions reloaded")
	return statusOK, nil
}

func (s *Server) handleGetSettings(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if s.settings == nil {
		return nil, errors.New("settings are not available")
	}
	cfg, err := s.settings.Load()
	if err != nil {
		return nil, err
	}
	return maskSettings(cfg), nil
}

// handleUpdateSettings merges the submitted fields over the saved settings.
// A masked apiKey, as returned by get_settings, leaves the stored key untouched.
func (s *Server) handleUpdateSettings(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if s.settings == nil {
		return nil, errors.New("settings are not available")
	}

	incoming := params
	if nested, ok := params["settings"].(map[string]interface{}); ok {
		incoming = nested
	}

	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	cfg, err := s.settings.Load()
	if err != nil {
		return nil, err
	}
	storedKey := cfg.LLM.APIKey
	storedSecret := cfg.Gateway.SharedSecret

	if err := cfg.Merge(incoming, false); err != nil {
		return nil, invalidParams("%v", err)
	}

	if isMasked(cfg.LLM.APIKey) {
		cfg.LLM.APIKey = storedKey
	}
	if isMasked(cfg.Gateway.SharedSecret) {
		cfg.Gateway.SharedSecret = storedSecret
	}

	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		return nil, invalidParams("invalid settings: %v", errors.Join(errs...))
	}
	if err := s.settings.Save(cfg); err != nil {
		return nil, err
	}

	removed := s.chat.ReloadAll()
	s.logger.Info().Int("sessions_cleared", removed).Msg("Settings updated")
	return statusOK, nil
}

func maskSettings(cfg *config.Config) *config.Config {
	masked := *cfg
	if masked.LLM.APIKey != "" {
		masked.LLM.APIKey = config.MaskKey(masked.LLM.APIKey)
	}
	if masked.Gateway.SharedSecret != "" {
		masked.Gateway.SharedSecret = "****"
	}
	return &masked
}

func isMasked(value string) bool {
	return strings.HasPrefix(value, "****")
}
