package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"

	"digitext/internal/config"
	"digitext/internal/domain"
	"digitext/internal/metrics"
)

const maxBodyBytes = 1 << 20 // 1MB max

// Resolver consumes normalized events from the webhook handlers.
type Resolver interface {
	HandleInbound(ctx context.Context, ev domain.InboundEvent) error
}

// Server exposes one handler per provider family: the unified social webhook,
// the Business API webhook (both with the GET challenge handshake), and the
// POST-only relay endpoint.
type Server struct {
	cfg      config.ProvidersConfig
	resolver Resolver
	logger   *slog.Logger
	mux      *http.ServeMux
}

func NewServer(cfg config.ProvidersConfig, resolver Resolver, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		resolver: resolver,
		logger:   logger,
	}
	s.mux = http.NewServeMux()

	metaPath := cfg.Meta.WebhookPath
	if metaPath == "" {
		metaPath = "/webhooks/meta"
	}
	waPath := cfg.WhatsApp.WebhookPath
	if waPath == "" {
		waPath = "/webhooks/whatsapp"
	}
	relayPath := cfg.Relay.WebhookPath
	if relayPath == "" {
		relayPath = "/webhooks/unofficial-whatsapp"
	}

	s.mux.HandleFunc("GET "+metaPath, s.verification(cfg.Meta.VerifyToken))
	s.mux.HandleFunc("POST "+metaPath, s.incoming(ParseMeta, cfg.Meta.AppSecret, "X-Hub-Signature-256"))
	s.mux.HandleFunc("GET "+waPath, s.verification(cfg.WhatsApp.VerifyToken))
	s.mux.HandleFunc("POST "+waPath, s.incoming(ParseBusiness, cfg.WhatsApp.AppSecret, "X-Hub-Signature-256"))
	s.mux.HandleFunc("POST "+relayPath, s.incoming(ParseRelay, cfg.Relay.Secret, "X-Signature-256"))

	// Short aliases kept for providers configured against the old paths,
	// unless the configuration already claims them.
	taken := map[string]bool{metaPath: true, waPath: true, relayPath: true}
	if !taken["/webhook"] {
		s.mux.HandleFunc("GET /webhook", s.verification(cfg.Meta.VerifyToken))
		s.mux.HandleFunc("POST /webhook", s.incoming(ParseMeta, cfg.Meta.AppSecret, "X-Hub-Signature-256"))
	}
	if !taken["/whatsapp-webhook"] {
		s.mux.HandleFunc("POST /whatsapp-webhook", s.incoming(ParseRelay, cfg.Relay.Secret, "X-Signature-256"))
	}

	return s
}

// Handler returns the webhook mux for mounting on the main server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// verification handles the hub.challenge handshake shared by the Meta and
// Business API webhooks.
func (s *Server) verification(verifyToken string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		mode := r.URL.Query().Get("hub.mode")
		token := r.URL.Query().Get("hub.verify_token")
		challenge := r.URL.Query().Get("hub.challenge")

		if mode == "subscribe" && token != "" && token == verifyToken {
			s.logger.Info("webhook verified", "path", r.URL.Path)
			rw.WriteHeader(http.StatusOK)
			fmt.Fprint(rw, html.EscapeString(challenge))
			return
		}

		s.logger.Warn("webhook verification failed", "path", r.URL.Path, "mode", mode)
		http.Error(rw, "Forbidden", http.StatusForbidden)
	}
}

type parseFunc func(raw []byte, logger *slog.Logger) []domain.InboundEvent

// incoming builds the event-delivery POST handler for one provider family.
// Malformed payloads are never an error to the provider: extraction that
// produces zero events still answers 200 so the provider does not retry.
func (s *Server) incoming(parse parseFunc, secret, sigHeader string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(rw, "Bad Request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		if secret != "" {
			sig := r.Header.Get(sigHeader)
			if !verifyHMAC(body, secret, sig) {
				s.logger.Warn("invalid webhook signature", "path", r.URL.Path)
				http.Error(rw, "Forbidden", http.StatusForbidden)
				return
			}
		}

		events := parse(body, s.logger)
		accepted := 0
		for _, ev := range events {
			metrics.EventsTotal.Inc()
			if err := s.resolver.HandleInbound(r.Context(), ev); err != nil {
				s.logger.Warn("event not resolved",
					"provider", ev.ProviderFamily,
					"sender", ev.SenderNativeID,
					"err", err,
				)
				continue
			}
			accepted++
		}

		s.logger.Info("webhook processed",
			"path", r.URL.Path,
			"events", len(events),
			"accepted", accepted,
		)

		rw.WriteHeader(http.StatusOK)
		json.NewEncoder(rw).Encode(map[string]any{
			"status": "received",
			"events": accepted,
		})
	}
}

// verifyHMAC checks a sha256= prefixed HMAC signature header.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
