// Package httpapi exposes spec.md §6's external interfaces over plain
// net/http. The HTTP framework/router itself is an explicit non-goal
// (spec.md uses it only as a delivery mechanism) — this package is
// deliberately thin: it decodes a request, calls into webhook/rpcticket/
// wsconsole/listeners, and encodes the result, grounded on picoclaw's
// pkg/api/server.go route-table and pkg/api/webhooks.go handler shape.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/h4mn/skybridge/pkg/listeners"
	"github.com/h4mn/skybridge/pkg/logger"
	"github.com/h4mn/skybridge/pkg/queue"
	"github.com/h4mn/skybridge/pkg/rpcticket"
	"github.com/h4mn/skybridge/pkg/webhook"
	"github.com/h4mn/skybridge/pkg/wsconsole"
)

// Server wires every inbound/outbound HTTP surface spec.md §6 names onto
// one *http.ServeMux.
type Server struct {
	intake    *webhook.Intake
	q         queue.Queue
	tickets   *rpcticket.Issuer
	console   *wsconsole.Hub
	metrics   *listeners.MetricsListener
	apiKey    string
	startedAt time.Time
}

// New builds a Server. apiKey empty disables bearer-token auth (dev mode).
func New(intake *webhook.Intake, q queue.Queue, tickets *rpcticket.Issuer, console *wsconsole.Hub, metrics *listeners.MetricsListener, apiKey string) *Server {
	return &Server{intake: intake, q: q, tickets: tickets, console: console, metrics: metrics, apiKey: apiKey, startedAt: time.Now()}
}

// Handler returns the fully-routed, auth-wrapped http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /webhooks/github", s.handleWebhook("github"))
	mux.HandleFunc("POST /webhooks/trello", s.handleWebhook("trello"))
	mux.HandleFunc("GET /ticket", s.handleTicket)
	mux.HandleFunc("POST /envelope", s.handleEnvelope)
	mux.HandleFunc("GET /ws/console", s.console.HandleUpgrade)
	return authMiddleware(s.apiKey, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	report := s.metrics.Report()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue_size":       s.q.Size(),
		"total_jobs":       report.TotalJobs,
		"completed_jobs":   report.CompletedJobs,
		"failed_jobs":      report.FailedJobs,
		"success_rate":     report.SuccessRate,
		"latency_p50_ms":   report.P50.Milliseconds(),
		"latency_p95_ms":   report.P95.Milliseconds(),
		"latency_p99_ms":   report.P99.Milliseconds(),
		"console_clients":  s.console.ClientCount(),
	})
}

const maxWebhookBodyBytes = 5 << 20 // 5 MiB, generous for an issue payload with a long body

// handleWebhook returns a handler for one webhook source, per spec.md §6:
// POST body raw JSON, source-specific headers carry delivery id/signature
// and event type.
func (s *Server) handleWebhook(source string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
			return
		}
		if len(body) > maxWebhookBodyBytes {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payload too large"})
			return
		}

		var header, deliveryID, signature string
		switch source {
		case "github":
			header = r.Header.Get("X-GitHub-Event")
			deliveryID = r.Header.Get("X-GitHub-Delivery")
			signature = r.Header.Get("X-Hub-Signature-256")
		case "trello":
			header = "trello"
			deliveryID = r.Header.Get("X-Trello-Webhook")
			signature = r.Header.Get("X-Trello-Webhook")
		}

		outcome := s.intake.Receive(source, header, deliveryID, body, signature)
		switch {
		case outcome.Pong:
			writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
		case outcome.RejectError != nil:
			logger.WarnCF("httpapi", "webhook rejected", map[string]interface{}{"source": source, "error": outcome.RejectError.Error()})
			writeJSON(w, rejectStatus(outcome), map[string]string{"error": outcome.RejectError.Error()})
		case outcome.Accepted:
			writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": outcome.JobID, "duplicate": outcome.Duplicate})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unknown outcome"})
		}
	}
}

func rejectStatus(o webhook.Outcome) int {
	switch {
	case o.RejectKind.String() == "unauthorized":
		return http.StatusUnauthorized
	case o.RejectKind.String() == "unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// handleTicket issues a one-shot capability ticket for an RPC method.
func (s *Server) handleTicket(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Query().Get("method")
	if method == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "method query parameter required"})
		return
	}
	id, err := s.tickets.Issue(method)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ticket issuance failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ticket_id": id, "method": method})
}

type envelopeRequest struct {
	TicketID string          `json:"ticket_id"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args"`
}

// handleEnvelope redeems a previously-issued ticket and, on success,
// stamps redemption metadata onto the envelope via rpcticket.StampRedemption.
// Dispatching the redeemed method to an actual RPC handler is outside
// spec.md's scope (the ticket/envelope pair is the capability boundary,
// not a full RPC framework) — this returns the stamped envelope as
// confirmation of a valid, now-consumed ticket.
func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	var req envelopeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON envelope"})
		return
	}
	if err := s.tickets.Redeem(req.TicketID, req.Method); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		return
	}
	stamped, err := rpcticket.StampRedemption(body, req.TicketID, time.Now())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to stamp envelope"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(stamped)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Serve starts an HTTP server bound to addr and shuts it down gracefully
// when ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
