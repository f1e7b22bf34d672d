package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/metrics"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/restoration"
)

const (
	headerReturnsSecret    = "X-Returns-Secret"
	headerReturnsSignature = "X-Returns-Hmac-Sha256"
)

type returnsEvent struct {
	Event  string `json:"event"`
	IsTest bool   `json:"is_test"`
	Return struct {
		ID             string    `json:"id"`
		RMANumber      string    `json:"rma_number"`
		OrderNumber    string    `json:"order_number"`
		TrackingNumber string    `json:"tracking_number"`
		Carrier        string    `json:"slug"`
		TrackingStatus string    `json:"tracking_status"`
		OccurredAt     time.Time `json:"occurred_at"`
	} `json:"return"`
}

func (s *Server) handleReturnsWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhooksRejectedTotal.WithLabelValues("returns", "body_read").Inc()
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if !s.verifyReturnsAuth(r, body) {
		metrics.WebhooksRejectedTotal.WithLabelValues("returns", "signature").Inc()
		respondError(w, http.StatusUnauthorized, "Invalid webhook credentials")
		return
	}

	metrics.WebhooksReceivedTotal.WithLabelValues("returns").Inc()

	var event returnsEvent
	if err := json.Unmarshal(body, &event); err != nil {
		metrics.WebhooksRejectedTotal.WithLabelValues("returns", "parse").Inc()
		respondError(w, http.StatusBadRequest, "Invalid event payload")
		return
	}

	if event.IsTest {
		s.logger.Info("skipping returns test event", zap.String("event", event.Event))
		respondOK(w)
		return
	}
	if event.Return.ID == "" && event.Return.OrderNumber == "" {
		respondError(w, http.StatusBadRequest, "Event carries no linking keys")
		return
	}

	proposal, handled := s.returnsProposal(&event)
	if !handled {
		s.logger.Debug("ignoring returns event", zap.String("event", event.Event))
		respondOK(w)
		return
	}

	if _, err := s.engine.Apply(r.Context(), proposal); err != nil {
		s.logger.Error("returns event failed",
			zap.String("event", event.Event),
			zap.String("returns_platform_id", event.Return.ID),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to process event")
		return
	}

	respondOK(w)
}

// verifyReturnsAuth accepts either the shared-secret header or the legacy
// hex HMAC signature. Both comparisons are constant time.
func (s *Server) verifyReturnsAuth(r *http.Request, body []byte) bool {
	if secret := r.Header.Get(headerReturnsSecret); secret != "" && s.config.ReturnsSecret != "" {
		return subtle.ConstantTimeCompare([]byte(secret), []byte(s.config.ReturnsSecret)) == 1
	}

	if signature := r.Header.Get(headerReturnsSignature); signature != "" && s.config.ReturnsHMACKey != "" {
		mac := hmac.New(sha256.New, []byte(s.config.ReturnsHMACKey))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(expected), []byte(signature))
	}

	return false
}

// returnsProposal normalizes one returns-platform event into a transition
// proposal. The second result is false for event types this engine ignores.
func (s *Server) returnsProposal(event *returnsEvent) (restoration.Proposal, bool) {
	ret := &event.Return
	proposal := restoration.Proposal{
		Keys: restoration.LinkKeys{
			ReturnsPlatformID: ret.ID,
			OrderReference:    ret.OrderNumber,
			RMANumber:         ret.RMANumber,
		},
		EventType:  event.Event,
		Source:     restoration.SourceReturns,
		Actor:      "returns-webhook",
		OccurredAt: ret.OccurredAt,
		Payload: map[string]interface{}{
			"returns_platform_id": ret.ID,
			"rma_number":          ret.RMANumber,
			"order_number":        ret.OrderNumber,
		},
	}
	if ret.TrackingNumber != "" || ret.Carrier != "" || ret.TrackingStatus != "" {
		proposal.Tracking = &restoration.TrackingUpdate{
			Number:    ret.TrackingNumber,
			Carrier:   ret.Carrier,
			StatusRaw: ret.TrackingStatus,
		}
	}

	switch event.Event {
	case "label.provided":
		proposal.Proposed = restoration.StatusLabelSent

	case "tracking.updated":
		// Carrier-derived: the source cap keeps this at or below
		// delivered_warehouse even for a "Delivered" scan.
		proposal.Source = restoration.SourceTracking
		proposal.Actor = "tracking-webhook"
		proposal.Proposed = restoration.NormalizeCarrierStatus(ret.TrackingStatus)
		proposal.Payload["tracking_status"] = ret.TrackingStatus

	case "item.received":
		proposal.Proposed = restoration.StatusDeliveredWarehouse

	case "return.approved", "return.resolved":
		// Notices: audit trail only, no transition, no record creation.
		proposal.LookupOnly = true

	default:
		return restoration.Proposal{}, false
	}

	return proposal, true
}
