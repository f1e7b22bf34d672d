package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/metrics"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/restoration"
)

const (
	headerStorefrontSignature = "X-Shopify-Hmac-Sha256"
	headerStorefrontTopic     = "X-Shopify-Topic"
)

type storefrontOrder struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	SourceName string `json:"source_name"`
	Tags       string `json:"tags"`
	LineItems  []struct {
		SKU   string `json:"sku"`
		Title string `json:"title"`
	} `json:"line_items"`
}

type storefrontFulfillment struct {
	OrderID         int64  `json:"order_id"`
	TrackingNumber  string `json:"tracking_number"`
	TrackingCompany string `json:"tracking_company"`
	ShipmentStatus  string `json:"shipment_status"`
}

func (s *Server) handleStorefrontWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhooksRejectedTotal.WithLabelValues("storefront", "body_read").Inc()
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if !verifyStorefrontSignature(body, r.Header.Get(headerStorefrontSignature), s.config.StorefrontSecret) {
		metrics.WebhooksRejectedTotal.WithLabelValues("storefront", "signature").Inc()
		respondError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	topic := r.Header.Get(headerStorefrontTopic)
	metrics.WebhooksReceivedTotal.WithLabelValues("storefront").Inc()

	switch topic {
	case "orders/create", "orders/updated":
		s.handleStorefrontOrder(w, r, topic, body)
	case "orders/cancelled":
		s.handleStorefrontCancellation(w, r, body)
	case "fulfillments/create":
		s.handleStorefrontFulfillment(w, r, body)
	default:
		// Unknown topics are acknowledged so the provider stops redelivering.
		s.logger.Debug("ignoring storefront topic", zap.String("topic", topic))
		respondOK(w)
	}
}

// verifyStorefrontSignature recomputes the HMAC over the raw body and compares
// it to the header in constant time. The header carries base64.
func verifyStorefrontSignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// isRestorationOrder reports whether the order belongs to the restoration
// program: tagged "restoration" or carrying a restoration-service line item.
func isRestorationOrder(order *storefrontOrder) bool {
	for _, tag := range strings.Split(order.Tags, ",") {
		if strings.EqualFold(strings.TrimSpace(tag), "restoration") {
			return true
		}
	}
	for _, item := range order.LineItems {
		if strings.HasPrefix(strings.ToUpper(item.SKU), "RST-") {
			return true
		}
		if strings.Contains(strings.ToLower(item.Title), "restoration") {
			return true
		}
	}
	return false
}

func (s *Server) handleStorefrontOrder(w http.ResponseWriter, r *http.Request, topic string, body []byte) {
	var order storefrontOrder
	if err := json.Unmarshal(body, &order); err != nil {
		metrics.WebhooksRejectedTotal.WithLabelValues("storefront", "parse").Inc()
		respondError(w, http.StatusBadRequest, "Invalid order payload")
		return
	}
	if order.ID == 0 {
		respondError(w, http.StatusBadRequest, "Missing order id")
		return
	}

	if !isRestorationOrder(&order) {
		respondOK(w)
		return
	}

	_, err := s.engine.Apply(r.Context(), restoration.Proposal{
		Keys: restoration.LinkKeys{
			SourceOrderID: order.ID,
			IsPointOfSale: order.SourceName == "pos",
		},
		EventType: topic,
		Source:    restoration.SourceStorefront,
		Actor:     "storefront-webhook",
		Proposed:  restoration.StatusPendingLabel,
		Payload: map[string]interface{}{
			"order_id":    order.ID,
			"order_name":  order.Name,
			"source_name": order.SourceName,
		},
	})
	if err != nil {
		s.logger.Error("storefront order event failed",
			zap.String("topic", topic), zap.Int64("order_id", order.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to process order event")
		return
	}

	respondOK(w)
}

// handleStorefrontCancellation records the cancellation against an existing
// record. Cancellations never create a record and never move the status.
func (s *Server) handleStorefrontCancellation(w http.ResponseWriter, r *http.Request, body []byte) {
	var order storefrontOrder
	if err := json.Unmarshal(body, &order); err != nil || order.ID == 0 {
		metrics.WebhooksRejectedTotal.WithLabelValues("storefront", "parse").Inc()
		respondError(w, http.StatusBadRequest, "Invalid order payload")
		return
	}

	_, err := s.engine.Apply(r.Context(), restoration.Proposal{
		Keys:       restoration.LinkKeys{SourceOrderID: order.ID},
		EventType:  "orders/cancelled",
		Source:     restoration.SourceStorefront,
		Actor:      "storefront-webhook",
		LookupOnly: true,
		Payload: map[string]interface{}{
			"order_id":   order.ID,
			"order_name": order.Name,
		},
	})
	if err != nil {
		s.logger.Error("storefront cancellation failed",
			zap.Int64("order_id", order.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to process cancellation")
		return
	}

	respondOK(w)
}

// handleStorefrontFulfillment force-advances the record to shipped: the item
// physically left the building, whatever intermediate events were lost.
func (s *Server) handleStorefrontFulfillment(w http.ResponseWriter, r *http.Request, body []byte) {
	var fulfillment storefrontFulfillment
	if err := json.Unmarshal(body, &fulfillment); err != nil || fulfillment.OrderID == 0 {
		metrics.WebhooksRejectedTotal.WithLabelValues("storefront", "parse").Inc()
		respondError(w, http.StatusBadRequest, "Invalid fulfillment payload")
		return
	}

	// Fulfillments fire for every storefront order, restoration or not; only
	// orders that already have a record are relevant here.
	proposal := restoration.Proposal{
		Keys:       restoration.LinkKeys{SourceOrderID: fulfillment.OrderID},
		EventType:  "fulfillments/create",
		Source:     restoration.SourceStorefront,
		Actor:      "storefront-webhook",
		Force:      true,
		LookupOnly: true,
		Payload: map[string]interface{}{
			"order_id":        fulfillment.OrderID,
			"tracking_number": fulfillment.TrackingNumber,
		},
	}
	if fulfillment.TrackingNumber != "" || fulfillment.TrackingCompany != "" {
		proposal.Tracking = &restoration.TrackingUpdate{
			Number:  fulfillment.TrackingNumber,
			Carrier: fulfillment.TrackingCompany,
		}
	}

	result, err := s.engine.Apply(r.Context(), proposal)
	if err != nil {
		s.logger.Error("storefront fulfillment failed",
			zap.Int64("order_id", fulfillment.OrderID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to process fulfillment")
		return
	}
	if result.StagesSkipped {
		s.logger.Warn("fulfillment skipped intermediate stages",
			zap.Int64("order_id", fulfillment.OrderID),
			zap.String("record_id", result.Record.ID.String()))
	}

	respondOK(w)
}
