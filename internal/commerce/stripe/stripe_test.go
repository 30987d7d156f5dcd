package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/partnerledger/internal/commerce"
)

func signedHeaders(secret string, ts int64, body []byte) map[string]string {
	return map[string]string{
		"stripe-signature": "t=" + strconv.FormatInt(ts, 10) + ",v1=" + computeSignature(secret, ts, body),
	}
}

func TestVerifyWebhookInvoicePaid(t *testing.T) {
	now := time.Unix(1760000000, 0)
	p := New(Config{WebhookSecret: "whsec_test_abc"})
	body, _ := json.Marshal(map[string]interface{}{
		"id":      "evt_invoice_1",
		"type":    "invoice.paid",
		"created": now.Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":           "in_1",
				"customer":     "cus_1",
				"subscription": "sub_1",
				"charge":       "ch_1",
				"amount_paid":  10000,
				"currency":     "USD",
				"status":       "paid",
				"metadata":     map[string]interface{}{"referral": "ab12"},
				"status_transitions": map[string]interface{}{
					"paid_at": now.Unix(),
				},
			},
		},
	})

	event, err := p.VerifyWebhook(signedHeaders("whsec_test_abc", now.Unix(), body), body, now)
	if err != nil {
		t.Fatalf("verify webhook failed: %v", err)
	}
	if event.Kind != commerce.KindInvoicePaid || event.Invoice == nil {
		t.Fatalf("unexpected event kind: %s", event.Kind)
	}
	inv := event.Invoice
	if inv.ID != "in_1" || inv.ChargeID != "ch_1" || inv.SubscriptionID != "sub_1" || inv.AmountPaidCents != 10000 {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
	if inv.Currency != "usd" || inv.Metadata["referral"] != "ab12" || !inv.PaidAt.Equal(now) {
		t.Fatalf("unexpected invoice details: %+v", inv)
	}
}

func TestVerifyWebhookRejectsBadSignatureAndStaleTimestamp(t *testing.T) {
	now := time.Unix(1760000000, 0)
	p := New(Config{WebhookSecret: "whsec_test_abc"})
	body := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`)

	if _, err := p.VerifyWebhook(signedHeaders("other_secret", now.Unix(), body), body, now); !errors.Is(err, commerce.ErrSignatureInvalid) {
		t.Fatalf("expected signature invalid, got %v", err)
	}
	stale := now.Add(-10 * time.Minute).Unix()
	if _, err := p.VerifyWebhook(signedHeaders("whsec_test_abc", stale, body), body, now); !errors.Is(err, commerce.ErrSignatureInvalid) {
		t.Fatalf("expected stale timestamp rejected, got %v", err)
	}
	if _, err := p.VerifyWebhook(map[string]string{}, body, now); !errors.Is(err, commerce.ErrSignatureInvalid) {
		t.Fatalf("expected missing header rejected, got %v", err)
	}
}

func TestParseEventRefundAndDispute(t *testing.T) {
	p := New(Config{})
	refundBody := []byte(`{"id":"evt_r","type":"charge.refunded","data":{"object":{"id":"ch_1","invoice":"in_1","amount_refunded":4000,"currency":"usd","created":1760000000}}}`)
	event, err := p.ParseEvent(refundBody)
	if err != nil {
		t.Fatalf("parse refund failed: %v", err)
	}
	if event.Kind != commerce.KindRefund || event.Refund.ChargeID != "ch_1" || event.Refund.InvoiceID != "in_1" || event.Refund.AmountCents != 4000 {
		t.Fatalf("unexpected refund event: %+v %+v", event, event.Refund)
	}

	disputeBody := []byte(`{"id":"evt_d","type":"charge.dispute.created","data":{"object":{"id":"dp_1","charge":"ch_1","amount":10000,"currency":"usd"}}}`)
	event, err = p.ParseEvent(disputeBody)
	if err != nil {
		t.Fatalf("parse dispute failed: %v", err)
	}
	if event.Kind != commerce.KindDispute || event.Dispute.ChargeID != "ch_1" || event.Dispute.AmountCents != 10000 {
		t.Fatalf("unexpected dispute event: %+v", event.Dispute)
	}

	ignoredBody := []byte(`{"id":"evt_x","type":"product.created","data":{"object":{"id":"prod_1"}}}`)
	event, err = p.ParseEvent(ignoredBody)
	if err != nil || event.Kind != commerce.KindIgnored {
		t.Fatalf("expected ignored event, got %+v err=%v", event, err)
	}
}

func TestRefundedChargeMatchesRefundObject(t *testing.T) {
	p := New(Config{})
	chargeCreated := time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC)
	refundCreated := time.Date(2026, 3, 20, 19, 0, 0, 0, time.UTC)
	body, _ := json.Marshal(map[string]interface{}{
		"id":      "evt_refund_1",
		"type":    "charge.refunded",
		"created": refundCreated.Add(time.Minute).Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":              "ch_1",
				"invoice":         "in_1",
				"amount":          10000,
				"amount_refunded": 10000,
				"currency":        "usd",
				"created":         chargeCreated.Unix(),
				"refunds": map[string]interface{}{
					"data": []interface{}{
						map[string]interface{}{"id": "re_2", "amount": 6000, "currency": "usd", "created": refundCreated.Unix()},
						map[string]interface{}{"id": "re_1", "amount": 4000, "currency": "usd", "created": refundCreated.AddDate(0, 0, -5).Unix()},
					},
				},
			},
		},
	})
	event, err := p.ParseEvent(body)
	if err != nil {
		t.Fatalf("parse charge.refunded failed: %v", err)
	}
	fromList := parseRefund(map[string]interface{}{
		"id":       "re_2",
		"charge":   map[string]interface{}{"id": "ch_1", "invoice": "in_1"},
		"amount":   float64(6000),
		"currency": "usd",
		"created":  float64(refundCreated.Unix()),
	})

	got := *event.Refund
	if got.ID != fromList.ID || got.ChargeID != fromList.ChargeID || got.InvoiceID != fromList.InvoiceID {
		t.Fatalf("refund identity mismatch: webhook=%+v list=%+v", got, fromList)
	}
	if got.AmountCents != fromList.AmountCents || got.Currency != fromList.Currency {
		t.Fatalf("refund amount mismatch: webhook=%+v list=%+v", got, fromList)
	}
	if !got.Created.Equal(fromList.Created) || !got.Created.Equal(refundCreated) {
		t.Fatalf("refund time mismatch: webhook=%s list=%s", got.Created, fromList.Created)
	}
}

func TestRefundedChargeWithoutRefundListFallsBackToEventTime(t *testing.T) {
	p := New(Config{})
	body := []byte(`{"id":"evt_r2","type":"charge.refunded","created":1774000000,"data":{"object":{"id":"ch_9","amount_refunded":2500,"currency":"usd","created":1760000000}}}`)
	event, err := p.ParseEvent(body)
	if err != nil {
		t.Fatalf("parse refund failed: %v", err)
	}
	if event.Refund.AmountCents != 2500 || !event.Refund.Created.Equal(time.Unix(1774000000, 0)) {
		t.Fatalf("expected cumulative amount and event time, got %+v", event.Refund)
	}
}

func TestListInvoicesPaginatesWithCursor(t *testing.T) {
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk_test_1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		requests = append(requests, r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("starting_after") == "" {
			_, _ = w.Write([]byte(`{"data":[{"id":"in_1","customer":{"id":"cus_1","metadata":{"via":"ab12"}},"amount_paid":500,"status":"paid","created":1760000000}],"has_more":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"in_2","customer":"cus_2","amount_paid":700,"status":"paid","created":1760000100}],"has_more":false}`))
	}))
	defer server.Close()

	p := New(Config{SecretKey: "sk_test_1", APIBaseURL: server.URL, PageSize: 1})
	params := commerce.ListParams{
		CreatedGTE: time.Unix(1759900000, 0),
		CreatedLT:  time.Unix(1760100000, 0),
	}
	var ids []string
	err := commerce.EachInvoice(context.Background(), p, params, time.Second, func(inv commerce.Invoice) error {
		ids = append(ids, inv.ID)
		if inv.ID == "in_1" && inv.CustomerMetadata["via"] != "ab12" {
			t.Fatalf("expected expanded customer metadata, got %+v", inv.CustomerMetadata)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("list invoices failed: %v", err)
	}
	if len(ids) != 2 || ids[1] != "in_2" {
		t.Fatalf("unexpected invoice ids: %v", ids)
	}
	if len(requests) != 2 {
		t.Fatalf("expected two page requests, got %d", len(requests))
	}

	bad := New(Config{SecretKey: "sk_wrong", APIBaseURL: server.URL})
	if _, err := bad.ListInvoices(context.Background(), params); !errors.Is(err, commerce.ErrRequestFailed) {
		t.Fatalf("expected request failed, got %v", err)
	}
}

func TestParseSubscriptionPlanAmount(t *testing.T) {
	raw := map[string]interface{}{
		"id":       "sub_1",
		"customer": "cus_1",
		"status":   "trialing",
		"items": map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{
					"quantity": float64(2),
					"price":    map[string]interface{}{"unit_amount": float64(4900), "currency": "usd"},
				},
			},
		},
		"trial_end": float64(1760000000),
	}
	sub := parseSubscription(raw)
	if sub.PlanAmountCents != 9800 || sub.Currency != "usd" || sub.TrialEnd == nil {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
}
