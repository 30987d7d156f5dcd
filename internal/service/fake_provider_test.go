package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/partnerledger/internal/commerce"
)

const fakeProviderPageSize = 2

type fakeCommerceProvider struct {
	customers     []commerce.Customer
	subscriptions []commerce.Subscription
	invoices      []commerce.Invoice
	refunds       []commerce.Refund
	disputes      []commerce.Dispute
	invoiceErr    error
	listCalls     map[string]int
}

func newFakeCommerceProvider() *fakeCommerceProvider {
	return &fakeCommerceProvider{listCalls: map[string]int{}}
}

func (p *fakeCommerceProvider) Name() string {
	return "fake"
}

func (p *fakeCommerceProvider) VerifyWebhook(headers map[string]string, body []byte, now time.Time) (*commerce.Event, error) {
	if headers["X-Fake-Signature"] != "valid" {
		return nil, commerce.ErrSignatureInvalid
	}
	return p.ParseEvent(body)
}

func (p *fakeCommerceProvider) ParseEvent(body []byte) (*commerce.Event, error) {
	var event commerce.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, errors.Join(commerce.ErrPayloadInvalid, err)
	}
	if event.ID == "" {
		return nil, commerce.ErrPayloadInvalid
	}
	return &event, nil
}

func (p *fakeCommerceProvider) ListCustomers(ctx context.Context, params commerce.ListParams) (commerce.Page[commerce.Customer], error) {
	p.listCalls["customers"]++
	return fakePage(p.customers, params), nil
}

func (p *fakeCommerceProvider) ListSubscriptions(ctx context.Context, params commerce.ListParams) (commerce.Page[commerce.Subscription], error) {
	p.listCalls["subscriptions"]++
	return fakePage(p.subscriptions, params), nil
}

func (p *fakeCommerceProvider) ListInvoices(ctx context.Context, params commerce.ListParams) (commerce.Page[commerce.Invoice], error) {
	p.listCalls["invoices"]++
	if p.invoiceErr != nil {
		return commerce.Page[commerce.Invoice]{}, p.invoiceErr
	}
	return fakePage(p.invoices, params), nil
}

func (p *fakeCommerceProvider) ListRefunds(ctx context.Context, params commerce.ListParams) (commerce.Page[commerce.Refund], error) {
	p.listCalls["refunds"]++
	return fakePage(p.refunds, params), nil
}

func (p *fakeCommerceProvider) ListDisputes(ctx context.Context, params commerce.ListParams) (commerce.Page[commerce.Dispute], error) {
	p.listCalls["disputes"]++
	return fakePage(p.disputes, params), nil
}

// fakePage 以下标作为游标分页
func fakePage[T any](items []T, params commerce.ListParams) commerce.Page[T] {
	offset := 0
	if params.StartingAfter != "" {
		offset, _ = strconv.Atoi(params.StartingAfter)
	}
	end := offset + fakeProviderPageSize
	if end > len(items) {
		end = len(items)
	}
	if offset > end {
		offset = end
	}
	page := commerce.Page[T]{Items: items[offset:end]}
	if end < len(items) {
		page.HasMore = true
		page.NextCursor = strconv.Itoa(end)
	}
	return page
}

func fakeEventBody(event commerce.Event) []byte {
	body, _ := json.Marshal(event)
	return body
}
