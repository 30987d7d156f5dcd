// Package stripe 提供 Stripe 兼容协议的默认 commerce.Provider 实现。
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/partnerledger/internal/commerce"
)

const (
	providerName             = "stripe"
	defaultAPIBaseURL        = "https://api.stripe.com"
	defaultTimeout           = 12 * time.Second
	defaultWebhookToleranceS = 300
	defaultPageSize          = 100
	maxPageSize              = 100
)

// Config Stripe 接入配置。
type Config struct {
	SecretKey               string
	WebhookSecret           string
	APIBaseURL              string
	WebhookToleranceSeconds int
	RequestTimeout          time.Duration
	PageSize                int
}

func (c *Config) normalize() {
	c.SecretKey = strings.TrimSpace(c.SecretKey)
	c.WebhookSecret = strings.TrimSpace(c.WebhookSecret)
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL == "" {
		c.APIBaseURL = defaultAPIBaseURL
	}
	if c.WebhookToleranceSeconds <= 0 {
		c.WebhookToleranceSeconds = defaultWebhookToleranceS
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultTimeout
	}
	if c.PageSize <= 0 || c.PageSize > maxPageSize {
		c.PageSize = defaultPageSize
	}
}

var _ commerce.Provider = (*Provider)(nil)

// Provider Stripe 适配器
type Provider struct {
	cfg    Config
	client *http.Client
}

// New 创建 Stripe 适配器
func New(cfg Config) *Provider {
	cfg.normalize()
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Name 适配器名称
func (p *Provider) Name() string {
	return providerName
}

// VerifyWebhook 校验签名并解析 webhook 事件。
func (p *Provider) VerifyWebhook(headers map[string]string, body []byte, now time.Time) (*commerce.Event, error) {
	if p.cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook_secret is required", commerce.ErrConfigInvalid)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: body is empty", commerce.ErrSignatureInvalid)
	}
	if now.IsZero() {
		now = time.Now()
	}

	signatureHeader := getHeaderValue(headers, "Stripe-Signature")
	if signatureHeader == "" {
		return nil, fmt.Errorf("%w: Stripe-Signature is required", commerce.ErrSignatureInvalid)
	}
	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, err
	}
	if delta := math.Abs(float64(now.Unix() - timestamp)); delta > float64(p.cfg.WebhookToleranceSeconds) {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", commerce.ErrSignatureInvalid)
	}

	expected := computeSignature(p.cfg.WebhookSecret, timestamp, body)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return p.ParseEvent(body)
		}
	}
	return nil, fmt.Errorf("%w: verify failed", commerce.ErrSignatureInvalid)
}

// ParseEvent 解析事件体（不校验签名，用于重放已入库事件）
func (p *Provider) ParseEvent(body []byte) (*commerce.Event, error) {
	eventRaw, err := decodeRawMap(body)
	if err != nil {
		return nil, err
	}
	eventType := readString(eventRaw, "type")
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing event type", commerce.ErrPayloadInvalid)
	}
	objectRaw := readMap(readMap(eventRaw, "data"), "object")
	if objectRaw == nil {
		return nil, fmt.Errorf("%w: missing event object", commerce.ErrPayloadInvalid)
	}

	event := &commerce.Event{
		ID:      readString(eventRaw, "id"),
		Type:    eventType,
		Kind:    commerce.KindIgnored,
		Created: readTime(eventRaw, "created"),
	}
	if event.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", commerce.ErrPayloadInvalid)
	}

	switch eventType {
	case "customer.created", "customer.updated":
		customer := parseCustomer(objectRaw)
		event.Kind, event.Customer = commerce.KindCustomer, &customer
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		sub := parseSubscription(objectRaw)
		event.Kind, event.Subscription = commerce.KindSubscription, &sub
	case "invoice.paid", "invoice.payment_succeeded":
		inv := parseInvoice(objectRaw)
		if inv.Paid {
			event.Kind, event.Invoice = commerce.KindInvoicePaid, &inv
		}
	case "charge.refunded":
		refund := parseRefundedCharge(objectRaw, event.Created)
		event.Kind, event.Refund = commerce.KindRefund, &refund
	case "charge.dispute.created":
		dispute := parseDispute(objectRaw)
		event.Kind, event.Dispute = commerce.KindDispute, &dispute
	}
	return event, nil
}

// ListCustomers 拉取客户
func (p *Provider) ListCustomers(ctx context.Context, params commerce.ListParams) (commerce.Page[commerce.Customer], error) {
	return listObjects(ctx, p, "/v1/customers", params, nil, parseCustomer)
}

// ListSubscriptions 拉取订阅（包含全部状态）
func (p *Provider) ListSubscriptions(ctx context.Context, params commerce.ListParams) (commerce.Page[commerce.Subscription], error) {
	extra := url.Values{}
	extra.Set("status", "all")
	extra.Add("expand[]", "data.customer")
	return listObjects(ctx, p, "/v1/subscriptions", params, extra, parseSubscription)
}

// ListInvoices 拉取已支付账单
func (p *Provider) ListInvoices(ctx context.Context, params commerce.ListParams) (commerce.Page[commerce.Invoice], error) {
	extra := url.Values{}
	extra.Set("status", "paid")
	extra.Add("expand[]", "data.customer")
	extra.Add("expand[]", "data.subscription")
	return listObjects(ctx, p, "/v1/invoices", params, extra, parseInvoice)
}

// ListRefunds 拉取退款
func (p *Provider) ListRefunds(ctx context.Context, params commerce.ListParams) (commerce.Page[commerce.Refund], error) {
	extra := url.Values{}
	extra.Add("expand[]", "data.charge")
	return listObjects(ctx, p, "/v1/refunds", params, extra, parseRefund)
}

// ListDisputes 拉取争议
func (p *Provider) ListDisputes(ctx context.Context, params commerce.ListParams) (commerce.Page[commerce.Dispute], error) {
	return listObjects(ctx, p, "/v1/disputes", params, nil, parseDispute)
}

func listObjects[T any](ctx context.Context, p *Provider, path string, params commerce.ListParams, extra url.Values, parse func(map[string]interface{}) T) (commerce.Page[T], error) {
	var page commerce.Page[T]
	if p.cfg.SecretKey == "" {
		return page, fmt.Errorf("%w: secret_key is required", commerce.ErrConfigInvalid)
	}
	query := url.Values{}
	for key, values := range extra {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	limit := params.PageSize
	if limit <= 0 || limit > maxPageSize {
		limit = p.cfg.PageSize
	}
	query.Set("limit", strconv.Itoa(limit))
	if !params.CreatedGTE.IsZero() {
		query.Set("created[gte]", strconv.FormatInt(params.CreatedGTE.Unix(), 10))
	}
	if !params.CreatedLT.IsZero() {
		query.Set("created[lt]", strconv.FormatInt(params.CreatedLT.Unix(), 10))
	}
	if cursor := strings.TrimSpace(params.StartingAfter); cursor != "" {
		query.Set("starting_after", cursor)
	}

	body, status, err := p.doJSONRequest(ctx, http.MethodGet, path+"?"+query.Encode())
	if err != nil {
		return page, err
	}
	if status < 200 || status >= 300 {
		return page, fmt.Errorf("%w: %s status %d: %s", commerce.ErrRequestFailed, path, status, readErrorMessage(body))
	}
	raw, err := decodeRawMap(body)
	if err != nil {
		return page, err
	}
	items, _ := raw["data"].([]interface{})
	page.Items = make([]T, 0, len(items))
	lastID := ""
	for _, item := range items {
		objectRaw, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		page.Items = append(page.Items, parse(objectRaw))
		lastID = readString(objectRaw, "id")
	}
	page.HasMore, _ = raw["has_more"].(bool)
	page.NextCursor = lastID
	return page, nil
}

func parseCustomer(raw map[string]interface{}) commerce.Customer {
	return commerce.Customer{
		ID:       readString(raw, "id"),
		Email:    readString(raw, "email"),
		Metadata: readStringMap(raw, "metadata"),
		Created:  readTime(raw, "created"),
	}
}

func parseSubscription(raw map[string]interface{}) commerce.Subscription {
	customerID, customerMeta := readExpandable(raw, "customer")
	sub := commerce.Subscription{
		ID:               readString(raw, "id"),
		CustomerID:       customerID,
		Status:           readString(raw, "status"),
		Currency:         strings.ToLower(readString(raw, "currency")),
		TrialStart:       readTimePtr(raw, "trial_start"),
		TrialEnd:         readTimePtr(raw, "trial_end"),
		CurrentPeriodEnd: readTimePtr(raw, "current_period_end"),
		CanceledAt:       readTimePtr(raw, "canceled_at"),
		Metadata:         readStringMap(raw, "metadata"),
		CustomerMetadata: customerMeta,
		Created:          readTime(raw, "created"),
	}
	// 套餐金额取首个订阅项的单价 × 数量
	if items, ok := readMap(raw, "items")["data"].([]interface{}); ok && len(items) > 0 {
		if item, ok := items[0].(map[string]interface{}); ok {
			price := readMap(item, "price")
			if price == nil {
				price = readMap(item, "plan")
			}
			quantity := readInt64(item, "quantity")
			if quantity <= 0 {
				quantity = 1
			}
			amount := readInt64(price, "unit_amount")
			if amount == 0 {
				amount = readInt64(price, "amount")
			}
			sub.PlanAmountCents = amount * quantity
			if sub.Currency == "" {
				sub.Currency = strings.ToLower(readString(price, "currency"))
			}
			if sub.CurrentPeriodEnd == nil {
				sub.CurrentPeriodEnd = readTimePtr(item, "current_period_end")
			}
		}
	}
	return sub
}

func parseInvoice(raw map[string]interface{}) commerce.Invoice {
	customerID, customerMeta := readExpandable(raw, "customer")
	subscriptionID, subscriptionMeta := readExpandable(raw, "subscription")
	if subscriptionID == "" {
		// 新版 API 将订阅信息放在 parent.subscription_details
		details := readMap(readMap(raw, "parent"), "subscription_details")
		subscriptionID = readString(details, "subscription")
		if len(subscriptionMeta) == 0 {
			subscriptionMeta = readStringMap(details, "metadata")
		}
	}
	if len(subscriptionMeta) == 0 {
		subscriptionMeta = readStringMap(readMap(raw, "subscription_details"), "metadata")
	}
	chargeID, _ := readExpandable(raw, "charge")

	paid := readBool(raw, "paid") || readString(raw, "status") == "paid"
	paidAt := readTime(readMap(raw, "status_transitions"), "paid_at")
	if paidAt.IsZero() {
		paidAt = readTime(raw, "created")
	}
	return commerce.Invoice{
		ID:                   readString(raw, "id"),
		CustomerID:           customerID,
		SubscriptionID:       subscriptionID,
		ChargeID:             chargeID,
		AmountPaidCents:      readInt64(raw, "amount_paid"),
		Currency:             strings.ToLower(readString(raw, "currency")),
		Paid:                 paid,
		PaidAt:               paidAt,
		Description:          readString(raw, "description"),
		Metadata:             readStringMap(raw, "metadata"),
		SubscriptionMetadata: subscriptionMeta,
		CustomerMetadata:     customerMeta,
	}
}

// parseRefund 解析退款对象（charge 已展开时可带出账单ID）
func parseRefund(raw map[string]interface{}) commerce.Refund {
	chargeID := readString(raw, "charge")
	invoiceID := ""
	if charge := readMap(raw, "charge"); charge != nil {
		chargeID = readString(charge, "id")
		invoiceID, _ = readExpandable(charge, "invoice")
	}
	return commerce.Refund{
		ID:          readString(raw, "id"),
		ChargeID:    chargeID,
		InvoiceID:   invoiceID,
		AmountCents: readInt64(raw, "amount"),
		Currency:    strings.ToLower(readString(raw, "currency")),
		Created:     readTime(raw, "created"),
	}
}

// parseRefundedCharge 解析 charge.refunded 事件中的扣款对象，取最近一笔退款，与退款列表接口保持一致
func parseRefundedCharge(raw map[string]interface{}, eventCreated time.Time) commerce.Refund {
	invoiceID, _ := readExpandable(raw, "invoice")
	refund := commerce.Refund{
		ChargeID:  readString(raw, "id"),
		InvoiceID: invoiceID,
		Currency:  strings.ToLower(readString(raw, "currency")),
	}
	if latest := latestRefund(readMap(raw, "refunds")); latest != nil {
		refund.ID = readString(latest, "id")
		refund.AmountCents = readInt64(latest, "amount")
		refund.Created = readTime(latest, "created")
		if currency := readString(latest, "currency"); currency != "" {
			refund.Currency = strings.ToLower(currency)
		}
	} else {
		// 事件未携带退款明细
		refund.AmountCents = readInt64(raw, "amount_refunded")
	}
	if refund.Created.IsZero() {
		refund.Created = eventCreated
	}
	return refund
}

func latestRefund(list map[string]interface{}) map[string]interface{} {
	if list == nil {
		return nil
	}
	items, ok := list["data"].([]interface{})
	if !ok {
		return nil
	}
	var latest map[string]interface{}
	for _, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if latest == nil || readInt64(entry, "created") > readInt64(latest, "created") {
			latest = entry
		}
	}
	return latest
}

func parseDispute(raw map[string]interface{}) commerce.Dispute {
	chargeID := readString(raw, "charge")
	invoiceID := ""
	if charge := readMap(raw, "charge"); charge != nil {
		chargeID = readString(charge, "id")
		invoiceID, _ = readExpandable(charge, "invoice")
	}
	return commerce.Dispute{
		ID:          readString(raw, "id"),
		ChargeID:    chargeID,
		InvoiceID:   invoiceID,
		AmountCents: readInt64(raw, "amount"),
		Currency:    strings.ToLower(readString(raw, "currency")),
		Created:     readTime(raw, "created"),
	}
}

func (p *Provider) doJSONRequest(ctx context.Context, method, path string) ([]byte, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.APIBaseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", commerce.ErrRequestFailed)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", commerce.ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response failed", commerce.ErrPayloadInvalid)
	}
	return body, resp.StatusCode, nil
}

func readErrorMessage(body []byte) string {
	raw, err := decodeRawMap(body)
	if err != nil {
		return strings.TrimSpace(string(body))
	}
	if msg := readString(readMap(raw, "error"), "message"); msg != "" {
		return msg
	}
	return "unknown error"
}

func decodeRawMap(body []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode body failed", commerce.ErrPayloadInvalid)
	}
	return raw, nil
}

func computeSignature(secret string, timestamp int64, body []byte) string {
	payload := strconv.FormatInt(timestamp, 10) + "." + string(body)
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func parseSignatureHeader(signatureHeader string) (int64, []string, error) {
	timestamp := int64(0)
	signatures := make([]string, 0)
	for _, part := range strings.Split(signatureHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		value := strings.TrimSpace(kv[1])
		switch strings.TrimSpace(kv[0]) {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil || parsed <= 0 {
				return 0, nil, fmt.Errorf("%w: invalid timestamp", commerce.ErrSignatureInvalid)
			}
			timestamp = parsed
		case "v1":
			if value != "" {
				signatures = append(signatures, strings.ToLower(value))
			}
		}
	}
	if timestamp <= 0 {
		return 0, nil, fmt.Errorf("%w: timestamp is missing", commerce.ErrSignatureInvalid)
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: v1 signature is missing", commerce.ErrSignatureInvalid)
	}
	return timestamp, signatures, nil
}

func getHeaderValue(headers map[string]string, key string) string {
	for h, value := range headers {
		if strings.EqualFold(strings.TrimSpace(h), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// readExpandable 读取可展开字段：字符串ID或展开对象（附带 metadata）
func readExpandable(raw map[string]interface{}, key string) (string, map[string]string) {
	if raw == nil {
		return "", nil
	}
	switch typed := raw[key].(type) {
	case string:
		return strings.TrimSpace(typed), nil
	case map[string]interface{}:
		return readString(typed, "id"), readStringMap(typed, "metadata")
	}
	return "", nil
}

func readString(raw map[string]interface{}, key string) string {
	if raw == nil {
		return ""
	}
	switch typed := raw[key].(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatInt(int64(typed), 10)
	}
	return ""
}

func readMap(raw map[string]interface{}, key string) map[string]interface{} {
	if raw == nil {
		return nil
	}
	mapped, _ := raw[key].(map[string]interface{})
	return mapped
}

func readStringMap(raw map[string]interface{}, key string) map[string]string {
	source := readMap(raw, key)
	if len(source) == 0 {
		return nil
	}
	out := make(map[string]string, len(source))
	for k := range source {
		if value := readString(source, k); value != "" {
			out[k] = value
		}
	}
	return out
}

func readBool(raw map[string]interface{}, key string) bool {
	if raw == nil {
		return false
	}
	value, _ := raw[key].(bool)
	return value
}

func readInt64(raw map[string]interface{}, key string) int64 {
	if raw == nil {
		return 0
	}
	switch typed := raw[key].(type) {
	case float64:
		return int64(typed)
	case json.Number:
		parsed, _ := typed.Int64()
		return parsed
	case string:
		parsed, _ := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		return parsed
	}
	return 0
}

func readTime(raw map[string]interface{}, key string) time.Time {
	if unix := readInt64(raw, key); unix > 0 {
		return time.Unix(unix, 0).UTC()
	}
	return time.Time{}
}

func readTimePtr(raw map[string]interface{}, key string) *time.Time {
	at := readTime(raw, key)
	if at.IsZero() {
		return nil
	}
	return &at
}
