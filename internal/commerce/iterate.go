package commerce

import (
	"context"
	"fmt"
	"time"
)

// ListFunc 单页拉取函数
type ListFunc[T any] func(ctx context.Context, params ListParams) (Page[T], error)

// Each 逐页拉取并逐条回调；单页超时由 pageTimeout 控制，回调返回错误时中止
func Each[T any](ctx context.Context, params ListParams, pageTimeout time.Duration, list ListFunc[T], fn func(item T) error) error {
	if list == nil || fn == nil {
		return nil
	}
	cursor := params.StartingAfter
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pageParams := params
		pageParams.StartingAfter = cursor
		page, err := fetchPage(ctx, pageParams, pageTimeout, list)
		if err != nil {
			return err
		}
		for _, item := range page.Items {
			if err := fn(item); err != nil {
				return err
			}
		}
		if !page.HasMore {
			return nil
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			return fmt.Errorf("%w: pagination cursor did not advance", ErrPayloadInvalid)
		}
		cursor = page.NextCursor
	}
}

func fetchPage[T any](ctx context.Context, params ListParams, pageTimeout time.Duration, list ListFunc[T]) (Page[T], error) {
	if pageTimeout <= 0 {
		return list(ctx, params)
	}
	pageCtx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()
	return list(pageCtx, params)
}

// EachCustomer 遍历时间窗内的客户
func EachCustomer(ctx context.Context, p Provider, params ListParams, pageTimeout time.Duration, fn func(Customer) error) error {
	return Each(ctx, params, pageTimeout, p.ListCustomers, fn)
}

// EachSubscription 遍历时间窗内的订阅
func EachSubscription(ctx context.Context, p Provider, params ListParams, pageTimeout time.Duration, fn func(Subscription) error) error {
	return Each(ctx, params, pageTimeout, p.ListSubscriptions, fn)
}

// EachInvoice 遍历时间窗内的账单
func EachInvoice(ctx context.Context, p Provider, params ListParams, pageTimeout time.Duration, fn func(Invoice) error) error {
	return Each(ctx, params, pageTimeout, p.ListInvoices, fn)
}

// EachRefund 遍历时间窗内的退款
func EachRefund(ctx context.Context, p Provider, params ListParams, pageTimeout time.Duration, fn func(Refund) error) error {
	return Each(ctx, params, pageTimeout, p.ListRefunds, fn)
}

// EachDispute 遍历时间窗内的争议
func EachDispute(ctx context.Context, p Provider, params ListParams, pageTimeout time.Duration, fn func(Dispute) error) error {
	return Each(ctx, params, pageTimeout, p.ListDisputes, fn)
}
