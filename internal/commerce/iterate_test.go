package commerce

import (
	"context"
	"errors"
	"testing"
)

func TestEachFollowsCursorUntilLastPage(t *testing.T) {
	pages := map[string]Page[string]{
		"":  {Items: []string{"a", "b"}, HasMore: true, NextCursor: "b"},
		"b": {Items: []string{"c"}, HasMore: true, NextCursor: "c"},
		"c": {Items: []string{"d"}, HasMore: false},
	}
	var cursors []string
	list := func(_ context.Context, params ListParams) (Page[string], error) {
		cursors = append(cursors, params.StartingAfter)
		return pages[params.StartingAfter], nil
	}

	var seen []string
	err := Each(context.Background(), ListParams{PageSize: 2}, 0, list, func(item string) error {
		seen = append(seen, item)
		return nil
	})
	if err != nil {
		t.Fatalf("each failed: %v", err)
	}
	if len(seen) != 4 || seen[3] != "d" {
		t.Fatalf("unexpected items: %v", seen)
	}
	if len(cursors) != 3 || cursors[1] != "b" || cursors[2] != "c" {
		t.Fatalf("unexpected cursors: %v", cursors)
	}
}

func TestEachStopsOnStuckCursor(t *testing.T) {
	list := func(_ context.Context, _ ListParams) (Page[int], error) {
		return Page[int]{Items: []int{1}, HasMore: true, NextCursor: ""}, nil
	}
	err := Each(context.Background(), ListParams{}, 0, list, func(int) error { return nil })
	if !errors.Is(err, ErrPayloadInvalid) {
		t.Fatalf("expected payload invalid error, got %v", err)
	}
}

func TestEachStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	list := func(_ context.Context, _ ListParams) (Page[int], error) {
		calls++
		return Page[int]{Items: []int{1, 2}, HasMore: true, NextCursor: "x"}, nil
	}
	err := Each(context.Background(), ListParams{}, 0, list, func(int) error { return stop })
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("expected stop after first item, err=%v calls=%d", err, calls)
	}
}

func TestEachHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	list := func(_ context.Context, _ ListParams) (Page[int], error) {
		t.Fatalf("list should not be called")
		return Page[int]{}, nil
	}
	if err := Each(ctx, ListParams{}, 0, list, func(int) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}
