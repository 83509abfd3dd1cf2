package clients

import (
	"context"
	"errors"
	"testing"

	"swproxy/internal/domain"
)

func TestClaim(t *testing.T) {
	ctx := context.Background()
	r := New()

	a, _ := r.Register(ctx, "https://shop.example/")
	b, _ := r.Register(ctx, "https://shop.example/orders")

	n, err := r.Claim(ctx, "worker-2")
	if err != nil || n != 2 {
		t.Fatalf("Claim() = %d, %v, want 2, nil", n, err)
	}
	for _, id := range []string{a.ID, b.ID} {
		c, err := r.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", id, err)
		}
		if c.ControllerID != "worker-2" {
			t.Errorf("ControllerID = %q, want worker-2", c.ControllerID)
		}
	}
}

func TestOpenWindowFocuses(t *testing.T) {
	ctx := context.Background()
	r := New()

	first, _ := r.OpenWindow(ctx, "https://shop.example/")
	second, _ := r.OpenWindow(ctx, "https://shop.example/")
	if !second.Focused {
		t.Errorf("new window not focused")
	}

	got, _ := r.Get(ctx, first.ID)
	if got.Focused {
		t.Errorf("previous window still focused")
	}

	list, _ := r.List(ctx)
	if len(list) != 2 {
		t.Errorf("List() len = %d, want 2", len(list))
	}
}

func TestGetUnknown(t *testing.T) {
	_, err := New().Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrClientNotFound) {
		t.Errorf("Get() error = %v, want ErrClientNotFound", err)
	}
}
