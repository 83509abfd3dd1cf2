package usecase

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"swproxy/internal/domain"
)

func TestPushShowsNotification(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		wantBody string
	}{
		{"with payload", []byte("Order #1024 shipped"), "Order #1024 shipped"},
		{"empty payload", nil, "New update available"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			ctx := context.Background()
			w := env.worker(t, networkFirstConfig(t))

			if _, err := w.Dispatch(ctx, &domain.PushEvent{Data: tc.payload}); err != nil {
				t.Fatalf("Dispatch(push) error = %v", err)
			}

			list, err := env.notifier.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 1 {
				t.Fatalf("notifications = %d, want 1", len(list))
			}

			n := list[0]
			if n.Title != "Shop Admin" {
				t.Errorf("Title = %q", n.Title)
			}
			want := domain.NotificationOptions{
				Body:    tc.wantBody,
				Icon:    "./icon-192.png",
				Badge:   "./icon-72.png",
				Vibrate: []int{200, 100, 200},
			}
			if diff := cmp.Diff(want, n.Options, cmpopts.IgnoreFields(domain.NotificationOptions{}, "Data")); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
			if n.Options.Data["primaryKey"] != 1 {
				t.Errorf("primaryKey = %v, want 1", n.Options.Data["primaryKey"])
			}
			if _, ok := n.Options.Data["dateOfArrival"].(int64); !ok {
				t.Errorf("dateOfArrival = %T, want int64", n.Options.Data["dateOfArrival"])
			}
		})
	}
}

func TestNotificationClickOpensRoot(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	w := env.worker(t, networkFirstConfig(t))

	if _, err := w.Dispatch(ctx, &domain.PushEvent{}); err != nil {
		t.Fatal(err)
	}
	list, _ := env.notifier.List(ctx)
	id := list[0].ID

	if _, err := w.Dispatch(ctx, &domain.NotificationClickEvent{NotificationID: id}); err != nil {
		t.Fatalf("Dispatch(notificationclick) error = %v", err)
	}

	n, err := env.notifier.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !n.Closed {
		t.Error("notification was not closed")
	}

	clients, err := env.clients.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(clients) != 1 || clients[0].URL != testScope || !clients[0].Focused {
		t.Errorf("clients = %+v, want one focused window at %s", clients, testScope)
	}
}

func TestNotificationClickUnknownIDStillOpens(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	w := env.worker(t, networkFirstConfig(t))

	if _, err := w.Dispatch(ctx, &domain.NotificationClickEvent{NotificationID: "gone"}); err != nil {
		t.Fatalf("Dispatch(notificationclick) error = %v", err)
	}
	clients, _ := env.clients.List(ctx)
	if len(clients) != 1 {
		t.Errorf("clients = %d, want 1", len(clients))
	}
}
