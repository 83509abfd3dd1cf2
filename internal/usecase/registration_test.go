package usecase

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"swproxy/internal/domain"
	"swproxy/internal/interface/repository/logger"
)

func TestRegisterFirstWorkerActivates(t *testing.T) {
	env := newTestEnv()
	cfg := networkFirstConfig(t)
	env.serveAssets(cfg)

	reg := NewRegistration(logger.NewNop())
	w := env.worker(t, cfg)
	if err := reg.Register(context.Background(), w); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if reg.Active() != w {
		t.Fatal("Active() is not the registered worker")
	}
	if w.State() != domain.StateActivated {
		t.Errorf("State() = %s, want activated", w.State())
	}

	state := reg.State()
	if state.Active == nil || state.Active.ID != w.ID() || state.Waiting != nil {
		t.Errorf("State() = %+v", state)
	}
}

func TestRegisterReplacesActiveWorker(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	v1 := networkFirstConfig(t)
	env.serveAssets(v1)
	reg := NewRegistration(logger.NewNop())
	old := env.worker(t, v1)
	if err := reg.Register(ctx, old); err != nil {
		t.Fatal(err)
	}

	v2 := networkFirstConfig(t)
	v2.CacheName = "shop-admin-v2"
	next := env.worker(t, v2)
	if err := reg.Register(ctx, next); err != nil {
		t.Fatalf("Register(v2) error = %v", err)
	}

	if reg.Active() != next {
		t.Fatal("v2 did not take control")
	}
	if old.State() != domain.StateRedundant {
		t.Errorf("old State() = %s, want redundant", old.State())
	}

	names, err := env.caches.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"shop-admin-v2"}, names); diff != "" {
		t.Errorf("caches mismatch (-want +got):\n%s", diff)
	}
}

func TestSkipWaitingMessagePromotesWaitingWorker(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	v1 := networkFirstConfig(t)
	env.serveAssets(v1)
	reg := NewRegistration(logger.NewNop())
	old := env.worker(t, v1)
	if err := reg.Register(ctx, old); err != nil {
		t.Fatal(err)
	}

	v2 := networkFirstConfig(t)
	v2.CacheName = "shop-admin-v2"
	v2.SkipWaiting = false
	next := env.worker(t, v2)
	if err := reg.Register(ctx, next); err != nil {
		t.Fatal(err)
	}

	if reg.Waiting() != next || reg.Active() != old {
		t.Fatal("v2 should be waiting behind v1")
	}
	if next.State() != domain.StateInstalled {
		t.Errorf("waiting State() = %s, want installed", next.State())
	}

	if _, err := next.Dispatch(ctx, &domain.MessageEvent{Data: domain.Message{Type: domain.MessageSkipWaiting}}); err != nil {
		t.Fatalf("Dispatch(SKIP_WAITING) error = %v", err)
	}

	if reg.Active() != next || reg.Waiting() != nil {
		t.Fatal("SKIP_WAITING did not promote the waiting worker")
	}
	if old.State() != domain.StateRedundant {
		t.Errorf("old State() = %s, want redundant", old.State())
	}
}

func TestRegisterStrictFailureKeepsPreviousWorker(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	v1 := networkFirstConfig(t)
	env.serveAssets(v1)
	reg := NewRegistration(logger.NewNop())
	old := env.worker(t, v1)
	if err := reg.Register(ctx, old); err != nil {
		t.Fatal(err)
	}

	v2 := networkFirstConfig(t)
	v2.CacheName = "shop-admin-v2"
	v2.Assets = append(v2.Assets, "./missing.css")
	next := env.worker(t, v2)

	err := reg.Register(ctx, next)
	if !errors.Is(err, domain.ErrPrecacheFailed) {
		t.Fatalf("Register() error = %v, want ErrPrecacheFailed", err)
	}
	if reg.Active() != old {
		t.Error("failed install replaced the active worker")
	}

	// 旧ワーカーは引き続きキャッシュを提供する
	env.network.setOffline(true)
	resp, err := reg.Active().Fetch(ctx, request(t, http.MethodGet, testScope+"index.html"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Source != domain.SourceCache {
		t.Errorf("Source = %s, want cache", resp.Source)
	}
}

func TestWaitingWorkerCacheDoesNotServeActiveWorker(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	orders := testScope + "orders"

	v9 := networkFirstConfig(t)
	v9.CacheName = "shop-v9"
	v9.Assets = append(v9.Assets, "./orders")
	env.serveAssets(v9)
	env.network.serve(orders, http.StatusOK, "from-v9")

	reg := NewRegistration(logger.NewNop())
	active := env.worker(t, v9)
	if err := reg.Register(ctx, active); err != nil {
		t.Fatal(err)
	}

	// 名前順では shop-v10 が shop-v9 より前になる
	v10 := networkFirstConfig(t)
	v10.CacheName = "shop-v10"
	v10.Assets = v9.Assets
	v10.SkipWaiting = false
	env.network.serve(orders, http.StatusOK, "from-v10")
	waiting := env.worker(t, v10)
	if err := reg.Register(ctx, waiting); err != nil {
		t.Fatal(err)
	}
	if reg.Waiting() != waiting {
		t.Fatal("v10 should be waiting")
	}

	env.network.setOffline(true)
	resp, err := reg.Active().Fetch(ctx, request(t, http.MethodGet, orders))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "from-v9" {
		t.Errorf("active worker body = %q, want from-v9", resp.Body)
	}
}
