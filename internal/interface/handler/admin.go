package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"swproxy/internal/domain"
	"swproxy/internal/usecase"
)

// NetworkSwitch はネットワークのオフライン模擬を切り替える
type NetworkSwitch interface {
	SetOffline(offline bool)
	Offline() bool
}

// AdminHandler はページやプッシュサーバーの代わりにワーカーへイベントを送る
type AdminHandler struct {
	registration *usecase.Registration
	updater      *usecase.Updater
	caches       domain.CacheStorage
	clients      domain.Clients
	notifier     domain.Notifier
	network      NetworkSwitch
	logger       domain.Logger
}

// NewAdminHandler は新しいAdminHandlerインスタンスを作成
func NewAdminHandler(
	registration *usecase.Registration,
	updater *usecase.Updater,
	caches domain.CacheStorage,
	clients domain.Clients,
	notifier domain.Notifier,
	network NetworkSwitch,
	logger domain.Logger,
) *AdminHandler {
	return &AdminHandler{
		registration: registration,
		updater:      updater,
		caches:       caches,
		clients:      clients,
		notifier:     notifier,
		network:      network,
		logger:       logger,
	}
}

// Router は管理用のルーターを作成する
func Router(admin *AdminHandler, metrics *MetricsHandler, logger domain.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Route("/sw", func(r chi.Router) {
		r.Post("/register", admin.HandleRegister)
		r.Post("/message", admin.HandleMessage)
		r.Post("/push", admin.HandlePush)
		r.Get("/notifications", admin.HandleListNotifications)
		r.Post("/notifications/{id}/click", admin.HandleNotificationClick)
		r.Post("/sync/{tag}", admin.HandleSync)
		r.Get("/caches", admin.HandleListCaches)
		r.Get("/caches/{name}", admin.HandleCacheKeys)
		r.Get("/clients", admin.HandleListClients)
		r.Post("/clients", admin.HandleRegisterClient)
		r.Get("/state", admin.HandleState)
		r.Post("/network/offline", admin.HandleNetwork(true))
		r.Post("/network/online", admin.HandleNetwork(false))
	})

	r.Handle("/metrics", metrics.HandleMetrics())
	r.Get("/stats", metrics.HandleStats)
	r.Get("/health", metrics.HandleHealth)

	return r
}

// HandleRegister はワーカー設定を読み直して新しいワーカーを登録する
func (h *AdminHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if h.updater == nil {
		writeError(w, http.StatusNotFound, "registration updates are disabled")
		return
	}

	worker, err := h.updater.Update(r.Context())
	if err != nil {
		h.logger.Error("Worker registration failed", err, nil)
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrInvalidConfig):
			status = http.StatusBadRequest
		case errors.Is(err, domain.ErrPrecacheFailed):
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"worker":       worker.Info(),
		"registration": h.registration.State(),
	})
}

// HandleMessage はページからのメッセージを送る
// ?target=waiting で待機中のワーカー宛てになる
func (h *AdminHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var worker *usecase.Worker
	switch r.URL.Query().Get("target") {
	case "", "active":
		worker = h.registration.Active()
	case "waiting":
		worker = h.registration.Waiting()
	default:
		writeError(w, http.StatusBadRequest, "target must be active or waiting")
		return
	}
	if worker == nil {
		writeError(w, http.StatusNotFound, "no such worker")
		return
	}

	var msg domain.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		// 不正なメッセージは無視される
		h.logger.Debug("Malformed message ignored", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if _, err := worker.Dispatch(r.Context(), &domain.MessageEvent{
		Data:   msg,
		Source: r.Header.Get(ClientHeader),
	}); err != nil {
		h.logger.Error("Message handling failed", err, map[string]interface{}{
			"type": string(msg.Type),
		})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandlePush はボディをプッシュのペイロードとして配送する
func (h *AdminHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	worker := h.registration.Active()
	if worker == nil {
		writeError(w, http.StatusNotFound, "no active worker")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := worker.Dispatch(r.Context(), &domain.PushEvent{Data: data}); err != nil {
		h.logger.Error("Push handling failed", err, nil)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleListNotifications は表示された通知の一覧を返す
func (h *AdminHandler) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.notifier.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleNotificationClick は通知のクリックを配送する
func (h *AdminHandler) HandleNotificationClick(w http.ResponseWriter, r *http.Request) {
	worker := h.registration.Active()
	if worker == nil {
		writeError(w, http.StatusNotFound, "no active worker")
		return
	}

	var body struct {
		Action string `json:"action"`
	}
	// ボディは省略可能
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := worker.Dispatch(r.Context(), &domain.NotificationClickEvent{
		NotificationID: chi.URLParam(r, "id"),
		Action:         body.Action,
	}); err != nil {
		h.logger.Error("Notification click failed", err, nil)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleSync はバックグラウンド同期を配送する
func (h *AdminHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	worker := h.registration.Active()
	if worker == nil {
		writeError(w, http.StatusNotFound, "no active worker")
		return
	}

	if _, err := worker.Dispatch(r.Context(), &domain.SyncEvent{Tag: chi.URLParam(r, "tag")}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleListCaches はキャッシュ名の一覧を返す
func (h *AdminHandler) HandleListCaches(w http.ResponseWriter, r *http.Request) {
	names, err := h.caches.Keys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"caches": names})
}

// HandleCacheKeys はキャッシュ内のリクエストキーを返す
func (h *AdminHandler) HandleCacheKeys(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	ok, err := h.caches.Has(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrCacheNotFound.Error())
		return
	}

	cache, err := h.caches.Open(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	keys, err := cache.Keys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cache": name, "keys": keys})
}

// HandleListClients は制御対象ページの一覧を返す
func (h *AdminHandler) HandleListClients(w http.ResponseWriter, r *http.Request) {
	list, err := h.clients.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleRegisterClient はページを登録する
func (h *AdminHandler) HandleRegisterClient(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	client, err := h.clients.Register(r.Context(), body.URL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

// HandleState は登録状態とネットワーク状態を返す
func (h *AdminHandler) HandleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"registration": h.registration.State(),
		"offline":      h.network.Offline(),
	})
}

// HandleNetwork はオフライン模擬を切り替えるハンドラを返す
func (h *AdminHandler) HandleNetwork(offline bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h.network.SetOffline(offline)
		h.logger.Info("Network state changed", map[string]interface{}{
			"offline": offline,
		})
		writeJSON(w, http.StatusOK, map[string]bool{"offline": offline})
	}
}

func requestLogger(logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("Admin request", map[string]interface{}{
				"method":  r.Method,
				"path":    r.URL.Path,
				"status":  ww.Status(),
				"elapsed": time.Since(start).String(),
			})
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
