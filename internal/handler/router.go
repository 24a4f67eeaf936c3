package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/mathbot/backend/internal/handler/chat"
	"github.com/zhouzirui/mathbot/backend/internal/handler/ws"
	"github.com/zhouzirui/mathbot/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/mathbot/backend/internal/middleware"
	chatService "github.com/zhouzirui/mathbot/backend/internal/service/chat"
	"github.com/zhouzirui/mathbot/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	chatHandler := chat.New(chatSvc)
	wsHandler := ws.New(chatSvc)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	return r
}
