package http

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/jwtauth/v5"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/config"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/domain/user"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/handler/http/middleware"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/jwt"
	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/metrics"
)

func NewRouter(cfg config.AppConfig, JWTService jwt.Service, notificationHandler NotificationHandler) *chi.Mux {
	r := chi.NewRouter()
	logFormat := httplog.SchemaECS.Concise(cfg.Env != "production")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(
		slog.String("app", "notificaciones"),
		slog.String("version", "v1.0.0"),
		slog.String("env", cfg.Env),
	)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		MaxAge:           300,
	}))

	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelDebug,
		Schema: httplog.SchemaECS,
		// streams stay open for minutes
		Skip: func(req *http.Request, respStatus int) bool {
			return req.URL.Path == "/api/v1/notifications/stream"
		},
	}))

	r.Use(chiMiddleware.CleanPath)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(metrics.Middleware)

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1/notifications", func(r chi.Router) {
		// SSE authenticates with its own short-lived token
		r.Get("/stream", notificationHandler.Stream)

		// Requires authentication
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(JWTService.JWTAuth()))
			r.Use(middleware.AuthRequired(JWTService.JWTAuth()))
			r.Use(chiMiddleware.AllowContentType("application/json"))

			r.Get("/", notificationHandler.List)
			r.Get("/unread", notificationHandler.ListUnread)
			r.Get("/unread-count", notificationHandler.UnreadCount)
			r.Get("/summary", notificationHandler.Summary)
			r.Get("/types", notificationHandler.ListTypes)
			r.Get("/history", notificationHandler.ListHistory)
			r.Get("/sse-token", notificationHandler.GetSSEToken)

			r.Post("/read", notificationHandler.MarkReadBatch)
			r.Post("/read-all", notificationHandler.MarkAllRead)

			r.Route("/preferences", func(r chi.Router) {
				r.Get("/", notificationHandler.GetPreferences)
				r.Put("/", notificationHandler.UpdatePreferences)
				r.Get("/delivery", notificationHandler.GetDeliverySettings)
				r.Put("/delivery", notificationHandler.UpdateDeliverySettings)
			})

			// Instructors and administrators
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(user.PermissionNotificationSendCustom))
				r.Post("/send", notificationHandler.Send)
			})

			// Admin only
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(user.PermissionNotificationMaintenance))
				r.Post("/maintenance/{task}", notificationHandler.RunMaintenance)
			})

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", notificationHandler.Get)
				r.Post("/read", notificationHandler.MarkRead)
				r.Delete("/", notificationHandler.Delete)
			})
		})
	})
	return r
}
