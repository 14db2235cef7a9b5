package http

import (
	"net/http"
	"time"

	"github.com/fedutinova/everwalk/internal/auth"
	"github.com/fedutinova/everwalk/internal/config"
	"github.com/fedutinova/everwalk/internal/gpt"
	"github.com/fedutinova/everwalk/internal/memq"
	"github.com/fedutinova/everwalk/internal/progress"
	"github.com/fedutinova/everwalk/internal/redis"
	"github.com/fedutinova/everwalk/internal/repository"
	"github.com/fedutinova/everwalk/internal/storage"
	"github.com/fedutinova/everwalk/internal/workers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

type Handlers struct {
	Q         memq.Dispatcher
	Repo      *repository.Repository
	Storage   storage.Storage
	Redis     *redis.Service
	Config    config.Config
	GPT       *gpt.Client
	Videos    *workers.VideoService
	Companion *workers.CompanionService
	Hub       *progress.Hub
}

func (h *Handlers) Routers(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Post("/v1/auth/register", h.register)
		r.Post("/v1/auth/login", h.login)
		r.Post("/v1/auth/refresh", h.refresh)
	})

	if h.Storage != nil {
		r.Get("/files/*", h.serveFiles)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.JWTMiddleware(h.Config.JWTSecret, h.Config.JWTIssuer))

		// the progress stream outlives the request timeout
		r.With(auth.RequirePerm(auth.PermVideoReadOwn)).Get("/v1/video-jobs/{jobID}/progress", h.streamProgress)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/v1/auth/logout", h.logout)

			r.With(auth.RequirePerm(auth.PermPetManage)).Post("/v1/uploads", h.uploadImage)

			r.Route("/v1/pets", func(r chi.Router) {
				r.Use(auth.RequirePerm(auth.PermPetManage))
				r.Post("/", h.createPet)
				r.Get("/", h.listPets)
				r.Get("/{petID}", h.getPet)
				r.Delete("/{petID}", h.deletePet)

				r.With(h.perUserLimit(), auth.RequirePerm(auth.PermVideoCreate)).Post("/{petID}/videos", h.createVideo)
				r.Get("/{petID}/videos", h.listVideos)

				r.Get("/{petID}/diaries", h.listDiaries)
				r.Post("/{petID}/diaries", h.createDiary)
				r.Get("/{petID}/diaries/unread-count", h.unreadDiaries)

				r.Get("/{petID}/messages", h.listMessages)
				r.With(h.perUserLimit()).Post("/{petID}/messages", h.sendMessage)
				r.Get("/{petID}/messages/unread-count", h.unreadMessages)
			})

			r.With(auth.RequirePerm(auth.PermVideoReadOwn)).Get("/v1/video-jobs/{jobID}", h.getVideoJob)

			r.With(auth.RequirePerm(auth.PermPetManage)).Get("/v1/diaries/{diaryID}", h.getDiary)
			r.With(auth.RequirePerm(auth.PermPetManage)).Put("/v1/diaries/{diaryID}/read", h.markDiaryRead)
			r.With(auth.RequirePerm(auth.PermPetManage)).Put("/v1/messages/{messageID}/read", h.markMessageRead)
		})
	})
}

// perUserLimit throttles expensive calls per authenticated user.
func (h *Handlers) perUserLimit() func(http.Handler) http.Handler {
	if h.Config.CreateRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(h.Config.CreateRateLimit, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if cl, ok := auth.FromContext(r.Context()); ok {
				return cl.UserID, nil
			}
			return httprate.KeyByIP(r)
		}),
	)
}
