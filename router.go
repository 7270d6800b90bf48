package workshop

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes returns the API router. CORS is open to every origin, and the shape
// stream headers are exposed so browsers can resume subscriptions.
func (s *Server) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  s.options.logger,
		NoColor: true,
	}))
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{
			HeaderShapeOffset,
			HeaderShapeHandle,
			HeaderShapeUpToDate,
			HeaderShapeCursor,
			HeaderShapeSchema,
		},
		MaxAge: 300, // Maximum value not ignored by any of major browsers
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Post("/todos", s.HandleCreateTodo)
	router.Patch("/todos/{id}", s.HandleUpdateTodo)
	router.Delete("/todos/{id}", s.HandleDeleteTodo)

	router.Get("/tables", s.HandleListTables)
	router.Get("/tables/{table}/{id}", s.HandleGetRow)
	router.Patch("/tables/{table}/{id}", s.HandleUpdateRow)

	router.Post("/users", s.HandleCreateUser)
	router.Patch("/users", s.HandleUpdateUser)

	router.Patch("/checkboxes/{id}", s.HandleToggleCheckbox)
	router.Get("/leaderboard", s.HandleLeaderboard)

	router.Post("/polls", s.HandleCreatePoll)
	router.Post("/polls/{id}/votes", s.HandleVote)

	router.Get("/shape/{table}", s.HandleShape)

	if events, ok := s.options.notifier.(http.Handler); ok {
		router.Get("/events", events.ServeHTTP)
	}

	return router
}
