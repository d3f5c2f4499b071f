package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"

	"github.com/baechuer/queuecore/internal/fanout"
	"github.com/baechuer/queuecore/internal/metrics"
	"github.com/baechuer/queuecore/internal/scheduler"
)

// routerDeps is the admin HTTP surface's dependency set, grounded on
// join-service/internal/transport/rest.RouterDeps's plain-struct-of-
// collaborators shape.
type routerDeps struct {
	Jobs        *scheduler.Jobs
	JobRuns     scheduler.JobRunStore
	Coordinator *fanout.Coordinator
	Log         zerolog.Logger
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		render.JSON(w, req, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Get("/admin/next-event", func(w http.ResponseWriter, req *http.Request) {
		next, err := d.Jobs.GetNextEventTime(req.Context(), time.Now())
		if err != nil {
			render.Status(req, http.StatusInternalServerError)
			render.JSON(w, req, map[string]string{"error": err.Error()})
			return
		}
		if next == nil {
			render.JSON(w, req, map[string]any{"next_event_at": nil})
			return
		}
		render.JSON(w, req, map[string]any{"next_event_at": next.Format(time.RFC3339)})
	})

	r.Post("/admin/fanout/run", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Topic   string `json:"topic"`
			WorkKey string `json:"work_key"`
			JoinID  string `json:"join_id"`
		}
		if err := render.DecodeJSON(req.Body, &body); err != nil {
			render.Status(req, http.StatusBadRequest)
			render.JSON(w, req, map[string]string{"error": "invalid request body"})
			return
		}
		n, err := d.Coordinator.Run(req.Context(), body.Topic, body.WorkKey, body.JoinID)
		if err != nil {
			d.Log.Warn().Err(err).Str("topic", body.Topic).Msg("admin fanout run failed")
			render.Status(req, http.StatusInternalServerError)
			render.JSON(w, req, map[string]string{"error": err.Error()})
			return
		}
		render.JSON(w, req, map[string]int{"dispatched": n})
	})

	r.Post("/admin/jobs/{name}/trigger", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		job, err := d.Jobs.TriggerJob(req.Context(), name)
		if err != nil {
			render.Status(req, http.StatusNotFound)
			render.JSON(w, req, map[string]string{"error": err.Error()})
			return
		}
		now := time.Now()
		inserted, err := d.JobRuns.InsertRun(req.Context(), job.Name, job.Topic, job.Payload, now, now)
		if err != nil {
			render.Status(req, http.StatusInternalServerError)
			render.JSON(w, req, map[string]string{"error": err.Error()})
			return
		}
		render.JSON(w, req, map[string]any{"job": job.Name, "inserted": inserted})
	})

	return r
}
