package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/auth"
	"github.com/example/court-scheduler/internal/booking"
	"github.com/example/court-scheduler/internal/scheduler"
	"github.com/example/court-scheduler/internal/tasks"
)

// Server is the operator's task-management API. It is the live surface
// while the scheduler runs: tasks created here enter both the store and the
// in-process scheduler. A UI, if any, sits in front of this.
type Server struct {
	Auth     *auth.Store
	Registry *tasks.Registry
	Sched    *scheduler.Scheduler
	Log      *zap.SugaredLogger

	DefaultVenueNo     string
	DefaultFieldTypeNo string
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)

	mux.Handle("/api/tasks", s.Auth.RequireAuth(http.HandlerFunc(s.handleTasks)))
	mux.Handle("/api/tasks/", s.Auth.RequireAuth(http.HandlerFunc(s.handleTaskByID)))

	return mux
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errJSON(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !s.Auth.Authenticate(req.Password) {
		errJSON(w, http.StatusUnauthorized, "invalid password")
		return
	}
	if err := s.Auth.SetSession(w, r); err != nil {
		errJSON(w, http.StatusInternalServerError, "session error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createTaskRequest struct {
	Slot struct {
		VenueNo     string `json:"venue_no"`
		FieldNo     string `json:"field_no"`
		FieldTypeNo string `json:"field_type_no"`
		FieldName   string `json:"field_name"`
		BeginTime   string `json:"begin_time"`
		EndTime     string `json:"end_time"`
		Price       string `json:"price"`
		Date        string `json:"date"` // YYYY-MM-DD
	} `json:"slot"`
	FireTime time.Time `json:"fire_time"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Registry.List())
	case http.MethodPost:
		s.handleTaskCreate(w, r)
	default:
		errJSON(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errJSON(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	date, err := time.ParseInLocation("2006-01-02", req.Slot.Date, time.Local)
	if err != nil {
		errJSON(w, http.StatusBadRequest, "invalid slot.date (want YYYY-MM-DD)")
		return
	}

	slot := booking.Slot{
		VenueNo:     req.Slot.VenueNo,
		FieldNo:     req.Slot.FieldNo,
		FieldTypeNo: req.Slot.FieldTypeNo,
		FieldName:   req.Slot.FieldName,
		BeginTime:   req.Slot.BeginTime,
		EndTime:     req.Slot.EndTime,
		Price:       req.Slot.Price,
		Date:        date,
	}
	if slot.VenueNo == "" {
		slot.VenueNo = s.DefaultVenueNo
	}
	if slot.FieldTypeNo == "" {
		slot.FieldTypeNo = s.DefaultFieldTypeNo
	}
	if slot.Price == "" {
		slot.Price = "0.00"
	}

	t, err := s.Registry.Create(r.Context(), slot, req.FireTime)
	if err != nil {
		if errors.Is(err, tasks.ErrFireTimeInPast) {
			errJSON(w, http.StatusBadRequest, err.Error())
			return
		}
		errJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	s.Sched.Add(t)
	s.Log.Infow("task created via api", "task", t.ID, "slot", t.Slot.String(), "fire_time", t.FireTime)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		errJSON(w, http.StatusNotFound, "task id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		t, err := s.Registry.Get(id)
		if err != nil {
			errJSON(w, http.StatusNotFound, "task not found")
			return
		}
		writeJSON(w, http.StatusOK, t)
	case action == "cancel" && r.Method == http.MethodPost:
		if err := s.Registry.Cancel(r.Context(), id); err != nil {
			errJSON(w, http.StatusNotFound, "task not found")
			return
		}
		t, _ := s.Registry.Get(id)
		writeJSON(w, http.StatusOK, t)
	default:
		errJSON(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, addr string, h http.Handler, log *zap.SugaredLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Infow("listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
