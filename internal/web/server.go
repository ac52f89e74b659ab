package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/example/sheet-scheduler/internal/auth"
	"github.com/example/sheet-scheduler/internal/booking"
	"github.com/example/sheet-scheduler/internal/store"
)

//go:embed templates/*.html static/*
var fs embed.FS

const (
	defaultTimezone = "America/New_York"
	formTimeLayout  = "2006-01-02T15:04"
)

// Server renders the booking UI. It is a thin collaborator over the
// reservation core: validated field values in, rendered result out.
type Server struct {
	Auth     *auth.Store
	Bookings *booking.Core

	BaseURL string
}

type tmplData struct {
	Title string
	User  int64

	Flash    string
	Bookings []booking.Booking
	Form     booking.Request
	Timezone string
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/static/", http.FileServer(http.FS(fs)))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)

	mux.Handle("/", s.Auth.RequireAuth(http.HandlerFunc(s.handleHome)))
	mux.Handle("/bookings/new", s.Auth.RequireAuth(http.HandlerFunc(s.handleBookingNew)))
	mux.Handle("/bookings/create", s.Auth.RequireAuth(http.HandlerFunc(s.handleBookingCreate)))
	mux.Handle("/bookings/cancel", s.Auth.RequireAuth(http.HandlerFunc(s.handleBookingCancel)))

	return mux
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var bs []booking.Booking
	err := store.WithRetry(r.Context(), 3, 250*time.Millisecond, func() error {
		var lerr error
		bs, lerr = s.Bookings.List(r.Context())
		return lerr
	})
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			s.render(w, "templates/bookings.html", tmplData{Title: "Bookings", User: uid, Flash: "The signup sheet is busy, try again shortly."})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "templates/bookings.html", tmplData{Title: "Bookings", User: uid, Bookings: bs})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.render(w, "templates/login.html", tmplData{Title: "Login"})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		username := strings.TrimSpace(r.FormValue("username"))
		password := r.FormValue("password")
		id, err := s.Auth.Authenticate(r.Context(), username, password)
		if err != nil {
			s.render(w, "templates/login.html", tmplData{Title: "Login", Flash: "Invalid username/password"})
			return
		}
		if err := s.Auth.SetSession(w, r, id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) handleBookingNew(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	s.render(w, "templates/new_booking.html", tmplData{
		Title:    "New Booking",
		User:     uid,
		Timezone: defaultTimezone,
	})
}

func (s *Server) handleBookingCreate(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tz := strings.TrimSpace(r.FormValue("timezone"))
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.renderForm(w, uid, tz, booking.Request{}, "Invalid timezone")
		return
	}

	req := booking.Request{
		Resource:       strings.TrimSpace(r.FormValue("resource")),
		RequesterName:  strings.TrimSpace(r.FormValue("requester_name")),
		RequesterEmail: strings.TrimSpace(r.FormValue("requester_email")),
	}
	req.Start, err = time.ParseInLocation(formTimeLayout, r.FormValue("start"), loc)
	if err != nil {
		s.renderForm(w, uid, tz, req, "Invalid start time")
		return
	}
	req.End, err = time.ParseInLocation(formTimeLayout, r.FormValue("end"), loc)
	if err != nil {
		s.renderForm(w, uid, tz, req, "Invalid end time")
		return
	}

	err = store.WithRetry(r.Context(), 3, 250*time.Millisecond, func() error {
		_, perr := s.Bookings.Propose(r.Context(), req)
		return perr
	})
	if err != nil {
		var verr *booking.ValidationError
		var cerr *booking.ConflictError
		switch {
		case errors.As(err, &verr):
			s.renderForm(w, uid, tz, req, verr.Error())
		case errors.As(err, &cerr):
			s.renderForm(w, uid, tz, req, fmt.Sprintf("That slot is taken: %s is booked %s to %s.",
				cerr.Existing.Resource,
				cerr.Existing.Start.In(loc).Format("Jan 2 15:04"),
				cerr.Existing.End.In(loc).Format("15:04")))
		case errors.Is(err, store.ErrUnavailable):
			s.renderForm(w, uid, tz, req, "The signup sheet is busy, try again shortly.")
		default:
			log.Printf("create booking err: %v", err)
			s.renderForm(w, uid, tz, req, "Failed to create booking")
		}
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleBookingCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(r.FormValue("id"))

	err := store.WithRetry(r.Context(), 3, 250*time.Millisecond, func() error {
		_, cerr := s.Bookings.Cancel(r.Context(), id)
		return cerr
	})
	switch {
	case err == nil:
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	case errors.Is(err, store.ErrUnavailable):
		http.Error(w, "the signup sheet is busy, try again shortly", http.StatusServiceUnavailable)
		return
	default:
		log.Printf("cancel booking err: %v", err)
		http.Error(w, "failed to cancel booking", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) renderForm(w http.ResponseWriter, uid int64, tz string, form booking.Request, flash string) {
	s.render(w, "templates/new_booking.html", tmplData{
		Title:    "New Booking",
		User:     uid,
		Flash:    flash,
		Form:     form,
		Timezone: tz,
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data tmplData) {
	t, err := template.ParseFS(fs,
		"templates/base.html",
		name,
	)
	if err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, "render error: "+err.Error(), http.StatusInternalServerError)
	}
}

func Start(ctx context.Context, addr string, h http.Handler) error {
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
	fmt.Printf("listening on %s\n", addr)
	return srv.ListenAndServe()
}
