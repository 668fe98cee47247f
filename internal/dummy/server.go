package dummy

import (
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const SessionCookie = "robby_session"

type ServerConfig struct {
	Port int
	// MaxJitter adds a random delay in [0, MaxJitter) to every page.
	MaxJitter time.Duration
}

// Handler serves the pages the website scenario visits. The profile page
// needs the session cookie handed out by the login page.
func Handler(cfg ServerConfig) http.Handler {
	var sessions uint64
	mux := http.NewServeMux()

	page := func(title string, next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				w.Header().Set("Allow", "GET, HEAD")
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			if cfg.MaxJitter > 0 {
				time.Sleep(time.Duration(rand.Int63n(int64(cfg.MaxJitter))))
			}
			if next != nil {
				next(w, r)
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, "<html><head><title>%s</title></head><body><h1>%s</h1></body></html>\n", title, title)
		}
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		page("robby", nil)(w, r)
	})

	mux.HandleFunc("/login.html", page("Login", func(w http.ResponseWriter, r *http.Request) {
		id := atomic.AddUint64(&sessions, 1)
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    strconv.FormatUint(id, 10),
			Path:     "/",
			HttpOnly: true,
		})
	}))

	mux.HandleFunc("/logout.html", page("Logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:   SessionCookie,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})
	}))

	profile := page("Profile", nil)
	mux.HandleFunc("/profile.html", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(SessionCookie); err != nil || c.Value == "" {
			http.Error(w, "not logged in", http.StatusUnauthorized)
			return
		}
		profile(w, r)
	})

	return mux
}

// Start runs the target site on cfg.Port in the background.
func Start(cfg ServerConfig) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           Handler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("target site listening; pages: /, /login.html, /logout.html, /profile.html")

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("target site failed")
		}
	}()
	return server
}
