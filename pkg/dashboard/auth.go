package dashboard

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/bdrman/bdrman/pkg/audit"
	"github.com/bdrman/bdrman/pkg/logger"
)

const (
	cookieName    = "bdrman_session"
	sessionMaxAge = 24 * time.Hour
)

type session struct {
	IssuedAt int64
}

type sessionCodec struct {
	sc *securecookie.SecureCookie
}

// newSessionCodec derives the cookie keys from secret, or generates random
// ones when secret is empty.
func newSessionCodec(secret string) (*sessionCodec, error) {
	var hashKey, blockKey []byte
	if secret == "" {
		hashKey = securecookie.GenerateRandomKey(64)
		blockKey = securecookie.GenerateRandomKey(32)
		if hashKey == nil || blockKey == nil {
			return nil, errors.New("dashboard: failed to generate session keys")
		}
	} else {
		h := sha512.Sum512([]byte("bdrman-session-hash:" + secret))
		b := sha256.Sum256([]byte("bdrman-session-block:" + secret))
		hashKey, blockKey = h[:], b[:]
	}

	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionMaxAge.Seconds()))
	return &sessionCodec{sc: sc}, nil
}

func (c *sessionCodec) encode(now time.Time) (string, error) {
	return c.sc.Encode(cookieName, session{IssuedAt: now.Unix()})
}

func (c *sessionCodec) valid(value string) bool {
	var s session
	if err := c.sc.Decode(cookieName, value, &s); err != nil {
		return false
	}
	return time.Since(time.Unix(s.IssuedAt, 0)) < sessionMaxAge
}

func (s *Server) authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return false
	}
	return s.sessions.valid(cookie.Value)
}

// requireAPI rejects unauthenticated API calls with a JSON 401.
func (s *Server) requireAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticated(r) {
			jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requirePage(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticated(r) {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next(w, r)
	}
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	if s.authenticated(r) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	serveLogin(w, http.StatusOK, "")
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !s.limiter.Allow(ip) {
		logger.WarnCF("dashboard", "Login throttled", map[string]any{"remote": ip})
		serveLogin(w, http.StatusTooManyRequests, "Too many attempts, try again later")
		return
	}

	if !checkPassword(s.password, r.FormValue("password")) {
		logger.WarnCF("dashboard", "Failed login", map[string]any{"remote": ip})
		s.record(r.Context(), audit.Event{Type: audit.EventWebLogin, Actor: ip, Action: "login"})
		serveLogin(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	value, err := s.sessions.encode(time.Now())
	if err != nil {
		logger.ErrorCF("dashboard", "Failed to encode session", map[string]any{"error": err.Error()})
		serveLogin(w, http.StatusInternalServerError, "Login failed")
		return
	}

	s.limiter.Reset(ip)
	s.record(r.Context(), audit.Event{Type: audit.EventWebLogin, Actor: ip, Action: "login", Success: true})
	logger.InfoCF("dashboard", "Dashboard login", map[string]any{"remote": ip})

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if s.authenticated(r) {
		s.record(r.Context(), audit.Event{Type: audit.EventWebLogout, Actor: remoteIP(r), Action: "logout", Success: true})
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, "/login", http.StatusFound)
}

// checkPassword accepts a bcrypt hash or a plain value for stored.
func checkPassword(stored, submitted string) bool {
	if submitted == "" {
		return false
	}
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(submitted)) == nil
	}
	return hmac.Equal([]byte(submitted), []byte(stored))
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func serveLogin(w http.ResponseWriter, status int, errMsg string) {
	loginHTML, err := staticFiles.ReadFile("static/login.html")
	if err != nil {
		http.Error(w, "login.html not found", http.StatusInternalServerError)
		return
	}
	html := string(loginHTML)
	if errMsg != "" {
		html = strings.Replace(html, `<!--ERROR-->`, `<p class="error">`+errMsg+`</p>`, 1)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(html))
}

func (s *Server) record(ctx context.Context, e audit.Event) {
	e.Source = "web"
	if err := s.recorder.Record(ctx, e); err != nil {
		logger.WarnCF("dashboard", "Failed to write audit event", map[string]any{"error": err.Error()})
	}
}
