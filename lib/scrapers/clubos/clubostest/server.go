// Package clubostest serves a minimal ClubOS over httptest: the login handshake,
// session probes and delegation. Tests register the data endpoints they need.
package clubostest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

const loginPage = `<html><body>
<form action="/action/Login" method="post">
	<input type="hidden" name="_sourcePage" value="%s">
	<input type="hidden" name="__fp" value="%s">
	<input name="username"><input name="password" type="password">
</form>
</body></html>`

const (
	SourcePage  = "src-page-token"
	Fingerprint = "fp-token"
	Username    = "front-desk"
	Password    = "hunter2"
)

type Server struct {
	*httptest.Server
	Mux *http.ServeMux

	LoginPosts    atomic.Int64
	DelegateCalls atomic.Int64

	mutex sync.Mutex
	// statuses answered to the next credential POSTs, in order
	loginStatuses      []int
	omitSessionCookie  bool
	omitDelegateCookie bool
	sessionId          int
	delegations        []string
	token              string
}

func NewServer(t testing.TB) *Server {
	s := &Server{
		Mux:   http.NewServeMux(),
		token: "token-1",
	}
	s.Mux.HandleFunc("GET /action/Login/view", s.handleLoginView)
	s.Mux.HandleFunc("POST /action/Login", s.handleLogin)
	s.Mux.HandleFunc("GET /action/Dashboard", s.requireSession(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>dashboard</html>")
	}))
	s.Mux.HandleFunc("GET /action/Dashboard/view", s.requireSession(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>dashboard view</html>")
	}))
	s.Mux.HandleFunc("GET /action/Delegate/{id}/url=false", s.requireSession(s.handleDelegate))

	s.Server = httptest.NewServer(s.Mux)
	t.Cleanup(s.Close)
	return s
}

// QueueLoginStatuses makes the next credential POSTs answer with these statuses
// before the default successful login.
func (s *Server) QueueLoginStatuses(statuses ...int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.loginStatuses = append(s.loginStatuses, statuses...)
}

func (s *Server) OmitSessionCookie() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.omitSessionCookie = true
}

// OmitDelegateCookie makes delegation succeed without setting the
// delegatedUserId cookie.
func (s *Server) OmitDelegateCookie() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.omitDelegateCookie = true
}

// ExpireSessions invalidates every session handed out so far.
func (s *Server) ExpireSessions() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sessionId++
}

// Delegations returns the member ids delegated to, in order.
func (s *Server) Delegations() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.delegations...)
}

func (s *Server) currentSession() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return fmt.Sprintf("session-%d", s.sessionId)
}

// Authorized returns true if the request carries a live session cookie.
func (s *Server) Authorized(r *http.Request) bool {
	cookie, err := r.Cookie("JSESSIONID")
	return err == nil && cookie.Value == s.currentSession()
}

// DelegatedMember returns the delegatedUserId cookie sent with the request.
func DelegatedMember(r *http.Request) string {
	cookie, err := r.Cookie("delegatedUserId")
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Server) requireSession(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.Authorized(r) {
			http.Redirect(w, r, "/action/Login/view", http.StatusFound)
			return
		}
		handler(w, r)
	}
}

// HandleAuthorized registers handler behind the session check.
func (s *Server) HandleAuthorized(pattern string, handler http.HandlerFunc) {
	s.Mux.HandleFunc(pattern, s.requireSession(handler))
}

func (s *Server) handleLoginView(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, loginPage, SourcePage, Fingerprint)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.LoginPosts.Add(1)

	s.mutex.Lock()
	status := 0
	if len(s.loginStatuses) > 0 {
		status = s.loginStatuses[0]
		s.loginStatuses = s.loginStatuses[1:]
	}
	omitSession := s.omitSessionCookie
	token := s.token
	s.mutex.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}

	err := r.ParseForm()
	if err != nil ||
		r.PostForm.Get("login") != "Submit" ||
		r.PostForm.Get("username") != Username ||
		r.PostForm.Get("password") != Password ||
		r.PostForm.Get("_sourcePage") != SourcePage ||
		r.PostForm.Get("__fp") != Fingerprint {
		http.Redirect(w, r, "/action/Login/view?error=true", http.StatusFound)
		return
	}

	if !omitSession {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: s.currentSession(), Path: "/"})
	}
	http.SetCookie(w, &http.Cookie{Name: "apiV3AccessToken", Value: token, Path: "/"})
	http.Redirect(w, r, "/action/Dashboard", http.StatusFound)
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	s.DelegateCalls.Add(1)
	id := r.PathValue("id")

	s.mutex.Lock()
	s.delegations = append(s.delegations, id)
	omit := s.omitDelegateCookie
	s.mutex.Unlock()

	if strings.TrimLeft(id, "0123456789") != "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !omit {
		http.SetCookie(w, &http.Cookie{Name: "delegatedUserId", Value: id, Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "staffDelegatedUserId", Value: "", Path: "/"})
	}
	w.WriteHeader(http.StatusOK)
}
