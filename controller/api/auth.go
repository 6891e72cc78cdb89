package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const (
	AdminBucket    = "admin"
	credentialsKey = "credentials"
	sessionName    = "aquatrack"
	sessionUserKey = "user"

	// First-boot credentials; the installer is expected to change them.
	defaultAdminUser     = "admin"
	defaultAdminPassword = "aquatrack"
)

type credentials struct {
	User     string `json:"user"`
	Password string `json:"password"` // bcrypt hash
}

func (a *API) ensureCredentials() error {
	store := a.c.Store()
	if err := store.CreateBucket(AdminBucket); err != nil {
		return err
	}
	var cred credentials
	if err := store.Get(AdminBucket, credentialsKey, &cred); err == nil {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(defaultAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	cred = credentials{User: defaultAdminUser, Password: string(hash)}
	return store.Put(AdminBucket, credentialsKey, &cred)
}

// signIn handles POST /login with {user, password} JSON.
func (a *API) signIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	var cred credentials
	if err := a.c.Store().Get(AdminBucket, credentialsKey, &cred); err != nil {
		http.Error(w, "Credentials not initialized", http.StatusInternalServerError)
		return
	}
	if req.User != cred.User ||
		bcrypt.CompareHashAndPassword([]byte(cred.Password), []byte(req.Password)) != nil {
		a.appendLog("Failed admin login for " + req.User)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	session, _ := a.store.Get(r, sessionName)
	session.Values[sessionUserKey] = req.User
	if err := session.Save(r, w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.appendLog("Admin signed in")
	w.WriteHeader(http.StatusOK)
}

// signOut clears the admin session flag.
func (a *API) signOut(w http.ResponseWriter, r *http.Request) {
	session, _ := a.store.Get(r, sessionName)
	delete(session.Values, sessionUserKey)
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// UpdateCredentials rewrites the stored admin user/password.
func (a *API) UpdateCredentials(user, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	cred := credentials{User: user, Password: string(hash)}
	return a.c.Store().Put(AdminBucket, credentialsKey, &cred)
}

func (a *API) isAuthenticated(r *http.Request) bool {
	session, err := a.store.Get(r, sessionName)
	if err != nil {
		return false
	}
	_, ok := session.Values[sessionUserKey].(string)
	return ok
}

// adminOnly rejects requests without an admin session.
func (a *API) adminOnly(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.isAuthenticated(r) {
			log.Println("api: unauthenticated request to", r.URL.Path)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		fn(w, r)
	}
}

func newSessionStore(secret string) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode
	return store
}
