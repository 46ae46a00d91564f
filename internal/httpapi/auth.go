package httpapi

import (
	"encoding/json"
	"net/http"
	"time"
)

const sessionTTL = 24 * time.Hour

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.AuthRequired || s.AuthType == "anonymous" {
		writeJSON(w, map[string]any{"session_id": ""})
		return
	}

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errBadRequest("malformed login body"))
		return
	}

	if s.AuthType == "usernamepassword" {
		ok, err := s.ConfigDB.CheckCredentials(body.Username, body.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeError(w, errUnauthorised("invalid credentials"))
			return
		}
	}

	sessionID, err := s.ConfigDB.CreateSession(body.Username, sessionTTL)
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: sessionID, Path: "/", HttpOnly: true})
	w.Header().Set(sessionCookieName, sessionID)
	writeJSON(w, map[string]any{"session_id": sessionID})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionCookieName)
	if sessionID == "" {
		if c, err := r.Cookie(sessionCookieName); err == nil {
			sessionID = c.Value
		}
	}
	if sessionID != "" {
		if err := s.ConfigDB.DeleteSession(sessionID); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, map[string]any{"ok": true})
}
