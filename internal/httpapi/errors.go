package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/evebox/evebox-go/internal/errkind"
)

func errUnauthorised(msg string) error {
	return errkind.New(errkind.Unauthorised, msg)
}

func errNotFound(msg string) error {
	return errkind.New(errkind.NotFound, msg)
}

func errBadRequest(msg string) error {
	return errkind.New(errkind.BadRequest, msg)
}

// writeError maps a Kind-tagged error to the status codes named in the
// error handling design and writes a {"error": "..."} JSON body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errkind.KindOf(err) {
	case errkind.BadRequest, errkind.Parse:
		status = http.StatusBadRequest
	case errkind.Unauthorised:
		status = http.StatusUnauthorized
	case errkind.NotFound:
		status = http.StatusNotFound
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
