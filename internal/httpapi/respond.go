package httpapi

import (
	"errors"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"nautconsole/internal/restclient"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorBody{Error: err.Error()})
}

// upstreamError maps a backend failure to a response. Status errors keep
// their code class; everything else is a bad gateway.
func upstreamError(w http.ResponseWriter, err error) {
	var se *restclient.StatusError
	switch {
	case errors.As(err, &se) && se.Code == http.StatusNotFound:
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &se) && se.Code >= 400 && se.Code < 500:
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, restclient.ErrNoBaseURL):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
