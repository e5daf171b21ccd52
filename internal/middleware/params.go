package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	appctx "github.com/kosumphisai/koshare/backend/internal/context"
)

// DefaultMaxBodyBytes bounds request bodies read by Params
const DefaultMaxBodyBytes = 2 << 20

// Params merges request parameters into the context. Sources in order, later
// overriding earlier: query string, form body, JSON object body (any content
// type), then the JSON-encoded `data` bag.
func Params(maxBodyBytes int64) func(next http.Handler) http.Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			params, status, err := collectParams(w, r, maxBodyBytes)
			if err != nil {
				WriteError(w, r, status, CodeValidationError, err.Error())
				return
			}

			if info := appctx.ExtractRequestInfo(r.Context()); info != nil {
				info.Action = params.Get("action")
			}
			next.ServeHTTP(w, r.WithContext(appctx.WithParams(r.Context(), params)))
		})
	}
}

func collectParams(w http.ResponseWriter, r *http.Request, maxBodyBytes int64) (appctx.Params, int, error) {
	params := appctx.Params{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := mergeBody(r, params); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, http.StatusRequestEntityTooLarge, errors.New("request body too large")
			}
			return nil, http.StatusBadRequest, err
		}
	}

	if data := params.Raw("data"); data != "" {
		if err := mergeJSON([]byte(data), params); err != nil {
			return nil, http.StatusBadRequest, errors.New("data must be a JSON object")
		}
	}
	return params, 0, nil
}

func mergeBody(r *http.Request, params appctx.Params) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return err
		}
		for key, values := range r.PostForm {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}
		return nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return err
		}
		for key, values := range r.MultipartForm.Value {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}
		return nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil
	}
	if err := mergeJSON(body, params); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// mergeJSON copies the fields of a JSON object into params. Strings are
// kept as is, numbers and booleans are formatted, nested values keep their
// JSON encoding and nulls are skipped.
func mergeJSON(data []byte, params appctx.Params) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return err
	}

	for key, raw := range fields {
		raw = bytes.TrimSpace(raw)
		switch {
		case len(raw) == 0 || string(raw) == "null":
			continue
		case raw[0] == '"':
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			params[key] = s
		default:
			params[key] = strings.TrimSpace(string(raw))
		}
	}
	return nil
}
