// Generic HTTP handler wrappers that decode requests, validate, call a typed
// handler function, and encode JSON responses or structured errors.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/qualdev/fleet/client/internal/server/dto"
)

// handle wraps a typed handler function into an http.HandlerFunc. It reads the
// JSON body (with DisallowUnknownFields), populates path parameters via struct
// tags, validates, calls fn, and writes the JSON response or structured error.
func handle[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, ok := decodeRequest[In, PtrIn](w, r)
		if !ok {
			return
		}
		out, err := fn(r.Context(), in)
		writeJSONResponse(w, out, err)
	}
}

// handleWithTask wraps a typed handler that also needs the resolved
// *taskEntry. It looks up {task_id} first, then proceeds like handle.
func handleWithTask[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](s *Server, fn func(context.Context, *taskEntry, PtrIn) (*Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := s.getTask(r)
		if err != nil {
			writeError(w, err)
			return
		}
		in, ok := decodeRequest[In, PtrIn](w, r)
		if !ok {
			return
		}
		out, err := fn(r.Context(), entry, in)
		writeJSONResponse(w, out, err)
	}
}

func decodeRequest[In any, PtrIn interface {
	*In
	dto.Validatable
}](w http.ResponseWriter, r *http.Request) (PtrIn, bool) {
	in := PtrIn(new(In))
	if !readAndDecodeBody(w, r, in) {
		return nil, false
	}
	populatePathParams(r, in)
	if err := in.Validate(); err != nil {
		writeError(w, err)
		return nil, false
	}
	return in, true
}

// readAndDecodeBody reads the request body and decodes JSON into input. It
// skips decoding for EmptyReq. Unknown JSON fields are rejected. Returns false
// if an error was written to the response.
func readAndDecodeBody[In any](w http.ResponseWriter, r *http.Request, input *In) bool {
	if _, isEmpty := any(input).(*dto.EmptyReq); isEmpty {
		return true
	}
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		writeError(w, dto.BadRequest("failed to read request body"))
		return false
	}
	if len(body) == 0 {
		return true
	}
	d := json.NewDecoder(bytes.NewReader(body))
	d.DisallowUnknownFields()
	if err := d.Decode(input); err != nil {
		slog.Warn("failed to decode request body", "err", err)
		writeError(w, dto.BadRequest("invalid request body").WithDetail("reason", err.Error()))
		return false
	}
	return true
}

// populatePathParams extracts path parameters from the request and populates
// struct fields tagged with `path:"paramName"`.
func populatePathParams(r *http.Request, input any) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer {
		return
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Struct {
		return
	}
	typ := elem.Type()
	for i := range typ.NumField() {
		tag := typ.Field(i).Tag.Get("path")
		if tag == "" {
			continue
		}
		v := r.PathValue(tag)
		if v == "" {
			continue
		}
		//exhaustive:ignore
		switch typ.Field(i).Type.Kind() {
		case reflect.String:
			elem.Field(i).SetString(v)
		case reflect.Int:
			if n, err := strconv.Atoi(v); err == nil {
				elem.Field(i).SetInt(int64(n))
			}
		}
	}
}

// writeJSONResponse writes out as JSON, or the structured error when err is
// set.
func writeJSONResponse[Out any](w http.ResponseWriter, out *Out, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

// writeError maps err to a status code and ErrorResponse body. Errors that
// are not *dto.APIError are reported as internal errors without their text.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *dto.APIError
	if !errors.As(err, &apiErr) {
		apiErr = dto.InternalError("internal error").Wrap(err)
	}
	if apiErr.StatusCode() >= 500 {
		slog.Error("request failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode())
	_ = json.NewEncoder(w).Encode(&dto.ErrorResponse{Error: dto.ErrorDetails{
		Code:    apiErr.Code(),
		Message: apiErr.Message(),
		Details: apiErr.Details(),
	}})
}
