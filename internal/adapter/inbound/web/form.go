package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pagegate/pagegate/internal/service"
)

// maxFormBody bounds form submissions. Forms carry text, not uploads.
const maxFormBody = 1 << 20

// formPreflight answers a CORS preflight for an email-form rule. It runs
// before the visibility gate: browsers send preflights without
// credentials, so the gate could never pass one, and the answer only
// repeats the rule's own CORS configuration.
func (h *Handler) formPreflight(w http.ResponseWriter, r *http.Request, dec *service.Decision) bool {
	email := dec.Rule.Email
	if r.Method != http.MethodOptions || email == nil || email.CORSOrigin == "" {
		return false
	}
	w.Header().Set("Access-Control-Allow-Origin", email.CORSOrigin)
	w.Header().Add("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
	return true
}

// handleForm answers a request matched by an email-form rule: method and
// auth gates, body parsing, then dispatch.
func (h *Handler) handleForm(w http.ResponseWriter, r *http.Request, dec *service.Decision) {
	email := dec.Rule.Email

	if email != nil && email.CORSOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", email.CORSOrigin)
		w.Header().Add("Vary", "Origin")
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "form handlers accept POST only")
		return
	}

	if email != nil && email.RequireAuth && AuthFromContext(r.Context()) == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "sign in to submit this form")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBody)
	fields, err := parseFormFields(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "unreadable form body")
		return
	}

	clientIP := ClientIPFromContext(r.Context())
	if clientIP == "" {
		clientIP = extractRealIP(r)
	}

	result, err := h.forms.Submit(r.Context(), service.FormSubmission{
		Email:    email,
		Fields:   fields,
		ClientIP: clientIP,
	})
	if err != nil {
		h.writeFormError(w, r, err)
		return
	}

	outcome := "sent"
	if result.SilentDrop {
		outcome = "dropped"
	}
	h.metrics.FormSubmissions.WithLabelValues(outcome).Inc()

	if result.RedirectURL != "" {
		http.Redirect(w, r, result.RedirectURL, http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (h *Handler) writeFormError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrSubmissionLimited):
		h.metrics.FormSubmissions.WithLabelValues("limited").Inc()
		writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many submissions, try again later")
	case errors.Is(err, service.ErrMailerUnconfigured):
		h.metrics.FormSubmissions.WithLabelValues("error").Inc()
		writeJSONError(w, http.StatusServiceUnavailable, "mailer_unconfigured", "email transport not configured")
	case errors.Is(err, service.ErrNoDestination):
		h.metrics.FormSubmissions.WithLabelValues("error").Inc()
		writeJSONError(w, http.StatusInternalServerError, "misconfigured", "form rule has no destination address")
	default:
		h.metrics.FormSubmissions.WithLabelValues("error").Inc()
		LoggerFromContext(r.Context()).Error("form dispatch failed", "error", err)
		writeJSONError(w, http.StatusBadGateway, "upstream_failure", "message could not be sent")
	}
}

// parseFormFields decodes the body by content type, preserving the field
// order the client wrote so the composed email reads like the form.
func parseFormFields(r *http.Request) ([]service.FormField, error) {
	ct, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case ct == "application/json":
		return parseJSONFields(r.Body)
	case strings.HasPrefix(ct, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return nil, errors.New("multipart body without boundary")
		}
		return parseMultipartFields(multipart.NewReader(r.Body, boundary))
	default:
		// application/x-www-form-urlencoded, and the benefit of the doubt
		// for plain HTML forms that omit the content type.
		return parseURLEncodedFields(r.Body)
	}
}

func parseJSONFields(body io.Reader) ([]service.FormField, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("expected a JSON object")
	}

	var fields []service.FormField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, errors.New("malformed JSON object key")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		fields = append(fields, service.FormField{Name: key, Value: jsonFieldValue(value)})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
}

func jsonFieldValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func parseURLEncodedFields(body io.Reader) ([]service.FormField, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	var fields []service.FormField
	for _, pair := range strings.Split(string(raw), "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		decodedName, err := url.QueryUnescape(name)
		if err != nil || decodedName == "" {
			continue
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			continue
		}
		fields = append(fields, service.FormField{Name: decodedName, Value: decodedValue})
	}
	return fields, nil
}

// parseMultipartFields reads value parts in order. File parts are
// skipped: forms never accept uploads.
func parseMultipartFields(mr *multipart.Reader) ([]service.FormField, error) {
	var fields []service.FormField
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" || part.FormName() == "" {
			_ = part.Close()
			continue
		}
		value, err := io.ReadAll(io.LimitReader(part, maxFormBody))
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		fields = append(fields, service.FormField{Name: part.FormName(), Value: string(value)})
	}
	return fields, nil
}
