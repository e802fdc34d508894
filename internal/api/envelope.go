package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// meta carries pagination state in every success envelope.
type meta struct {
	Count      int     `json:"count"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

type envelope struct {
	Success bool  `json:"success"`
	Data    any   `json:"data"`
	Meta    *meta `json:"meta,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, data any, m *meta) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Meta: m})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Success: false, Error: errorBody{Code: code, Message: message}})
}

// encodeCursor wraps the last primary-key value as an opaque base64 string.
func encodeCursor(last int64) *string {
	c := base64.URLEncoding.EncodeToString([]byte(strconv.FormatInt(last, 10)))
	return &c
}

// decodeCursor reverses encodeCursor; empty input means "from the start".
func decodeCursor(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	b, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return 0, fmt.Errorf("bad cursor")
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad cursor")
	}
	return v, nil
}

func atoiPositive(raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("not a positive integer")
	}
	return v, nil
}
