package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/alryaz/hass-pik-comfort/pkg/pik"
)

type otpRequestBody struct {
	Phone string `json:"phone"`
}

func (s *Server) handleOTPRequest(w http.ResponseWriter, r *http.Request) {
	var body otpRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := s.session(body.Phone)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	expiry, err := sess.RequestOTP(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, struct {
		Phone   string    `json:"phone"`
		Expires time.Time `json:"expires"`
	}{Phone: sess.Phone(), Expires: expiry})
}

type otpVerifyBody struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func (s *Server) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	var body otpVerifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Code == "" {
		writeJSONError(w, "code is required", http.StatusBadRequest)
		return
	}

	sess, err := s.session(body.Phone)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := sess.VerifyOTP(r.Context(), body.Code); err != nil {
		// expired vs invalid vs unknown matters for the caller's messaging
		switch {
		case pik.IsOTPExpired(err):
			writeJSONError(w, "one-time password expired, request a new one", http.StatusUnauthorized)
		case pik.IsOTPInvalid(err):
			writeJSONError(w, "one-time password is invalid", http.StatusUnauthorized)
		default:
			s.writeError(w, r, err)
		}
		return
	}

	writeJSON(w, struct {
		Phone         string `json:"phone"`
		Authenticated bool   `json:"authenticated"`
		Token         string `json:"token"`
	}{Phone: sess.Phone(), Authenticated: true, Token: sess.Token()})
}
