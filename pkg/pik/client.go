// Package pik implements the PIK Comfort API client: OTP authentication,
// snapshot fetching with in-place model reconciliation, classifier caching,
// ticket creation and meter reading submission.
package pik

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alryaz/hass-pik-comfort/pkg/common"
	"github.com/alryaz/hass-pik-comfort/pkg/log"
	"github.com/alryaz/hass-pik-comfort/pkg/types"
)

const (
	// OriginURL is the web origin the backend expects on every request.
	OriginURL = "https://new.pik-comfort.ru/"
	// BaseURL is the production API host.
	BaseURL = "https://new-api.pik-software.ru"

	// defaultAuthTTL is the token lifetime requested during OTP verification,
	// one year in seconds.
	defaultAuthTTL = 31536000

	snapshotPath    = "api/v8/aggregate/dashboard-list/"
	otpRequestPath  = "request-sms-password/"
	otpVerifyPath   = "api-token-auth/"
	readingsPath    = "api/v2/mobile/usermeterreading-list/"
	classifiersPath = "api/v2/mobile/ticketclassifier-list/"
	ticketsPath     = "api/v2/mobile/userticket-list/"

	// classifierPageSize covers the full classifier set in one page.
	classifierPageSize  = 500
	snapshotTicketsSize = 10
)

func defaultHeaders() map[string]string {
	return map[string]string{
		"User-Agent": "okhttp/4.4.1",
		"X-Source":   "Android",
		"Origin":     OriginURL,
	}
}

// Session is one authenticated (or to-be-authenticated) connection to the
// backend on behalf of a single phone number. It owns the current model root
// and the cached classifier set; both are replaced or reconciled only under
// the session mutex.
type Session struct {
	client   *http.Client
	baseURL  string
	phone    string
	deviceID string
	authTTL  int

	mu          sync.Mutex
	token       string
	userID      string
	info        *types.Info
	classifiers types.ClassifierSet
}

// NewSession creates an unauthenticated session for the given phone number.
// The device identifier is generated once and reused for the session's life.
func NewSession(phone string) *Session {
	return &Session{
		client:   common.HTTPClient(time.Minute, defaultHeaders()),
		baseURL:  BaseURL,
		phone:    phone,
		deviceID: uuid.NewString(),
		authTTL:  defaultAuthTTL,
	}
}

// Phone returns the phone number the session was created for.
func (s *Session) Phone() string { return s.phone }

// Authenticated reports whether the session holds a bearer token. There is
// no separate validity probe: an expired token surfaces as a ServerError on
// the next authenticated call.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

// RestoreToken installs a previously persisted bearer token, skipping the
// OTP exchange.
func (s *Session) RestoreToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Token returns the current bearer token, empty when unauthenticated.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Info returns the current model root, nil before the first successful
// Update. The returned tree is mutated in place by subsequent updates, so
// callers that can run concurrently with Update must walk it through
// WithInfo instead.
func (s *Session) Info() *types.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// WithInfo runs fn with the current model root while holding the session
// mutex. Update applies snapshots under the same mutex, so fn observes the
// graph between reconciliations, never mid-pass. fn receives nil before the
// first successful Update and must not retain the root past its return.
func (s *Session) WithInfo(fn func(*types.Info)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.info)
}

// Classifiers returns the cached classifier set, nil before the first
// successful UpdateClassifiers.
func (s *Session) Classifiers() types.ClassifierSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classifiers
}

// Close drops the token and discards the model graph. The session can be
// re-authenticated afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.userID = ""
	s.info = nil
	s.classifiers = nil
}

// serverEnvelope is the error body shape the backend uses for rejections.
type serverEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// request performs one HTTP exchange and returns the raw response body and
// status. Authentication is checked before any request is built: a missing
// token is a local defect, not something to discover from a 401. A body of
// type url.Values is form-encoded, anything else non-nil is sent as JSON.
func (s *Session) request(ctx context.Context, method, endpoint string, params url.Values, body interface{}, requiresAuth bool) (json.RawMessage, int, error) {
	var token string
	if requiresAuth {
		s.mu.Lock()
		token = s.token
		s.mu.Unlock()
		if token == "" {
			return nil, 0, ErrNotAuthenticated
		}
	}

	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, 0, &RequestError{Op: method, URL: s.baseURL, Err: err}
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, 0, &RequestError{Op: method, URL: s.baseURL, Err: err}
	}
	u.RawQuery = params.Encode()

	var reader io.Reader
	var contentType string
	switch b := body.(type) {
	case nil:
	case url.Values:
		reader = strings.NewReader(b.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, 0, &RequestError{Op: method, URL: u.String(), Err: err}
		}
		reader = strings.NewReader(string(encoded))
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, 0, &RequestError{Op: method, URL: u.String(), Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if requiresAuth {
		req.Header.Set("Authorization", "Token "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, &RequestError{Op: method, URL: u.String(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &RequestError{Op: method, URL: u.String(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &ServerError{
			RequestError: &RequestError{Op: method, URL: u.String(), Err: fmt.Errorf("status %d", resp.StatusCode)},
			Status:       resp.StatusCode,
			Body:         raw,
		}
		var env serverEnvelope
		if err := json.Unmarshal(raw, &env); err == nil {
			se.Code = env.Code
			se.Message = env.Message
			if se.Message == "" {
				se.Message = env.Detail
			}
		}
		log.Ctx(ctx).DebugContext(ctx, "request rejected",
			slog.String("method", method),
			slog.String("url", u.String()),
			slog.Int("status", resp.StatusCode),
			slog.String("code", se.Code),
		)
		return nil, resp.StatusCode, se
	}

	return raw, resp.StatusCode, nil
}

type otpRequestResult struct {
	TTL int `json:"ttl"`
}

// RequestOTP asks the backend to deliver a one-time password to the
// session's phone number. The returned instant is when the code expires,
// computed from the server-reported ttl at the moment of receipt so a long
// user-interaction delay doesn't drift it.
func (s *Session) RequestOTP(ctx context.Context) (time.Time, error) {
	data := url.Values{}
	data.Set("phone", s.phone)

	raw, _, err := s.request(ctx, "POST", otpRequestPath, nil, data, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("requesting OTP: %w", err)
	}

	var res otpRequestResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return time.Time{}, fmt.Errorf("decoding OTP response: %w", err)
	}
	expiry := time.Now().Add(time.Duration(res.TTL) * time.Second)
	log.Ctx(ctx).DebugContext(ctx, "OTP requested",
		slog.String("phone", s.phone),
		slog.Time("expires", expiry),
	)
	return expiry, nil
}

type otpVerifyResult struct {
	User  string `json:"user"`
	Token string `json:"token"`
}

// VerifyOTP exchanges the delivered one-time password for a bearer token.
// Holding a token already short-circuits the exchange. Expired and invalid
// codes are distinguishable via IsOTPExpired/IsOTPInvalid on the returned
// error.
func (s *Session) VerifyOTP(ctx context.Context, code string) error {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token != "" {
		return nil
	}

	data := url.Values{}
	data.Set("username", s.phone)
	data.Set("password", code)
	data.Set("ttl", strconv.Itoa(s.authTTL))
	data.Set("device_id", s.deviceID)

	raw, _, err := s.request(ctx, "POST", otpVerifyPath, nil, data, false)
	if err != nil {
		return fmt.Errorf("verifying OTP: %w", err)
	}

	var res otpVerifyResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decoding auth response: %w", err)
	}
	if res.Token == "" {
		return fmt.Errorf("auth response missing token")
	}

	s.mu.Lock()
	s.token = res.Token
	s.userID = res.User
	s.mu.Unlock()

	log.Ctx(ctx).InfoContext(ctx, "authenticated", slog.String("phone", s.phone))
	return nil
}

type snapshotEnvelope struct {
	Count   int               `json:"count"`
	Results []json.RawMessage `json:"results"`
}

// Update fetches the aggregate dashboard snapshot and reconciles it into the
// model. The first successful call builds the model root; later calls mutate
// it in place, preserving record instances.
func (s *Session) Update(ctx context.Context) error {
	ctx = log.WithAttrs(ctx, slog.String("phone", s.phone))

	params := url.Values{}
	params.Set("tickets_size", strconv.Itoa(snapshotTicketsSize))

	raw, _, err := s.request(ctx, "GET", snapshotPath, params, nil, true)
	if err != nil {
		return fmt.Errorf("fetching snapshot: %w", err)
	}

	var env snapshotEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding snapshot envelope: %w", err)
	}
	if env.Count < 1 || len(env.Results) < 1 {
		return fmt.Errorf("snapshot envelope is empty")
	}
	if env.Count > 1 {
		log.Ctx(ctx).WarnContext(ctx, "snapshot returned multiple results, using first",
			slog.Int("count", env.Count),
		)
	}
	result := env.Results[0]

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		info, err := types.NewInfo(result)
		if err != nil {
			return err
		}
		s.info = info
		log.Ctx(ctx).DebugContext(ctx, "model built",
			slog.Int("accounts", len(info.Accounts)),
		)
		return nil
	}
	if err := s.info.UpdateFromJSON(result); err != nil {
		return err
	}
	log.Ctx(ctx).DebugContext(ctx, "model reconciled",
		slog.Int("accounts", len(s.info.Accounts)),
	)
	return nil
}

type classifierEnvelope struct {
	Count   int             `json:"count"`
	Results json.RawMessage `json:"results"`
}

// UpdateClassifiers fetches the full classifier set in a single page and
// replaces the session's cached set.
func (s *Session) UpdateClassifiers(ctx context.Context) error {
	params := url.Values{}
	params.Set("page_size", strconv.Itoa(classifierPageSize))

	raw, _, err := s.request(ctx, "GET", classifiersPath, params, nil, true)
	if err != nil {
		return fmt.Errorf("fetching classifiers: %w", err)
	}

	var env classifierEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding classifier envelope: %w", err)
	}
	set, err := types.NewClassifierSet(env.Results)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.classifiers = set
	s.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "classifiers updated", slog.Int("count", len(set)))
	return nil
}

type ticketRequest struct {
	ClassifierID string `json:"classifier_id"`
	Description  string `json:"description"`
	Account      string `json:"account"`
	Metadata     string `json:"metadata"`
}

// CreateTicket files a support ticket against the given account. Unless
// force is set, the classifier must exist in the cached set and must be a
// leaf; both checks fail before any request is sent.
func (s *Session) CreateTicket(ctx context.Context, accountUID, classifierID, description string, force bool) (*types.Ticket, error) {
	if !force {
		s.mu.Lock()
		set := s.classifiers
		s.mu.Unlock()

		node := set.Get(classifierID)
		if node == nil {
			return nil, fmt.Errorf("classifier %q: %w", classifierID, ErrClassifierNotFound)
		}
		if set.HasChildren(node) {
			return nil, fmt.Errorf("classifier %q (%s): %w", classifierID, node.Name, ErrClassifierNotLeaf)
		}
	}

	body := ticketRequest{
		ClassifierID: classifierID,
		Description:  description,
		Account:      accountUID,
		Metadata:     s.metadata(),
	}
	raw, _, err := s.request(ctx, "POST", ticketsPath, nil, body, true)
	if err != nil {
		return nil, fmt.Errorf("creating ticket: %w", err)
	}

	ticket, err := types.NewTicket(raw)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).InfoContext(ctx, "ticket created",
		slog.String("uid", ticket.UID),
		slog.String("number", ticket.Number),
	)
	return ticket, nil
}

// metadata builds the opaque technical-context string the ticket endpoint
// expects, mirroring what the mobile client sends.
func (s *Session) metadata() string {
	return fmt.Sprintf("device=%s;platform=android;timestamp=%s",
		s.deviceID, time.Now().UTC().Format(time.RFC3339))
}

// Reading is one tariff zone's submitted value. Incremental readings are
// added to the tariff's last known value instead of replacing it.
type Reading struct {
	Value       float64
	Incremental bool
}

type readingRequest struct {
	Value      float64 `json:"value"`
	TariffType int     `json:"tariff_type"`
	Meter      string  `json:"meter"`
	ReadingUID string  `json:"meter_reading_uid"`
}

// SubmitReadings submits readings for the given meter, one entry per tariff
// zone. Every named tariff must exist on the meter; validation happens
// before any request is sent. The backend must confirm every entry with a
// created record or the whole submission is treated as failed.
func (s *Session) SubmitReadings(ctx context.Context, meterID types.Identity, readings map[int]Reading) ([]*types.MeterReading, error) {
	if len(readings) == 0 {
		return nil, fmt.Errorf("no readings given")
	}

	batch, meterUID, err := s.readingBatch(meterID, readings)
	if err != nil {
		return nil, err
	}

	raw, status, err := s.request(ctx, "POST", readingsPath, nil, batch, true)
	if err != nil {
		return nil, fmt.Errorf("submitting readings: %w", err)
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("submitting readings: unexpected status %d", status)
	}

	confirmed, err := types.NewMeterReadings(raw)
	if err != nil {
		return nil, err
	}
	if len(confirmed) != len(batch) {
		return nil, fmt.Errorf("submitted %d readings, backend confirmed %d", len(batch), len(confirmed))
	}

	log.Ctx(ctx).InfoContext(ctx, "readings submitted",
		slog.String("meter", meterUID),
		slog.Int("count", len(confirmed)),
	)
	return confirmed, nil
}

// readingBatch resolves the meter and turns the tariff-keyed readings into
// the wire batch, in ascending tariff order. It holds the session mutex so
// the last known values it reads cannot shift mid-construction.
func (s *Session) readingBatch(meterID types.Identity, readings map[int]Reading) ([]readingRequest, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		return nil, "", fmt.Errorf("no model: update before submitting readings")
	}
	meter := s.info.Meter(meterID)
	if meter == nil {
		return nil, "", fmt.Errorf("meter %s not found", meterID)
	}

	numbers := make([]int, 0, len(readings))
	for number := range readings {
		numbers = append(numbers, number)
	}
	sort.Ints(numbers)

	batch := make([]readingRequest, 0, len(readings))
	for _, number := range numbers {
		r := readings[number]
		tariff := meter.Tariff(number)
		if tariff == nil {
			return nil, "", fmt.Errorf("meter %s: tariff %d does not exist", meterID, number)
		}
		value := r.Value
		if r.Incremental {
			value = tariff.Value + r.Value
		}
		batch = append(batch, readingRequest{
			Value:      value,
			TariffType: tariff.Number,
			Meter:      meter.UID,
			ReadingUID: meter.UID + strconv.Itoa(tariff.Number),
		})
	}
	return batch, meter.UID, nil
}
