package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/alryaz/hass-pik-comfort/pkg/pik"
	"github.com/alryaz/hass-pik-comfort/pkg/types"
)

type readingEntry struct {
	Value       float64 `json:"value"`
	Incremental bool    `json:"incremental"`
}

type submitReadingsBody struct {
	Phone    string                  `json:"phone"`
	Readings map[string]readingEntry `json:"readings"`
}

type readingView struct {
	UID    string    `json:"uid"`
	Tariff int       `json:"tariff"`
	Value  float64   `json:"value"`
	Date   time.Time `json:"date"`
}

func (s *Server) handleSubmitReadings(w http.ResponseWriter, r *http.Request) {
	var body submitReadingsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(body.Readings) == 0 {
		writeJSONError(w, "readings are required", http.StatusBadRequest)
		return
	}

	// tariff zones arrive as JSON object keys
	readings := make(map[int]pik.Reading, len(body.Readings))
	for key, entry := range body.Readings {
		number, err := strconv.Atoi(key)
		if err != nil {
			writeJSONError(w, "invalid tariff number: "+key, http.StatusBadRequest)
			return
		}
		readings[number] = pik.Reading{Value: entry.Value, Incremental: entry.Incremental}
	}

	sess, err := s.session(body.Phone)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	meterID := types.Identity{UID: r.PathValue("id"), Type: "meter"}
	confirmed, err := sess.SubmitReadings(r.Context(), meterID, readings)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	views := make([]readingView, 0, len(confirmed))
	for _, c := range confirmed {
		views = append(views, readingView{
			UID:    c.UID,
			Tariff: c.TariffType,
			Value:  c.Value,
			Date:   c.Date,
		})
	}
	writeJSON(w, views)
}
