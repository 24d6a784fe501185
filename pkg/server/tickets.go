package server

import (
	"encoding/json"
	"net/http"

	"github.com/alryaz/hass-pik-comfort/pkg/pik"
	"github.com/alryaz/hass-pik-comfort/pkg/types"
)

type classifierView struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	IsLeaf   bool   `json:"is_leaf"`
}

func renderClassifiers(set types.ClassifierSet) []classifierView {
	views := make([]classifierView, 0, len(set))
	for _, c := range set {
		views = append(views, classifierView{
			UID:      c.UID,
			Name:     c.Name,
			ParentID: c.ParentID,
			IsLeaf:   !set.HasChildren(c),
		})
	}
	return views
}

// classifiers returns the session's classifier set, fetching it from the
// backend on first use.
func (s *Server) classifiers(r *http.Request, sess *pik.Session) (types.ClassifierSet, error) {
	set := sess.Classifiers()
	if set == nil {
		if err := sess.UpdateClassifiers(r.Context()); err != nil {
			return nil, err
		}
		set = sess.Classifiers()
	}
	return set, nil
}

func (s *Server) handleListClassifiers(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.URL.Query().Get("phone"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	set, err := s.classifiers(r, sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, renderClassifiers(set))
}

func (s *Server) handleClassifierPath(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.URL.Query().Get("phone"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	set, err := s.classifiers(r, sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	node := set.Get(r.PathValue("id"))
	if node == nil {
		writeJSONError(w, "classifier not found", http.StatusNotFound)
		return
	}

	path, err := set.PathFromRoot(node)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]classifierView, 0, len(path))
	for _, c := range path {
		views = append(views, classifierView{
			UID:      c.UID,
			Name:     c.Name,
			ParentID: c.ParentID,
			IsLeaf:   !set.HasChildren(c),
		})
	}
	writeJSON(w, views)
}

type createTicketBody struct {
	Phone       string `json:"phone"`
	Account     string `json:"account"`
	Classifier  string `json:"classifier"`
	Description string `json:"description"`
	Force       bool   `json:"force"`
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var body createTicketBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Account == "" || body.Classifier == "" || body.Description == "" {
		writeJSONError(w, "account, classifier and description are required", http.StatusBadRequest)
		return
	}

	sess, err := s.session(body.Phone)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ticket, err := sess.CreateTicket(r.Context(), body.Account, body.Classifier, body.Description, body.Force)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, ticketView{
		UID:         ticket.UID,
		Number:      ticket.Number,
		Status:      ticket.Status().String(),
		Description: ticket.Description,
		Updated:     ticket.Updated,
	})
}
