package server

import (
	"net/http"
	"time"

	"github.com/alryaz/hass-pik-comfort/pkg/types"
)

type tariffView struct {
	Type  int     `json:"type"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

type meterView struct {
	UID           string       `json:"uid"`
	FactoryNumber string       `json:"factory_number"`
	Resource      string       `json:"resource"`
	Tariffs       []tariffView `json:"tariffs"`
}

type paymentView struct {
	UID       string    `json:"uid"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

type receiptView struct {
	Type   string    `json:"type"`
	Period time.Time `json:"period"`
	Total  float64   `json:"total"`
	Paid   float64   `json:"paid"`
}

type ticketView struct {
	UID         string    `json:"uid"`
	Number      string    `json:"number"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	Updated     time.Time `json:"updated"`
}

type accountView struct {
	UID         string       `json:"uid"`
	Number      string       `json:"number,omitempty"`
	Address     string       `json:"address"`
	Debt        float64      `json:"debt"`
	LastPayment *paymentView `json:"last_payment,omitempty"`
	LastReceipt *receiptView `json:"last_receipt,omitempty"`
	Meters      []meterView  `json:"meters"`
	Tickets     []ticketView `json:"tickets"`
}

type infoView struct {
	Phone     string        `json:"phone"`
	FirstName string        `json:"first_name"`
	LastName  string        `json:"last_name"`
	Accounts  []accountView `json:"accounts"`
}

func renderInfo(info *types.Info) infoView {
	v := infoView{
		Phone:     info.Phone,
		FirstName: info.FirstName,
		LastName:  info.LastName,
		Accounts:  make([]accountView, 0, len(info.Accounts)),
	}
	for _, acc := range info.Accounts {
		v.Accounts = append(v.Accounts, renderAccount(acc))
	}
	return v
}

func renderAccount(acc *types.Account) accountView {
	av := accountView{
		UID:     acc.UID,
		Address: acc.Address,
		Debt:    acc.Debt,
		Meters:  make([]meterView, 0, len(acc.Meters)),
		Tickets: make([]ticketView, 0, len(acc.Tickets)),
	}
	if acc.Number != nil {
		av.Number = *acc.Number
	}
	if p := acc.LastPayment(); p != nil {
		av.LastPayment = &paymentView{
			UID:       p.UID,
			Amount:    p.Amount,
			Status:    p.Status().String(),
			Timestamp: p.Timestamp,
			Source:    p.SourceName,
		}
	}
	if r := acc.LastReceipt(); r != nil {
		av.LastReceipt = &receiptView{
			Type:   r.Type,
			Period: r.Period,
			Total:  r.Total,
			Paid:   r.Payment,
		}
	}
	for _, m := range acc.Meters {
		mv := meterView{
			UID:           m.UID,
			FactoryNumber: m.FactoryNumber,
			Resource:      m.ResourceType().String(),
			Tariffs:       make([]tariffView, 0, len(m.Tariffs)),
		}
		for _, t := range m.Tariffs {
			mv.Tariffs = append(mv.Tariffs, tariffView{
				Type:  t.Number,
				Value: t.Value,
				Unit:  m.UnitName,
			})
		}
		av.Meters = append(av.Meters, mv)
	}
	for _, t := range acc.Tickets {
		av.Tickets = append(av.Tickets, ticketView{
			UID:         t.UID,
			Number:      t.Number,
			Status:      t.Status().String(),
			Description: t.Description,
			Updated:     t.Updated,
		})
	}
	return av
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.URL.Query().Get("phone"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	// render under the session lock so a concurrent refresh cannot
	// reconcile the graph mid-walk
	var view *infoView
	sess.WithInfo(func(info *types.Info) {
		if info == nil {
			return
		}
		v := renderInfo(info)
		view = &v
	})
	if view == nil {
		writeJSONError(w, "no data yet, refresh first", http.StatusNotFound)
		return
	}
	writeJSON(w, *view)
}
