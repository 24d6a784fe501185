// Package hass publishes the model as Home Assistant sensor states over its
// REST API. The bridge is optional: without a configured URL and token it is
// disabled and publishing is a no-op.
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/alryaz/hass-pik-comfort/pkg/log"
	"github.com/alryaz/hass-pik-comfort/pkg/types"
)

// Bridge renders the model into entity states and pushes them to a Home
// Assistant instance.
type Bridge struct {
	client  *http.Client
	baseURL string
	token   string
}

// New creates a bridge pointed at the given Home Assistant instance. Empty
// baseURL disables the bridge.
func New(baseURL, token string) *Bridge {
	return &Bridge{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		token:   token,
	}
}

// Configured sets up flags for the bridge and returns the instance.
// It uses lflag to register command-line flags for configuration.
func Configured() *Bridge {
	b := New("", "")
	baseURL := lflag.String("hass-url", "", "Base URL of the Home Assistant instance (empty disables the bridge)")
	token := lflag.String("hass-token", "", "Long-lived access token for the Home Assistant REST API")

	lflag.Do(func() {
		b.baseURL = *baseURL
		b.token = *token
	})

	return b
}

// Enabled reports whether the bridge has somewhere to publish to.
func (b *Bridge) Enabled() bool { return b.baseURL != "" }

// Source yields the model root under its owner's lock, so rendering never
// observes a half-applied reconciliation. pik.Session satisfies this via
// WithInfo.
type Source interface {
	WithInfo(func(*types.Info))
}

// entityState is the payload of POST /api/states/<entity_id>.
type entityState struct {
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes"`
}

// entity pairs an entity id with the state to publish under it.
type entity struct {
	ID    string
	State entityState
}

// slug normalizes an identifier into the [a-z0-9_] alphabet entity ids use.
func slug(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// renderEntities flattens the model into the sensor set the bridge exposes:
// per-account debt, last payment and last receipt, per-meter tariff values,
// and per-ticket status.
func renderEntities(info *types.Info) []entity {
	var entities []entity
	for _, acc := range info.Accounts {
		accSlug := slug(acc.UID)

		entities = append(entities, entity{
			ID: "sensor.pik_account_" + accSlug + "_debt",
			State: entityState{
				State: formatFloat(acc.Debt),
				Attributes: map[string]interface{}{
					"friendly_name":       "Account debt",
					"unit_of_measurement": "RUB",
					"device_class":        "monetary",
					"address":             acc.Address,
				},
			},
		})

		if p := acc.LastPayment(); p != nil {
			entities = append(entities, entity{
				ID: "sensor.pik_account_" + accSlug + "_last_payment",
				State: entityState{
					State: formatFloat(p.Amount),
					Attributes: map[string]interface{}{
						"friendly_name":       "Last payment",
						"unit_of_measurement": "RUB",
						"device_class":        "monetary",
						"status":              p.Status().String(),
						"paid_at":             p.Timestamp.Format(time.RFC3339),
						"source":              p.SourceName,
					},
				},
			})
		}

		if r := acc.LastReceipt(); r != nil {
			entities = append(entities, entity{
				ID: "sensor.pik_account_" + accSlug + "_last_receipt",
				State: entityState{
					State: formatFloat(r.Total),
					Attributes: map[string]interface{}{
						"friendly_name":       "Last receipt",
						"unit_of_measurement": "RUB",
						"device_class":        "monetary",
						"period":              r.Period.Format("2006-01"),
						"paid":                r.Payment,
					},
				},
			})
		}

		for _, m := range acc.Meters {
			meterSlug := slug(m.UID)
			for _, tr := range m.Tariffs {
				entities = append(entities, entity{
					ID: fmt.Sprintf("sensor.pik_meter_%s_tariff_%d", meterSlug, tr.Number),
					State: entityState{
						State: formatFloat(tr.Value),
						Attributes: map[string]interface{}{
							"friendly_name":       fmt.Sprintf("Meter %s tariff %d", m.FactoryNumber, tr.Number),
							"unit_of_measurement": m.UnitName,
							"resource":            m.ResourceType().String(),
						},
					},
				})
			}
		}

		for _, tick := range acc.Tickets {
			entities = append(entities, entity{
				ID: "sensor.pik_ticket_" + slug(tick.UID),
				State: entityState{
					State: tick.Status().String(),
					Attributes: map[string]interface{}{
						"friendly_name": "Ticket " + tick.Number,
						"description":   tick.Description,
						"updated":       tick.Updated.Format(time.RFC3339),
					},
				},
			})
		}
	}
	return entities
}

// Publish renders the model and pushes every entity state. Rendering happens
// inside src.WithInfo so the walk is synchronized with reconciliation; the
// HTTP posts run outside it. Disabled bridges, nil sources and nil models are
// no-ops. Individual entity failures don't stop the rest; the first failure
// is returned after the full pass.
func (b *Bridge) Publish(ctx context.Context, src Source) error {
	if !b.Enabled() || src == nil {
		return nil
	}

	var entities []entity
	src.WithInfo(func(info *types.Info) {
		if info == nil {
			return
		}
		entities = renderEntities(info)
	})

	var firstErr error
	for _, e := range entities {
		if err := b.postState(ctx, e); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to publish entity",
				slog.String("entity", e.ID),
				slog.Any("error", err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "published entities", slog.Int("count", len(entities)))
	return firstErr
}

func (b *Bridge) postState(ctx context.Context, e entity) error {
	u, err := url.JoinPath(b.baseURL, "api", "states", e.ID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(e.State)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.token)

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
