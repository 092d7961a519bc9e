package webui

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solmwa/mwanode/db"
	"github.com/solmwa/mwanode/session"
	"github.com/solmwa/mwanode/websocket"
)

// StatusProvider supplies live node state to the handlers. The daemon's
// node type implements it.
type StatusProvider interface {
	// StartTime is when the node started.
	StartTime() time.Time

	// AssociationURI is the current pairing URI, empty when no listener is
	// up.
	AssociationURI() string

	// SessionState is the lifecycle state of the current session, empty
	// when none exists.
	SessionState() string

	// SessionStats returns request accounting for the current session.
	SessionStats() session.TrackerStats

	// TransportStats returns frame-level counters for the current session.
	TransportStats() websocket.Stats

	// Authorizations lists persisted authorization grants.
	Authorizations() ([]*db.Authorization, error)
}

// StatusHandler answers the JSON endpoints.
type StatusHandler struct {
	provider StatusProvider
	logger   logrus.FieldLogger
}

// NewStatusHandler creates a handler on top of a provider.
func NewStatusHandler(provider StatusProvider, logger logrus.FieldLogger) *StatusHandler {
	return &StatusHandler{
		provider: provider,
		logger:   logger.WithField("module", "webui"),
	}
}

// OverviewData is the /api/status payload.
type OverviewData struct {
	Status         string    `json:"status"`
	StartTime      time.Time `json:"start_time"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	AssociationURI string    `json:"association_uri,omitempty"`
	SessionState   string    `json:"session_state,omitempty"`
}

// Overview answers / and /api/status.
func (h *StatusHandler) Overview(w http.ResponseWriter, r *http.Request) {
	start := h.provider.StartTime()
	h.writeJSON(w, &OverviewData{
		Status:         "running",
		StartTime:      start,
		UptimeSeconds:  int64(time.Since(start).Seconds()),
		AssociationURI: h.provider.AssociationURI(),
		SessionState:   h.provider.SessionState(),
	})
}

// SessionData is the /api/session payload.
type SessionData struct {
	State     string               `json:"state"`
	Requests  session.TrackerStats `json:"requests"`
	Transport websocket.Stats      `json:"transport"`
}

// Session answers /api/session.
func (h *StatusHandler) Session(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, &SessionData{
		State:     h.provider.SessionState(),
		Requests:  h.provider.SessionStats(),
		Transport: h.provider.TransportStats(),
	})
}

// AuthorizationData is one row of the /api/authorizations payload.
type AuthorizationData struct {
	AuthToken    string `json:"auth_token"`
	IdentityName string `json:"identity_name"`
	IdentityURI  string `json:"identity_uri,omitempty"`
	Cluster      string `json:"cluster,omitempty"`
	Account      string `json:"account"`
	IssuedAt     int64  `json:"issued_at"`
	LastUsed     *int64 `json:"last_used,omitempty"`
	RevokedAt    *int64 `json:"revoked_at,omitempty"`
}

// Authorizations answers /api/authorizations.
func (h *StatusHandler) Authorizations(w http.ResponseWriter, r *http.Request) {
	auths, err := h.provider.Authorizations()
	if err != nil {
		h.logger.WithError(err).Error("authorization listing failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]*AuthorizationData, 0, len(auths))
	for _, auth := range auths {
		row := &AuthorizationData{
			AuthToken:    auth.AuthToken,
			IdentityName: auth.IdentityName,
			IdentityURI:  auth.IdentityURI,
			Cluster:      auth.Cluster,
			Account:      auth.AccountBase58,
			IssuedAt:     auth.IssuedAt,
		}
		if auth.LastUsed.Valid {
			row.LastUsed = &auth.LastUsed.Int64
		}
		if auth.RevokedAt.Valid {
			row.RevokedAt = &auth.RevokedAt.Int64
		}
		out = append(out, row)
	}
	h.writeJSON(w, out)
}

func (h *StatusHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Error("response encoding failed")
	}
}
