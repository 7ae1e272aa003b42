// Package groundapi exposes a small JWT-guarded HTTP console for
// ground operations: status, arm, abort, reset. Modeled on the
// teacher's cmd/valkyrie/main.go HTTP handler shape, wired to
// github.com/golang-jwt/jwt/v5 — a dependency the teacher's own go.mod
// carried but never exercised.
package groundapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/corvus-rocketry/avionics-core/internal/control"
	"github.com/corvus-rocketry/avionics-core/internal/estimator"
	"github.com/corvus-rocketry/avionics-core/internal/phase"
)

// Claims is the minimal ground-ops JWT payload: an operator identity
// plus the standard registered claims.
type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// Server serves the ground-ops console.
type Server struct {
	phases *phase.Registry
	flags  *control.Flags
	hb     *control.HeartbeatTimer
	state  func() estimator.State
	secret []byte
	logger *logrus.Logger
}

// New creates a ground-ops console server. secret signs and verifies
// bearer tokens; stateFn reports the parachute controller's current
// altitude estimate for the status endpoint.
func New(phases *phase.Registry, flags *control.Flags, hb *control.HeartbeatTimer, stateFn func() estimator.State, secret []byte, logger *logrus.Logger) *Server {
	return &Server{phases: phases, flags: flags, hb: hb, state: stateFn, secret: secret, logger: logger}
}

// IssueToken mints a bearer token for operator, valid for ttl. Used by
// the ground station's own login flow, out of scope here but needed so
// tests can produce a valid token.
func (s *Server) IssueToken(operator string, ttl time.Duration) (string, error) {
	claims := Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Mux builds the HTTP handler tree for the console.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/api/v1/status", s.authenticated(s.statusHandler))
	mux.HandleFunc("/api/v1/arm", s.authenticated(s.armHandler))
	mux.HandleFunc("/api/v1/abort", s.authenticated(s.abortHandler))
	mux.HandleFunc("/api/v1/reset", s.authenticated(s.resetHandler))
	return mux
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// authenticated wraps handler, rejecting requests without a valid
// bearer token.
func (s *Server) authenticated(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.verify(r)
		if err != nil {
			if s.logger != nil {
				s.logger.WithError(err).Warn("ground console auth rejected")
			}
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		if s.logger != nil {
			s.logger.WithField("operator", claims.Operator).Debug("ground console request authenticated")
		}
		handler(w, r)
	}
}

func (s *Server) verify(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errors.New("missing bearer token")
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	current := s.state()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"phase":                  s.phases.Current().String(),
		"altitude_m":             current.Altitude,
		"velocity_m_s":           current.Velocity,
		"acceleration_m_s2":      current.Acceleration,
		"heartbeat_remaining_ms": s.hb.Remaining().Milliseconds(),
	})
}

func (s *Server) armHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.phases.Current() == phase.Prelaunch {
		s.phases.Transition(phase.Arm)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"phase": s.phases.Current().String()})
}

func (s *Server) abortHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.flags.SetAbort()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "abort_latched"})
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.flags.SetReset()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "reset_latched"})
}
