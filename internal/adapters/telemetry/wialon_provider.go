// Package telemetry adapts upstream GPS platforms to ports.TelemetryProvider.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/platform/obs"
	"fleet-route-service/internal/ports"
)

// Search flags: base unit info plus last known position.
const unitSearchFlags = 1025

// Session holds the Wialon session id obtained from token/login.
// It is safe for concurrent use.
type Session struct {
	mu  sync.Mutex
	eid string
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eid
}

func (s *Session) set(eid string) {
	s.mu.Lock()
	s.eid = eid
	s.mu.Unlock()
}

// invalidate clears the session only if it still holds eid, so a session
// renewed by another caller is kept.
func (s *Session) invalidate(eid string) {
	s.mu.Lock()
	if s.eid == eid {
		s.eid = ""
	}
	s.mu.Unlock()
}

// WialonProvider implements TelemetryProvider over the Wialon Remote API.
// The provider is safe for concurrent use.
type WialonProvider struct {
	client      *http.Client
	apiURL      string
	token       string
	session     *Session
	loginMu     sync.Mutex
	maxAttempts int
	backoff     time.Duration
}

func NewWialonProvider(apiURL, token string) (*WialonProvider, error) {
	if apiURL == "" {
		return nil, errors.New("wialon api url is empty")
	}
	if token == "" {
		return nil, errors.New("wialon token is empty")
	}

	return &WialonProvider{
		client:      &http.Client{Timeout: 10 * time.Second},
		apiURL:      apiURL,
		token:       token,
		session:     &Session{},
		maxAttempts: 4,
		backoff:     200 * time.Millisecond,
	}, nil
}

func (w *WialonProvider) Session() *Session { return w.session }

// ensureSession returns the current session id, logging in when there is none.
func (w *WialonProvider) ensureSession(ctx context.Context) (string, error) {
	if eid := w.session.ID(); eid != "" {
		return eid, nil
	}

	w.loginMu.Lock()
	defer w.loginMu.Unlock()

	if eid := w.session.ID(); eid != "" {
		return eid, nil
	}

	var reply struct {
		EID string `json:"eid"`
	}
	if err := w.call(ctx, "token/login", map[string]string{"token": w.token}, "", &reply); err != nil {
		return "", fmt.Errorf("wialon login: %w", err)
	}
	if reply.EID == "" {
		return "", errors.New("wialon login: empty session id")
	}

	w.session.set(reply.EID)
	log.Printf("wialon session opened")
	return reply.EID, nil
}

// callWithSession runs svc inside a session, logging in again once when the
// session has expired.
func (w *WialonProvider) callWithSession(ctx context.Context, svc string, params any, out any) error {
	for attempt := 0; ; attempt++ {
		eid, err := w.ensureSession(ctx)
		if err != nil {
			return err
		}

		err = w.call(ctx, svc, params, eid, out)
		if attempt == 0 && isInvalidSession(err) {
			log.Printf("wialon session expired svc=%s, renewing", svc)
			w.session.invalidate(eid)
			continue
		}
		return err
	}
}

// Logout closes the current session, if any.
func (w *WialonProvider) Logout(ctx context.Context) error {
	eid := w.session.ID()
	if eid == "" {
		return nil
	}
	w.session.invalidate(eid)
	if err := w.call(ctx, "core/logout", map[string]any{}, eid, nil); err != nil {
		return fmt.Errorf("wialon logout: %w", err)
	}
	return nil
}

type wialonPosition struct {
	X  float64        `json:"x"`
	Y  float64        `json:"y"`
	Z  float64        `json:"z"`
	S  float64        `json:"s"`
	C  float64        `json:"c"`
	SC int            `json:"sc"`
	T  int64          `json:"t"`
	P  map[string]any `json:"p"`
}

type wialonUnit struct {
	ID     int64           `json:"id"`
	Name   string          `json:"nm"`
	UID    string          `json:"uid"`
	Phone  string          `json:"ph"`
	Pos    *wialonPosition `json:"pos"`
	Fields map[string]any  `json:"pflds"`
}

func (w *WialonProvider) FetchLiveUnits(ctx context.Context) (_ []ports.LiveUnit, err error) {
	defer obs.Time(ctx, "wialon.FetchLiveUnits")(&err)

	params := map[string]any{
		"spec": map[string]any{
			"itemsType":     "avl_unit",
			"propName":      "sys_name",
			"propValueMask": "*",
			"sortType":      "sys_name",
		},
		"force": 1,
		"flags": unitSearchFlags,
		"from":  0,
		"to":    0,
	}

	var reply struct {
		Items []wialonUnit `json:"items"`
	}
	if err := w.callWithSession(ctx, "core/search_items", params, &reply); err != nil {
		return nil, fmt.Errorf("fetch live units: %w", err)
	}

	units := make([]ports.LiveUnit, 0, len(reply.Items))
	for _, it := range reply.Items {
		units = append(units, toLiveUnit(it))
	}
	return units, nil
}

func toLiveUnit(it wialonUnit) ports.LiveUnit {
	u := ports.LiveUnit{
		ExternalID: it.ID,
		Name:       it.Name,
		Fields:     make(map[string]string, len(it.Fields)+2),
	}
	for k, v := range it.Fields {
		u.Fields[k] = fieldString(v)
	}
	if it.UID != "" {
		u.Fields["device_type"] = it.UID
	}
	if it.Phone != "" {
		u.Fields["phone_number"] = it.Phone
	}

	if it.Pos != nil {
		u.HasPosition = true
		u.Coordinate = domain.Coordinate{Lat: it.Pos.Y, Lon: it.Pos.X}
		u.SpeedKmh = it.Pos.S
		u.Course = it.Pos.C
		u.AltitudeM = it.Pos.Z
		u.Satellites = it.Pos.SC
		u.TimestampUnix = it.Pos.T
		u.Sensors = it.Pos.P
	}
	return u
}

func fieldString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
