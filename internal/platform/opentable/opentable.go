// Package opentable implements the reservation.Adapter capability for
// OpenTable, re-slicing the teacher's GraphQL/dapi flow
// (internal/infrastructure/opentable/opentable.go) across
// ResolveVenue/TryBook/SubscribeNotify. Per spec §1, the production
// OpenTable integration is headless-browser-driven; this adapter implements
// the coexisting GraphQL/dapi path the teacher captured, swappable behind
// the same reservation.Adapter interface for a browser-driven replacement.
package opentable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/reservation-agent/internal/domain/reservation"
)

const (
	defaultBaseURL = "https://www.opentable.com/dapi"
	defaultUA      = "Mozilla/5.0 (X11; Linux x86_64) reservation-agent/1.0"
)

type Credentials struct {
	Token              string
	PersistedQuerySHA256 string
}

type Adapter struct {
	hc    *http.Client
	creds Credentials
	base  string
	ua    string
}

func New(creds Credentials) *Adapter {
	return &Adapter{
		hc:    &http.Client{Timeout: 20 * time.Second},
		creds: creds,
		base:  strings.TrimRight(defaultBaseURL, "/"),
		ua:    defaultUA,
	}
}

var _ reservation.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() reservation.Platform { return reservation.PlatformOpenTable }

type restaurantSearchResult struct {
	ID   string `json:"restaurantId"`
	Name string `json:"name"`
}

// ResolveVenue queries OpenTable's restaurant search graphQL operation for
// a venue id matching restaurantName.
func (a *Adapter) ResolveVenue(ctx context.Context, restaurantName string) (string, error) {
	payload := map[string]any{
		"operationName": "RestaurantsSearch",
		"variables": map[string]any{
			"term": restaurantName,
		},
	}
	body, status, err := a.post(ctx, "/fe/gql?optype=query&opname=RestaurantsSearch", payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", reservation.ErrTransport, err)
	}
	if status == 401 || status == 403 {
		return "", reservation.ErrAuthExpired
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("%w: opentable search http %d", reservation.ErrTransport, status)
	}
	var parsed struct {
		Data struct {
			Search struct {
				Restaurants []restaurantSearchResult `json:"restaurants"`
			} `json:"restaurantsAvailability"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: parse search: %v", reservation.ErrTransport, err)
	}
	if len(parsed.Data.Search.Restaurants) == 0 {
		return "", reservation.ErrNotFound
	}
	return parsed.Data.Search.Restaurants[0].ID, nil
}

type availabilitySlot struct {
	IsAvailable           bool   `json:"isAvailable"`
	ReservationDateTime   string `json:"reservationDateTime"`
	SlotAvailabilityToken string `json:"slotAvailabilityToken"`
	SlotHash              string `json:"slotHash"`
}

// TryBook mirrors the teacher's RestaurantsAvailability query + make-
// reservation POST, re-sliced into the TryBook shape: find slots, select
// the closest one to timePreferred, attempt to book it.
func (a *Adapter) TryBook(ctx context.Context, venueID, date, timePreferred string, partySize int) (reservation.BookResult, error) {
	slots, err := a.fetchSlots(ctx, venueID, date, partySize)
	if err != nil {
		return errResult(err), nil
	}
	if len(slots) == 0 {
		return reservation.BookResult{Outcome: reservation.OutcomeNoAvailability}, nil
	}

	preferred, perr := time.Parse("15:04", timePreferred)
	if perr != nil {
		preferred = time.Time{}
	}
	candidates := make([]reservation.Slot, 0, len(slots))
	bySlot := make(map[time.Time]availabilitySlot, len(slots))
	for _, s := range slots {
		if !s.IsAvailable {
			continue
		}
		t, err := parseReservationDateTime(s.ReservationDateTime)
		if err != nil {
			continue
		}
		candidates = append(candidates, reservation.Slot{Start: t})
		bySlot[t] = s
	}
	chosen, ok := reservation.ChooseClosestSlot(preferred, candidates)
	if !ok {
		return reservation.BookResult{Outcome: reservation.OutcomeNoAvailability}, nil
	}
	chosenSlot := bySlot[chosen.Start]

	confirmationID, raw, err := a.bookSlot(ctx, venueID, partySize, chosen.Start, chosenSlot)
	if err != nil {
		return errResult(err), nil
	}
	return reservation.BookResult{
		Outcome:        reservation.OutcomeBooked,
		ConfirmationID: confirmationID,
		BookedTime:     chosen.Start.Format("15:04"),
		Raw:            raw,
	}, nil
}

// SubscribeNotify is a best-effort placeholder: OpenTable's public
// dapi surface has no standing-alert endpoint comparable to Resy's
// notify-me, so this reports ok=false without erroring — the Orchestrator
// treats that as "subscription attempted, platform declined" (spec §4.3).
func (a *Adapter) SubscribeNotify(ctx context.Context, venueID, date, timePreferred string, partySize int) (bool, error) {
	return false, nil
}

func (a *Adapter) fetchSlots(ctx context.Context, venueID, date string, partySize int) ([]availabilitySlot, error) {
	payload := map[string]any{
		"operationName": "RestaurantsAvailability",
		"variables": map[string]any{
			"restaurantIds": []string{venueID},
			"partySize":     partySize,
			"dateTime":      date + "T19:00:00.000",
			"forwardDays":   1,
			"includeOffers": true,
		},
		"extensions": map[string]any{
			"persistedQuery": map[string]any{
				"version":    1,
				"sha256Hash": a.creds.PersistedQuerySHA256,
			},
		},
	}
	body, status, err := a.post(ctx, "/fe/gql?optype=query&opname=RestaurantsAvailability", payload)
	if err != nil {
		return nil, err
	}
	if status == 401 || status == 403 {
		return nil, reservation.ErrAuthExpired
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("opentable availability http %d", status)
	}
	var parsed struct {
		Data struct {
			Availability []struct {
				AvailabilityDays []struct {
					Slots []availabilitySlot `json:"slots"`
				} `json:"availabilityDays"`
			} `json:"availability"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse availability: %w", err)
	}
	var out []availabilitySlot
	for _, a := range parsed.Data.Availability {
		for _, d := range a.AvailabilityDays {
			out = append(out, d.Slots...)
		}
	}
	return out, nil
}

func (a *Adapter) bookSlot(ctx context.Context, venueID string, partySize int, start time.Time, s availabilitySlot) (string, string, error) {
	if s.SlotAvailabilityToken == "" || s.SlotHash == "" {
		return "", "", fmt.Errorf("slot missing availability token/hash")
	}
	payload := map[string]any{
		"restaurantId":          venueID,
		"partySize":             partySize,
		"reservationDateTime":   start.Format(time.RFC3339),
		"slotAvailabilityToken": s.SlotAvailabilityToken,
		"slotHash":              s.SlotHash,
	}
	body, status, err := a.post(ctx, "/booking/make-reservation", payload)
	if err != nil {
		return "", "", err
	}
	if status == 401 || status == 403 {
		return "", "", reservation.ErrAuthExpired
	}
	if status < 200 || status >= 300 {
		return "", "", fmt.Errorf("opentable book http %d: %s", status, string(body))
	}
	var resp struct {
		ReservationID string `json:"reservationId"`
	}
	_ = json.Unmarshal(body, &resp)
	return resp.ReservationID, string(body), nil
}

func (a *Adapter) post(ctx context.Context, path string, payload map[string]any) ([]byte, int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("user-agent", a.ua)
	req.Header.Set("x-csrf-token", a.creds.Token)

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func parseReservationDateTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func errResult(err error) reservation.BookResult {
	if err == reservation.ErrAuthExpired {
		return reservation.BookResult{Outcome: reservation.OutcomeAuthExpired, Err: err}
	}
	return reservation.BookResult{Outcome: reservation.OutcomeTransportError, Err: err}
}
