// Package resy implements the reservation.Adapter capability for Resy,
// re-slicing the teacher's internal/resy/client.go request flow (ping,
// /4/find, /3/details, /3/book, the exact header set) across
// ResolveVenue/TryBook/SubscribeNotify instead of a single Book call.
package resy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/example/reservation-agent/internal/domain/reservation"
)

type Credentials struct {
	APIKey    string
	AuthToken string
}

type Adapter struct {
	hc    *http.Client
	creds Credentials
}

func New(creds Credentials) *Adapter {
	return &Adapter{
		hc:    &http.Client{Timeout: 10 * time.Second},
		creds: creds,
	}
}

var _ reservation.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() reservation.Platform { return reservation.PlatformResy }

type searchResult struct {
	VenueID string `json:"id"`
	Name    string `json:"name"`
}

// ResolveVenue hits the same search surface resy-cli's `find` flow walks,
// trimmed to the venue-id lookup this adapter needs (spec §4.2: "a pure
// lookup, no side effect").
func (a *Adapter) ResolveVenue(ctx context.Context, restaurantName string) (string, error) {
	params := map[string]string{"query": restaurantName}
	_, status, body, err := a.do(ctx, http.MethodGet, "https://api.resy.com/3/venuesearch/search", "", params, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", reservation.ErrTransport, err)
	}
	if status == 401 || status == 403 {
		return "", reservation.ErrAuthExpired
	}
	if status >= 400 {
		return "", fmt.Errorf("%w: resy venuesearch status=%d", reservation.ErrTransport, status)
	}
	var res struct {
		Search struct {
			Hits []searchResult `json:"hits"`
		} `json:"search"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("%w: parse venuesearch: %v", reservation.ErrTransport, err)
	}
	if len(res.Search.Hits) == 0 {
		return "", reservation.ErrNotFound
	}
	return res.Search.Hits[0].VenueID, nil
}

type slot struct {
	Date struct {
		Start string `json:"start"`
	} `json:"date"`
	Config struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	} `json:"config"`
}

type findResponse struct {
	Results struct {
		Venues []struct {
			Slots []slot `json:"slots"`
		} `json:"venues"`
	} `json:"results"`
}

// TryBook finds the venue's slots for the date, selects the closest one to
// timePreferred via reservation.ChooseClosestSlot, and attempts to book it
// (spec §4.2 "Slot selection inside TryBook").
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
	bySlot := make(map[time.Time]slot, len(slots))
	for _, s := range slots {
		t, ok := parseSlotStart(s.Date.Start)
		if !ok {
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

	confirmationID, raw, err := a.bookSlot(ctx, venueID, date, partySize, chosenSlot)
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

// SubscribeNotify registers Resy's notify-me alert for the venue/date/party,
// modeled on the same request-building helpers as fetchSlots.
func (a *Adapter) SubscribeNotify(ctx context.Context, venueID, date, timePreferred string, partySize int) (bool, error) {
	form := url.Values{}
	form.Set("venue_id", venueID)
	form.Set("day", date)
	form.Set("party_size", strconv.Itoa(partySize))
	_, status, _, err := a.do(ctx, http.MethodPost, "https://api.resy.com/3/notify", "application/x-www-form-urlencoded", nil, []byte(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("%w: %v", reservation.ErrTransport, err)
	}
	if status == 401 || status == 403 {
		return false, reservation.ErrAuthExpired
	}
	if status >= 400 {
		log.Warn().Int("status", status).Str("venue_id", venueID).Msg("resy notify subscription rejected")
		return false, nil
	}
	return true, nil
}

func (a *Adapter) fetchSlots(ctx context.Context, venueID, date string, partySize int) ([]slot, error) {
	params := map[string]string{
		"party_size": strconv.Itoa(partySize),
		"venue_id":   venueID,
		"day":        date,
		"lat":        "0",
		"long":       "0",
	}
	_, status, body, err := a.do(ctx, http.MethodGet, "https://api.resy.com/4/find", "", params, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", reservation.ErrTransport, err)
	}
	if status == 401 || status == 403 {
		return nil, reservation.ErrAuthExpired
	}
	if status != 200 {
		return nil, fmt.Errorf("%w: resy find status=%d", reservation.ErrTransport, status)
	}
	var res findResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: parse find: %v", reservation.ErrTransport, err)
	}
	if len(res.Results.Venues) == 0 {
		return nil, nil
	}
	return res.Results.Venues[0].Slots, nil
}

type bookingConfig struct {
	ConfigId  string `json:"config_id"`
	Day       string `json:"day"`
	PartySize int64  `json:"party_size"`
}

type detailsResponse struct {
	BookToken struct {
		Value string `json:"value"`
	} `json:"book_token"`
	User struct {
		PaymentMethods []struct {
			ID int64 `json:"id"`
		} `json:"payment_methods"`
	} `json:"user"`
}

func (a *Adapter) bookSlot(ctx context.Context, venueID, date string, partySize int, s slot) (string, string, error) {
	bc := bookingConfig{ConfigId: s.Config.Token, Day: date, PartySize: int64(partySize)}
	jb, _ := json.Marshal(bc)
	_, status, body, err := a.do(ctx, http.MethodPost, "https://api.resy.com/3/details", "application/json", nil, jb)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", reservation.ErrTransport, err)
	}
	if status == 401 || status == 403 {
		return "", "", reservation.ErrAuthExpired
	}
	if status >= 400 || body == nil {
		return "", "", fmt.Errorf("%w: resy details status=%d", reservation.ErrTransport, status)
	}
	var details detailsResponse
	_ = json.Unmarshal(body, &details)

	form := fmt.Sprintf("book_token=%s", url.QueryEscape(details.BookToken.Value))
	if len(details.User.PaymentMethods) > 0 {
		pb, _ := json.Marshal(struct {
			ID int64 `json:"id"`
		}{ID: details.User.PaymentMethods[0].ID})
		form = strings.Join([]string{form, fmt.Sprintf("struct_payment_method=%s", url.QueryEscape(string(pb)))}, "&")
	}

	_, status, respBody, err := a.do(ctx, http.MethodPost, "https://api.resy.com/3/book", "application/x-www-form-urlencoded", nil, []byte(form))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", reservation.ErrTransport, err)
	}
	if status >= 400 {
		return "", "", fmt.Errorf("%w: resy book status=%d", reservation.ErrTransport, status)
	}
	var bookResp struct {
		ResyToken string `json:"resy_token"`
	}
	_ = json.Unmarshal(respBody, &bookResp)
	return bookResp.ResyToken, string(respBody), nil
}

func (a *Adapter) do(ctx context.Context, method, rawURL, contentType string, query map[string]string, body []byte) (*http.Response, int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Add("user-agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36")
	req.Header.Add("origin", "https://resy.com")
	req.Header.Add("referrer", "https://resy.com")
	req.Header.Add("x-origin", "https://resy.com")
	req.Header.Add("cache-control", "no-cache")
	if contentType != "" {
		req.Header.Add("content-type", contentType)
	}
	req.Header.Add("authorization", fmt.Sprintf(`ResyAPI api_key="%s"`, a.creds.APIKey))
	req.Header.Add("x-resy-auth-token", a.creds.AuthToken)
	req.Header.Add("x-resy-universal-auth", a.creds.AuthToken)

	if query != nil {
		q := req.URL.Query()
		for k, v := range query {
			q.Add(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	res, err := a.hc.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res, res.StatusCode, nil, err
	}
	return res, res.StatusCode, b, nil
}

func parseSlotStart(raw string) (time.Time, bool) {
	pieces := strings.Split(raw, " ")
	if len(pieces) < 2 {
		return time.Time{}, false
	}
	t, err := time.Parse("15:04:05", pieces[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func errResult(err error) reservation.BookResult {
	switch {
	case err == reservation.ErrAuthExpired:
		return reservation.BookResult{Outcome: reservation.OutcomeAuthExpired, Err: err}
	default:
		return reservation.BookResult{Outcome: reservation.OutcomeTransportError, Err: err}
	}
}
