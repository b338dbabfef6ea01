// Package calendar is a small client for a Graph-style calendar REST API.
// Approved reservations are materialized as events in an organizer
// mailbox with the booked rooms invited as resource attendees.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/room-reservation/internal/model"
)

const graphTime = "2006-01-02T15:04:05.0000000"

// Config configures a Client.
type Config struct {
	BaseURL string // e.g. https://graph.microsoft.com/v1.0
	Mailbox string // organizer mailbox events are created in
	Timeout time.Duration
	Credentials
}

// Client talks to the calendar API.  It owns its token source; separate
// clients never share token state unless they share a TokenCache.
type Client struct {
	baseURL string
	mailbox string
	http    *http.Client
	tokens  *tokenSource
	log     *logrus.Entry
}

// NewClient returns a Client.  A nil cache means an in-process cache.
func NewClient(cfg Config, cache TokenCache, log *logrus.Entry) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cache == nil {
		cache = &MemoryTokenCache{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		mailbox: cfg.Mailbox,
		http:    hc,
		tokens:  &tokenSource{creds: cfg.Credentials, http: hc, cache: cache, now: time.Now},
		log:     log.WithField("component", "calendar"),
	}
}

// Refresh forces a new access token.
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.tokens.Refresh(ctx)
	return err
}

// APIError is a non-2xx answer from the calendar API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("calendar api: status %d: %s", e.Status, e.Body)
}

type dateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type attendee struct {
	EmailAddress emailAddress `json:"emailAddress"`
	Type         string       `json:"type"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type eventBody struct {
	Subject       string       `json:"subject"`
	Body          itemBody     `json:"body"`
	Start         dateTimeZone `json:"start"`
	End           dateTimeZone `json:"end"`
	Attendees     []attendee   `json:"attendees"`
	TransactionID string       `json:"transactionId,omitempty"`
}

// Event is an event as listed by ListEvents.
type Event struct {
	ID      string
	Subject string
	Start   time.Time
	End     time.Time
}

func toEventBody(r *model.Reservation, attendees []string) eventBody {
	content := r.Description
	if r.SetupTimeMinutes > 0 || r.TeardownTimeMinutes > 0 {
		content += fmt.Sprintf("\n\nSetup %d min, teardown %d min.", r.SetupTimeMinutes, r.TeardownTimeMinutes)
	}
	ev := eventBody{
		Subject:   r.Title,
		Body:      itemBody{ContentType: "text", Content: strings.TrimSpace(content)},
		Start:     dateTimeZone{DateTime: r.StartDateTime.UTC().Format(graphTime), TimeZone: "UTC"},
		End:       dateTimeZone{DateTime: r.EndDateTime.UTC().Format(graphTime), TimeZone: "UTC"},
		Attendees: make([]attendee, 0, len(attendees)),
	}
	for _, a := range attendees {
		ev.Attendees = append(ev.Attendees, attendee{EmailAddress: emailAddress{Address: a}, Type: "resource"})
	}
	return ev
}

// CreateEvent creates the event of r and returns its ID.  The reservation
// ID is sent as transaction ID so a retried create is not duplicated.
func (c *Client) CreateEvent(ctx context.Context, r *model.Reservation, attendees []string) (string, error) {
	body := toEventBody(r, attendees)
	body.TransactionID = r.ID
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, c.mailboxPath("events"), body, &out); err != nil {
		return "", err
	}
	c.log.WithFields(logrus.Fields{"reservation_id": r.ID, "event_id": out.ID}).Info("calendar event created")
	return out.ID, nil
}

// UpdateEvent rewrites event eventID from r.
func (c *Client) UpdateEvent(ctx context.Context, eventID string, r *model.Reservation, attendees []string) error {
	return c.do(ctx, http.MethodPatch, c.mailboxPath("events", eventID), toEventBody(r, attendees), nil)
}

// DeleteEvent removes event eventID.  An event that is already gone is not
// an error.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	err := c.do(ctx, http.MethodDelete, c.mailboxPath("events", eventID), nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// ListEvents returns the events of mailbox (the organizer mailbox when
// empty) between from and to.
func (c *Client) ListEvents(ctx context.Context, mailbox string, from, to time.Time) ([]Event, error) {
	if mailbox == "" {
		mailbox = c.mailbox
	}
	q := url.Values{
		"startDateTime": {from.UTC().Format(time.RFC3339)},
		"endDateTime":   {to.UTC().Format(time.RFC3339)},
	}
	path := "/users/" + url.PathEscape(mailbox) + "/calendarView?" + q.Encode()
	var out struct {
		Value []struct {
			ID      string       `json:"id"`
			Subject string       `json:"subject"`
			Start   dateTimeZone `json:"start"`
			End     dateTimeZone `json:"end"`
		} `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(out.Value))
	for _, v := range out.Value {
		start, _ := time.Parse(graphTime, v.Start.DateTime)
		end, _ := time.Parse(graphTime, v.End.DateTime)
		events = append(events, Event{ID: v.ID, Subject: v.Subject, Start: start, End: end})
	}
	return events, nil
}

// Subscription is a change-notification subscription.
type Subscription struct {
	ID                 string    `json:"id,omitempty"`
	ChangeType         string    `json:"changeType"`
	NotificationURL    string    `json:"notificationUrl"`
	Resource           string    `json:"resource"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
	ClientState        string    `json:"clientState,omitempty"`
}

// CreateSubscription subscribes notificationURL to event changes in mailbox.
func (c *Client) CreateSubscription(ctx context.Context, mailbox, notificationURL, clientState string, expires time.Time) (*Subscription, error) {
	if mailbox == "" {
		mailbox = c.mailbox
	}
	in := Subscription{
		ChangeType:         "created,updated,deleted",
		NotificationURL:    notificationURL,
		Resource:           "/users/" + mailbox + "/events",
		ExpirationDateTime: expires.UTC(),
		ClientState:        clientState,
	}
	var out Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSubscription removes subscription id.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/subscriptions/"+url.PathEscape(id), nil, nil)
}

func (c *Client) mailboxPath(parts ...string) string {
	p := "/users/" + url.PathEscape(c.mailbox)
	for _, s := range parts {
		p += "/" + url.PathEscape(s)
	}
	return p
}

// do sends one request.  A 401 refreshes the token and retries once.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, method, path, payload, token)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if token, err = c.tokens.Refresh(ctx); err != nil {
			return err
		}
		if resp, err = c.send(ctx, method, path, payload, token); err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
