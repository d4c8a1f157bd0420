// Package remote is the client of the sync service: intake pushes,
// medication deletion and the caregiver relation endpoints.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	appLog "medremind/internal/log"
	"medremind/internal/model"
)

// DefaultTimeout bounds every request. A timeout is reported like any other
// failure.
const DefaultTimeout = 10 * time.Second

// ErrDisabled is returned by New when no base URL is configured.
var ErrDisabled = errors.New("remote: sync service not configured")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type Config struct {
	BaseURL  string
	Timeout  time.Duration
	UserID   string
	Secret   string
	CacheDir string
}

type Client struct {
	base     string
	http     *http.Client
	signer   *Signer
	cacheDir string
	now      func() time.Time
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrDisabled
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "./var/remote-cache"
	}
	var signer *Signer
	if cfg.Secret != "" {
		signer = NewSigner(cfg.UserID, cfg.Secret)
	}
	return &Client{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: cfg.Timeout},
		signer:   signer,
		cacheDir: cfg.CacheDir,
		now:      time.Now,
	}, nil
}

// IntakePayload is the body of POST /intake/add_or_update.
type IntakePayload struct {
	MedicationID  int64  `json:"medication_id"`
	ScheduledTime string `json:"scheduled_time"`
	TakenTime     string `json:"taken_time"`
	Status        string `json:"status"`
	Notes         string `json:"notes,omitempty"`
}

// NewIntakePayload builds the push body for a decision. plannedTime is
// expanded on the local calendar date the decision was recorded on, so a
// late retry still names the original slot. Both instants are sent as UTC
// ISO-8601.
func NewIntakePayload(medServerID int64, plannedTime string, decision model.Decision, recordedAt time.Time, loc *time.Location, note string) (IntakePayload, error) {
	if !decision.Valid() {
		return IntakePayload{}, fmt.Errorf("unknown decision %q", decision)
	}
	scheduled, err := ExpandTimeOfDay(plannedTime, recordedAt, loc)
	if err != nil {
		return IntakePayload{}, err
	}
	return IntakePayload{
		MedicationID:  medServerID,
		ScheduledTime: scheduled.Format(time.RFC3339),
		TakenTime:     recordedAt.UTC().Format(time.RFC3339),
		Status:        string(decision),
		Notes:         note,
	}, nil
}

// ExpandTimeOfDay turns "HH:MM" into the UTC instant of that time on the
// local date of now.
func ExpandTimeOfDay(hhmm string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	h, m, err := model.ParseTimeOfDay(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return model.DateOf(now.In(loc)).At(h, m, loc).UTC(), nil
}

type intakeResponse struct {
	ID *int64 `json:"id"`
}

// PostIntake upserts one intake on the server and returns the server id
// when the response carries one.
func (c *Client) PostIntake(ctx context.Context, p IntakePayload) (*int64, error) {
	var resp intakeResponse
	if err := c.do(ctx, http.MethodPost, "/intake/add_or_update", p, &resp); err != nil {
		return nil, err
	}
	appLog.Debug("intake pushed", "medication_server_id", p.MedicationID, "status", p.Status)
	return resp.ID, nil
}

func (c *Client) DeleteMedication(ctx context.Context, serverID int64) error {
	return c.do(ctx, http.MethodDelete, "/medications/"+strconv.FormatInt(serverID, 10), nil, nil)
}

// Relation links the current user with a patient or caregiver.
type Relation struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

type Invite struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *Client) Relations(ctx context.Context) ([]Relation, error) {
	var out []Relation
	if err := c.do(ctx, http.MethodGet, "/relations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddRelation redeems an invite code.
func (c *Client) AddRelation(ctx context.Context, code string) (Relation, error) {
	var out Relation
	body := map[string]string{"code": code}
	if err := c.do(ctx, http.MethodPost, "/relations", body, &out); err != nil {
		return Relation{}, err
	}
	return out, nil
}

func (c *Client) RemoveRelation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/relations/"+strconv.FormatInt(id, 10), nil, nil)
}

func (c *Client) GenerateInvite(ctx context.Context) (Invite, error) {
	var out Invite
	if err := c.do(ctx, http.MethodPost, "/relations/invite", nil, &out); err != nil {
		return Invite{}, err
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		token, err := c.signer.Sign(c.now())
		if err != nil {
			return nil, fmt.Errorf("signing request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading body: %w", method, path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decoding body: %w", method, path, err)
	}
	return nil
}
