package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/geochat/pkg/anchor"
)

// Remote is a Store backed by a geochatd instance. Reads and writes go over
// HTTP; Watch holds a websocket on which the server pushes a full snapshot
// after every change.
type Remote struct {
	baseURL *url.URL
	client  *http.Client
	dialer  *websocket.Dialer
	log     *slog.Logger
}

func NewRemote(baseURL string) (*Remote, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	return &Remote{
		baseURL: u,
		client:  &http.Client{Timeout: 10 * time.Second},
		dialer:  websocket.DefaultDialer,
		log:     slog.Default(),
	}, nil
}

func (r *Remote) All(ctx context.Context) (map[string]anchor.Anchor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL.JoinPath("anchors").String(), nil)
	if err != nil {
		return nil, &Error{Op: "all", Code: CodeUnavailable, Err: err}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &Error{Op: "all", Code: CodeUnavailable, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "all", Code: codeForStatus(resp.StatusCode), Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "all", Code: CodeUnavailable, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	snapshot, err := DecodeSnapshot(raw, r.log)
	if err != nil {
		return nil, &Error{Op: "all", Code: CodeUnavailable, Err: err}
	}
	return snapshot, nil
}

func (r *Remote) Create(ctx context.Context, a anchor.Anchor) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	status, err := r.doJSON(ctx, http.MethodPost, r.baseURL.JoinPath("anchors").String(), a, &out)
	if err != nil {
		return "", &Error{Op: "create", Code: CodeUnavailable, Err: err}
	}
	if status != http.StatusCreated {
		return "", &Error{Op: "create", Code: codeForStatus(status), Err: fmt.Errorf("unexpected status code: %d", status)}
	}
	return out.ID, nil
}

func (r *Remote) Put(ctx context.Context, id string, a anchor.Anchor) error {
	status, err := r.doJSON(ctx, http.MethodPut, r.baseURL.JoinPath("anchors", id).String(), a, nil)
	if err != nil {
		return &Error{Op: "put", Code: CodeUnavailable, Err: err}
	}
	if status != http.StatusNoContent {
		return &Error{Op: "put", Code: codeForStatus(status), Err: fmt.Errorf("unexpected status code: %d", status)}
	}
	return nil
}

func (r *Remote) Append(ctx context.Context, id string, m anchor.Message) error {
	status, err := r.doJSON(ctx, http.MethodPost, r.baseURL.JoinPath("anchors", id, "messages").String(), m, nil)
	if err != nil {
		return &Error{Op: "append", Code: CodeUnavailable, Err: err}
	}
	switch status {
	case http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return &Error{Op: "append", Code: codeForStatus(status), Err: fmt.Errorf("unexpected status code: %d", status)}
	}
}

// Watch dials the server's watch endpoint and forwards each pushed snapshot.
// The returned channel closes when the connection drops or the context is
// cancelled; callers that want a durable subscription should redial.
func (r *Remote) Watch(ctx context.Context) (<-chan map[string]anchor.Anchor, error) {
	u := r.baseURL.JoinPath("anchors", "watch")
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := r.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &Error{Op: "watch", Code: CodeUnavailable, Err: fmt.Errorf("failed to dial: %w", err)}
	}

	ch := make(chan map[string]anchor.Anchor, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(ch)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					r.log.Warn("watch connection lost", "err", err)
				}
				return
			}
			snapshot, err := DecodeSnapshot(raw, r.log)
			if err != nil {
				r.log.Warn("dropping undecodable snapshot", "err", err)
				continue
			}
			offer(ch, snapshot)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	return ch, nil
}

func (r *Remote) doJSON(ctx context.Context, method, target string, in any, out any) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func codeForStatus(status int) Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return CodePermission
	default:
		return CodeUnavailable
	}
}

// DecodeSnapshot decodes a wire snapshot leniently: a record that fails to
// decode is skipped with a warning and the rest of the snapshot still
// applies.
func DecodeSnapshot(raw []byte, log *slog.Logger) (map[string]anchor.Anchor, error) {
	var records map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	out := make(map[string]anchor.Anchor, len(records))
	for id, record := range records {
		var a anchor.Anchor
		if err := json.Unmarshal(record, &a); err != nil {
			log.Warn("skipping malformed anchor record", "id", id, "err", err)
			continue
		}
		a.ID = id
		out[id] = a
	}
	return out, nil
}
