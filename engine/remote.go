package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/JoNeedsSleep/machiave-llm/game"
)

// Remote talks JSON over HTTP to an adjudicator service hosting one game:
//
//	GET  /games/{id}/done             {"done": bool}
//	GET  /games/{id}/state            board document
//	GET  /games/{id}/phase            {"phase": "S1901M"}
//	GET  /games/{id}/orderable?power= {"locations": [...]}
//	GET  /games/{id}/possible-orders  {"PAR": ["A PAR H", ...], ...}
//	POST /games/{id}/orders           {"power": "FRANCE", "orders": [...]}
//	POST /games/{id}/process
//	GET  /games/{id}/export           saved game
//	POST /games                       saved game or empty body, returns {"game_id": "..."}
type Remote struct {
	baseURL string
	gameID  string
	client  *http.Client
}

// HTTPError is a non-2xx answer from the adjudicator.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("engine status=%d", e.StatusCode)
	}
	return fmt.Sprintf("engine status=%d body=%s", e.StatusCode, e.Body)
}

func NewRemote(baseURL, gameID string, client *http.Client) *Remote {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		gameID:  gameID,
		client:  client,
	}
}

var _ Engine = (*Remote)(nil)

func (e *Remote) GameID() string {
	return e.gameID
}

func (e *Remote) IsDone(ctx context.Context) (bool, error) {
	var resp struct {
		Done bool `json:"done"`
	}
	if err := e.getJSON(ctx, "done", nil, &resp); err != nil {
		return false, err
	}
	return resp.Done, nil
}

func (e *Remote) State(ctx context.Context) (game.BoardState, error) {
	data, err := e.do(ctx, http.MethodGet, e.gamePath("state", nil), nil)
	if err != nil {
		return nil, err
	}
	return game.BoardState(data), nil
}

func (e *Remote) CurrentPhase(ctx context.Context) (string, error) {
	var resp struct {
		Phase string `json:"phase"`
	}
	if err := e.getJSON(ctx, "phase", nil, &resp); err != nil {
		return "", err
	}
	return resp.Phase, nil
}

func (e *Remote) OrderableLocations(ctx context.Context, p game.Power) ([]string, error) {
	var resp struct {
		Locations []string `json:"locations"`
	}
	if err := e.getJSON(ctx, "orderable", url.Values{"power": {string(p)}}, &resp); err != nil {
		return nil, err
	}
	if resp.Locations == nil {
		resp.Locations = []string{}
	}
	return resp.Locations, nil
}

func (e *Remote) PossibleOrders(ctx context.Context) (game.PossibleOrders, error) {
	orders := game.PossibleOrders{}
	if err := e.getJSON(ctx, "possible-orders", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (e *Remote) SetOrders(ctx context.Context, p game.Power, orders []string) error {
	body, err := json.Marshal(struct {
		Power  game.Power `json:"power"`
		Orders []string   `json:"orders"`
	}{Power: p, Orders: orders})
	if err != nil {
		return fmt.Errorf("failed to encode orders: %w", err)
	}
	_, err = e.do(ctx, http.MethodPost, e.gamePath("orders", nil), body)
	return err
}

func (e *Remote) Process(ctx context.Context) error {
	_, err := e.do(ctx, http.MethodPost, e.gamePath("process", nil), nil)
	return err
}

func (e *Remote) Serialize(ctx context.Context) ([]byte, error) {
	return e.do(ctx, http.MethodGet, e.gamePath("export", nil), nil)
}

func (e *Remote) gamePath(endpoint string, query url.Values) string {
	u := fmt.Sprintf("%s/games/%s/%s", e.baseURL, url.PathEscape(e.gameID), endpoint)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (e *Remote) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	data, err := e.do(ctx, http.MethodGet, e.gamePath(endpoint, query), nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (e *Remote) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	return doRequest(ctx, e.client, method, target, body)
}

func doRequest(ctx context.Context, client *http.Client, method, target string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response of %s %s: %w", method, target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// RemoteLoader creates games on an adjudicator service.
type RemoteLoader struct {
	BaseURL string
	Client  *http.Client
}

// Create starts a fresh game.
func (l RemoteLoader) Create(ctx context.Context) (*Remote, error) {
	return l.create(ctx, nil)
}

// Deserialize imports a saved game as a new game on the service.
func (l RemoteLoader) Deserialize(ctx context.Context, blob []byte) (Engine, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("failed to import game: empty saved game")
	}
	return l.create(ctx, blob)
}

func (l RemoteLoader) create(ctx context.Context, blob []byte) (*Remote, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	base := strings.TrimRight(l.BaseURL, "/")
	data, err := doRequest(ctx, client, http.MethodPost, base+"/games", blob)
	if err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	var resp struct {
		GameID string `json:"game_id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to create game: decode response: %w", err)
	}
	if resp.GameID == "" {
		return nil, fmt.Errorf("failed to create game: service returned no game id")
	}
	return NewRemote(base, resp.GameID, client), nil
}
