package counter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"rivalbot/internal/rivalry"
	logx "rivalbot/pkg/logx"
)

const (
	DefaultLeague = "39"
	maxBodyBytes  = 2 << 20
)

// Options configures an APIFootball client.
type Options struct {
	BaseURL string // e.g. "https://v3.football.api-sports.io"
	Host    string // sent as x-rapidapi-host
	APIKey  string
	Season  string
	Timeout time.Duration
	// RequestsPerMinute caps outgoing requests; 0 disables the quota.
	RequestsPerMinute int

	HTTPClient *http.Client
	Log        logx.Logger
}

// APIFootball reads counters from the API-Football v3 REST API.
type APIFootball struct {
	base    *url.URL
	host    string
	key     string
	season  string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewAPIFootball(opts Options) (*APIFootball, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("counter: invalid base url %q", opts.BaseURL)
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("counter: api key required")
	}
	c := &APIFootball{
		base:    base,
		host:    opts.Host,
		key:     opts.APIKey,
		season:  opts.Season,
		timeout: opts.Timeout,
		client:  opts.HTTPClient,
		log:     opts.Log,
	}
	if c.host == "" {
		c.host = base.Host
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return c, nil
}

// Count returns summed league goals for players and total wins for teams.
func (c *APIFootball) Count(ctx context.Context, e rivalry.Entity) (int64, error) {
	switch e.Kind {
	case rivalry.Player:
		return c.playerGoals(ctx, e.ID)
	case rivalry.Team:
		league := e.League
		if league == "" {
			league = DefaultLeague
		}
		return c.teamWins(ctx, e.ID, league)
	default:
		return 0, fmt.Errorf("%w: entity %s has unknown kind %q", ErrReadFailed, e.ID, e.Kind)
	}
}

type envelope struct {
	Errors   json.RawMessage `json:"errors"`
	Response json.RawMessage `json:"response"`
}

type playerEntry struct {
	Statistics []struct {
		Goals struct {
			Total *int64 `json:"total"`
		} `json:"goals"`
	} `json:"statistics"`
}

type teamStatistics struct {
	Fixtures struct {
		Wins struct {
			Total *int64 `json:"total"`
		} `json:"wins"`
	} `json:"fixtures"`
}

func (c *APIFootball) playerGoals(ctx context.Context, id string) (int64, error) {
	q := url.Values{"id": {id}, "season": {c.season}}
	raw, err := c.get(ctx, "/players", q)
	if err != nil {
		return 0, err
	}
	if isEmpty(raw) {
		return 0, fmt.Errorf("%w for player %s, season %s", ErrNoData, id, c.season)
	}
	var players []playerEntry
	if err := json.Unmarshal(raw, &players); err != nil {
		return 0, fmt.Errorf("%w: decode players: %v", ErrReadFailed, err)
	}
	var total int64
	for _, s := range players[0].Statistics {
		if s.Goals.Total != nil {
			total += *s.Goals.Total
		}
	}
	return total, nil
}

func (c *APIFootball) teamWins(ctx context.Context, id, league string) (int64, error) {
	q := url.Values{"team": {id}, "season": {c.season}, "league": {league}}
	raw, err := c.get(ctx, "/teams/statistics", q)
	if err != nil {
		return 0, err
	}
	if isEmpty(raw) {
		return 0, fmt.Errorf("%w for team %s, season %s", ErrNoData, id, c.season)
	}
	var st teamStatistics
	if err := json.Unmarshal(raw, &st); err != nil {
		return 0, fmt.Errorf("%w: decode team statistics: %v", ErrReadFailed, err)
	}
	if st.Fixtures.Wins.Total == nil {
		return 0, nil
	}
	return *st.Fixtures.Wins.Total, nil
}

func (c *APIFootball) get(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: quota wait: %v", ErrReadFailed, err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	req.Header.Set("x-rapidapi-host", c.host)
	req.Header.Set("x-rapidapi-key", c.key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrReadFailed, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrReadFailed, err)
	}
	c.log.Debug("api response", logx.String("path", path), logx.Int("status", resp.StatusCode), logx.Int("bytes", len(body)))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: http %d", ErrReadFailed, path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: malformed json: %v", ErrReadFailed, path, err)
	}
	// The API reports quota and auth problems with 200 and a populated errors field.
	if !isEmpty(env.Errors) {
		return nil, fmt.Errorf("%w: %s: api errors: %s", ErrReadFailed, path, compact(env.Errors))
	}
	return env.Response, nil
}

func isEmpty(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "[]", "{}":
		return true
	}
	return false
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	s := buf.String()
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
