package filfox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"txcanceller/internal/application"
	"txcanceller/internal/domain"
)

const (
	DefaultBaseURL = "https://filfox.info/api/v1"
	sendMethod     = "Send"
	maxErrorBody   = 4 << 10
)

// Oracle samples fees from the most recent Send message seen by a Filfox explorer.
type Oracle struct {
	baseURL    string
	httpClient *http.Client
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func NewOracle(cfg Config) (*Oracle, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid filfox url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Oracle{baseURL: base, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

type messageList struct {
	Messages []struct {
		CID    string `json:"cid"`
		Method string `json:"method"`
	} `json:"messages"`
}

type message struct {
	CID       string      `json:"cid"`
	Timestamp json.Number `json:"timestamp"`
	GasLimit  json.Number `json:"gasLimit"`
	GasFeeCap json.Number `json:"gasFeeCap"`
	Receipt   *struct {
		GasUsed json.Number `json:"gasUsed"`
	} `json:"receipt"`
}

func (o *Oracle) FetchRecentFeeSample(ctx context.Context) (domain.FeeSample, error) {
	var list messageList
	if err := o.get(ctx, "/message/list?method="+sendMethod, &list); err != nil {
		return domain.FeeSample{}, err
	}
	if len(list.Messages) == 0 {
		return domain.FeeSample{}, fmt.Errorf("%w: /message/list returned an empty list", application.ErrUpstreamUnavailable)
	}
	cid := ""
	for _, m := range list.Messages {
		if m.Method == sendMethod {
			cid = m.CID
			break
		}
	}
	if cid == "" {
		return domain.FeeSample{}, fmt.Errorf("%w: no Send message in the recent committed messages", application.ErrUpstreamUnavailable)
	}

	var msg message
	if err := o.get(ctx, "/message/"+url.PathEscape(cid), &msg); err != nil {
		return domain.FeeSample{}, err
	}
	return msg.toSample(cid)
}

func (m message) toSample(cid string) (domain.FeeSample, error) {
	if m.Receipt == nil {
		return domain.FeeSample{}, fmt.Errorf("%w: message %s has no receipt", application.ErrUpstreamUnavailable, cid)
	}
	seconds, err := m.Timestamp.Int64()
	if err != nil {
		return domain.FeeSample{}, fmt.Errorf("message %s timestamp: %w", cid, err)
	}
	gasLimit, err := parseDecimal(m.GasLimit)
	if err != nil {
		return domain.FeeSample{}, fmt.Errorf("message %s gasLimit: %w", cid, err)
	}
	gasFeeCap, err := parseDecimal(m.GasFeeCap)
	if err != nil {
		return domain.FeeSample{}, fmt.Errorf("message %s gasFeeCap: %w", cid, err)
	}
	gasUsed, err := parseDecimal(m.Receipt.GasUsed)
	if err != nil {
		return domain.FeeSample{}, fmt.Errorf("message %s gasUsed: %w", cid, err)
	}
	if m.CID != "" {
		cid = m.CID
	}
	return domain.FeeSample{
		CID:       cid,
		Timestamp: time.Unix(seconds, 0).UTC(),
		GasLimit:  gasLimit,
		GasFeeCap: gasFeeCap,
		GasUsed:   gasUsed,
	}, nil
}

func (o *Oracle) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", application.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: filfox request failed with %d: %s",
			application.ErrUpstreamUnavailable, resp.StatusCode, strings.TrimRight(string(body), " \t\r\n"))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	return decoder.Decode(out)
}

func parseDecimal(n json.Number) (*big.Int, error) {
	raw := strings.TrimSpace(n.String())
	if raw == "" {
		return nil, errors.New("missing value")
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	return value, nil
}
