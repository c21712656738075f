// Package client is the Go adapter for a certledger node.
//
// A Client acts as one wallet account. Connect checks that the node serves the
// expected chain, then trades a signed challenge for a session token. Every
// other method is one request/response round trip for one user action, tracked
// independently by an ActionTracker. There are no retries and no queuing.
//
//	c, _ := client.New(client.Config{BaseURL: url, ChainID: 8009}, wallet)
//	if _, err := c.Connect(ctx); err != nil { ... }
//	req, err := c.SubmitRequest(ctx, client.Submission{...})
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrChainMismatch means the node serves a different chain than configured
	// and switching networks did not fix it.
	ErrChainMismatch = errors.New("client: node chain id does not match")
	// ErrNotConnected is returned by authenticated calls before Connect.
	ErrNotConnected = errors.New("client: not connected")
)

// SwitchNetworkFunc is asked for a node base URL serving want when the current
// node reports another chain.
type SwitchNetworkFunc func(ctx context.Context, want, got uint64) (baseURL string, err error)

type Config struct {
	BaseURL    string
	ChainID    uint64
	HTTPClient *http.Client
	// SwitchNetwork is optional. It is invoked at most once per Connect.
	SwitchNetwork SwitchNetworkFunc
}

type Client struct {
	wallet        Wallet
	chainID       uint64
	http          *http.Client
	switchNetwork SwitchNetworkFunc
	tracker       *ActionTracker

	mu      sync.RWMutex
	baseURL string
	chain   *ChainInfo
	token   string
}

func New(cfg Config, wallet Wallet) (*Client, error) {
	if wallet == nil {
		return nil, errors.New("client: wallet is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: invalid base url %q", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		wallet:        wallet,
		chainID:       cfg.ChainID,
		http:          httpClient,
		switchNetwork: cfg.SwitchNetwork,
		tracker:       NewActionTracker(),
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// Tracker exposes per-action status for display.
func (c *Client) Tracker() *ActionTracker { return c.tracker }

// Chain returns the chain info cached by Connect.
func (c *Client) Chain() (ChainInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.chain == nil {
		return ChainInfo{}, false
	}
	return *c.chain, true
}

// Reset drops the session and chain info. Call it after the wallet account or
// network changed, then Connect again.
func (c *Client) Reset() {
	c.mu.Lock()
	c.chain = nil
	c.token = ""
	c.mu.Unlock()
	c.tracker.reset()
}

// Connect verifies the node's chain and opens a session for the wallet.
func (c *Client) Connect(ctx context.Context) (ChainInfo, error) {
	return track(c.tracker, ActionConnect, func() (ChainInfo, error) {
		chain, err := c.fetchChain(ctx)
		if err != nil {
			return ChainInfo{}, err
		}
		if chain.ChainID != c.chainID {
			if c.switchNetwork == nil {
				return ChainInfo{}, fmt.Errorf("%w: want %d, node serves %d", ErrChainMismatch, c.chainID, chain.ChainID)
			}
			next, err := c.switchNetwork(ctx, c.chainID, chain.ChainID)
			if err != nil {
				return ChainInfo{}, fmt.Errorf("switch network: %w", err)
			}
			c.mu.Lock()
			c.baseURL = strings.TrimRight(next, "/")
			c.mu.Unlock()
			if chain, err = c.fetchChain(ctx); err != nil {
				return ChainInfo{}, err
			}
			if chain.ChainID != c.chainID {
				return ChainInfo{}, fmt.Errorf("%w: want %d, node serves %d", ErrChainMismatch, c.chainID, chain.ChainID)
			}
		}

		token, err := c.handshake(ctx)
		if err != nil {
			return ChainInfo{}, err
		}
		c.mu.Lock()
		c.chain = &chain
		c.token = token
		c.mu.Unlock()
		return chain, nil
	})
}

func (c *Client) fetchChain(ctx context.Context) (ChainInfo, error) {
	var chain ChainInfo
	err := c.do(ctx, http.MethodGet, "/v1/chain", nil, &chain, false)
	return chain, err
}

func (c *Client) handshake(ctx context.Context) (string, error) {
	address := c.wallet.Address().String()
	var challenge struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/challenge", map[string]string{"address": address}, &challenge, false); err != nil {
		return "", err
	}
	signature, err := c.wallet.SignMessage(ctx, challenge.Message)
	if err != nil {
		return "", err
	}
	var session struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/session", map[string]string{"address": address, "signature": signature}, &session, false); err != nil {
		return "", err
	}
	return session.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authenticated bool) error {
	c.mu.RLock()
	base, token := c.baseURL, c.token
	c.mu.RUnlock()
	if authenticated && token == "" {
		return ErrNotConnected
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func idPath(format string, n uint64) string {
	return fmt.Sprintf(format, strconv.FormatUint(n, 10))
}
