package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// DefaultTimeout bounds every outbound request made by a Client built without
// its own http.Client.
const DefaultTimeout = 10 * time.Second

// maxResponseSize caps discovery documents, key sets, profiles and token responses.
const maxResponseSize = 1 << 20

type Client struct {
	h           *http.Client
	tokenH      *http.Client
	store       Store
	logger      *slog.Logger
	baseURL     string
	redirectURL string
	clientName  string
	now         func() time.Time

	keyMu sync.RWMutex
	rpKey jwk.Key
}

type ClientArgs struct {
	// H is used for every outbound request. Token requests use a copy that
	// does not follow redirects.
	H           *http.Client
	Store       Store
	Logger      *slog.Logger
	BaseURL     string
	RedirectURL string
	ClientName  string
}

func NewClient(args ClientArgs) (*Client, error) {
	if args.Store == nil {
		return nil, fmt.Errorf("no store provided")
	}

	if args.RedirectURL == "" {
		return nil, fmt.Errorf("no redirect uri provided")
	}

	if args.BaseURL == "" {
		return nil, fmt.Errorf("no base url provided")
	}

	if args.H == nil {
		args.H = cleanhttp.DefaultPooledClient()
		args.H.Timeout = DefaultTimeout
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	if args.ClientName == "" {
		args.ClientName = "Solid OIDC Golang Client"
	}

	tokenH := *args.H
	tokenH.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		h:           args.H,
		tokenH:      &tokenH,
		store:       args.Store,
		logger:      args.Logger,
		baseURL:     withTrailingSlash(args.BaseURL),
		redirectURL: args.RedirectURL,
		clientName:  args.ClientName,
		now:         time.Now,
	}, nil
}

func (c *Client) Store() Store {
	return c.store
}

func (c *Client) RedirectURL() string {
	return c.redirectURL
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// RelyingPartyKey returns the process-wide signing key. It is loaded from the
// store on first use and generated and saved only if the store has none.
func (c *Client) RelyingPartyKey(ctx context.Context) (jwk.Key, error) {
	c.keyMu.RLock()
	key := c.rpKey
	c.keyMu.RUnlock()
	if key != nil {
		return key, nil
	}

	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.rpKey != nil {
		return c.rpKey, nil
	}

	b, err := c.store.GetRelyingPartyKey(ctx)
	switch {
	case err == nil:
		key, err = ParseJWKFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("could not parse stored relying party key: %w", err)
		}
	case errors.Is(err, ErrNotFound):
		c.logger.Info("no relying party key stored, generating one")
		key, err = GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("could not generate relying party key: %w", err)
		}

		b, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}

		if err := c.store.SaveRelyingPartyKey(ctx, b); err != nil {
			return nil, fmt.Errorf("could not save relying party key: %w", err)
		}

		// another process may have saved its key first
		b, err = c.store.GetRelyingPartyKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not load relying party key: %w", err)
		}

		key, err = ParseJWKFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("could not parse stored relying party key: %w", err)
		}
	default:
		return nil, fmt.Errorf("could not load relying party key: %w", err)
	}

	c.rpKey = key
	return key, nil
}

// getJSON fetches ustr and decodes the body into v. It returns the raw body.
func (c *Client) getJSON(ctx context.Context, ustr string, v any) ([]byte, error) {
	if _, err := validateURL(ustr); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", ustr, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request for %s: %w", ustr, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.h.Do(req)
	if err != nil {
		return nil, transportError("could not get response from server", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: received non-200 response from %s. status code was %d", ErrConfiguration, ustr, resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, transportError("could not read body", err)
	}

	if err := json.Unmarshal(b, v); err != nil {
		return nil, fmt.Errorf("%w: could not unmarshal json from %s: %w", ErrConfiguration, ustr, err)
	}

	return b, nil
}

func withTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
