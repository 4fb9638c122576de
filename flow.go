package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// FlowStage is a step of an authentication attempt. An attempt only moves
// forward; a failure ends it.
type FlowStage int

const (
	StageStart FlowStage = iota
	StageProviderResolved
	StageConfigLoaded
	StageClientEstablished
	StageAuthorizationPending
	StageCallbacked
	StageExchanged
	StageValidated
)

func (s FlowStage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageProviderResolved:
		return "provider_resolved"
	case StageConfigLoaded:
		return "config_loaded"
	case StageClientEstablished:
		return "client_established"
	case StageAuthorizationPending:
		return "authorization_pending"
	case StageCallbacked:
		return "callbacked"
	case StageExchanged:
		return "exchanged"
	case StageValidated:
		return "validated"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// DefaultRefreshSkew is how long before expiry a stored access token is refreshed.
const DefaultRefreshSkew = 30 * time.Second

// Flow drives the authorization code flow for a relying party. Every step reads
// and writes the Client's store, so a callback may be completed by a different
// process than the one that began the attempt.
type Flow struct {
	c                  *Client
	useStaticClientURL bool
	metrics            Metrics
	logger             *slog.Logger
	refreshSkew        time.Duration
	authOpts           []AuthRequestOption
}

type FlowArgs struct {
	Client *Client
	// UseStaticClientURL identifies the relying party with its client id
	// document url instead of registering with each provider.
	UseStaticClientURL bool
	Metrics            Metrics
	Logger             *slog.Logger
	RefreshSkew        time.Duration
	AuthRequestOptions []AuthRequestOption
}

func NewFlow(args FlowArgs) (*Flow, error) {
	if args.Client == nil {
		return nil, fmt.Errorf("no client provided")
	}

	if args.Metrics == nil {
		args.Metrics = nopMetrics{}
	}

	if args.Logger == nil {
		args.Logger = args.Client.logger
	}

	if args.RefreshSkew == 0 {
		args.RefreshSkew = DefaultRefreshSkew
	}

	return &Flow{
		c:                  args.Client,
		useStaticClientURL: args.UseStaticClientURL,
		metrics:            args.Metrics,
		logger:             args.Logger.With("component", "flow"),
		refreshSkew:        args.RefreshSkew,
		authOpts:           args.AuthRequestOptions,
	}, nil
}

func (f *Flow) Client() *Client {
	return f.c
}

func (f *Flow) RelyingPartyKey(ctx context.Context) (jwk.Key, error) {
	return f.c.RelyingPartyKey(ctx)
}

// AuthorizationRequest is handed back to the caller, who sends the user to AuthURL.
type AuthorizationRequest struct {
	Issuer   string
	AuthURL  string
	State    string
	ClientID string
}

// Begin resolves the provider for a WebID or provider url, makes sure the
// relying party is known to it and starts a new authorization attempt.
func (f *Flow) Begin(ctx context.Context, webidOrProvider string) (*AuthorizationRequest, error) {
	f.metrics.FlowStarted()

	issuer, err := f.c.ResolveIssuer(ctx, webidOrProvider)
	if err != nil {
		return nil, f.fail(StageStart, err)
	}

	cfg, err := f.c.ProviderConfiguration(ctx, issuer)
	if err != nil {
		return nil, f.fail(StageProviderResolved, err)
	}

	if cfg.Issuer != issuer {
		f.logger.Debug("using canonical issuer from discovery document", "requested", issuer, "issuer", cfg.Issuer)
		issuer = cfg.Issuer
	}

	if _, err := f.c.ProviderKeySet(ctx, issuer, cfg); err != nil {
		return nil, f.fail(StageProviderResolved, err)
	}

	id, err := f.c.EstablishClient(ctx, cfg, f.useStaticClientURL)
	if err != nil {
		return nil, f.fail(StageConfigLoaded, err)
	}

	pkce, err := f.c.BeginAuthorization(ctx, issuer)
	if err != nil {
		return nil, f.fail(StageClientEstablished, err)
	}

	authURL := BuildAuthorizationURL(cfg, f.c.redirectURL, id.ClientID, pkce.State, pkce.CodeChallenge, f.authOpts...)

	f.logger.Info("authorization started", "issuer", issuer, "client_id", id.ClientID)

	return &AuthorizationRequest{
		Issuer:   issuer,
		AuthURL:  authURL,
		State:    pkce.State,
		ClientID: id.ClientID,
	}, nil
}

// Complete finishes an attempt from the provider's callback. The state is
// consumed before anything else, so a callback can be completed only once.
func (f *Flow) Complete(ctx context.Context, p CallbackParams) (*TokenRecord, error) {
	st, err := f.c.ConsumeAuthorization(ctx, p.State)
	if err != nil {
		return nil, f.fail(StageAuthorizationPending, err)
	}

	if p.Error != "" {
		return nil, f.fail(StageAuthorizationPending, fmt.Errorf("%w: %s: %s", ErrAuthorizationDenied, p.Error, p.ErrorDescription))
	}

	if p.Code == "" {
		return nil, f.fail(StageAuthorizationPending, fmt.Errorf("%w: callback has no code", ErrInvalidClaim))
	}

	issuer := st.Issuer
	if p.Issuer != "" && p.Issuer != issuer {
		return nil, f.fail(StageAuthorizationPending, fmt.Errorf("%w: callback issuer %s does not match %s", ErrInvalidClaim, p.Issuer, issuer))
	}

	cfg, err := f.c.ProviderConfiguration(ctx, issuer)
	if err != nil {
		return nil, f.fail(StageCallbacked, err)
	}

	id, err := f.callbackIdentity(ctx, cfg)
	if err != nil {
		return nil, f.fail(StageCallbacked, err)
	}

	key, err := f.c.RelyingPartyKey(ctx)
	if err != nil {
		return nil, f.fail(StageCallbacked, err)
	}

	res, err := f.c.ExchangeCode(ctx, key, st.CodeVerifier, p.Code, cfg, id.ClientID, f.c.redirectURL, ClientAuthFor(cfg, id))
	if err != nil {
		return nil, f.fail(StageCallbacked, err)
	}

	if !res.OK {
		return nil, f.fail(StageCallbacked, res.Err())
	}

	if res.Token.IDToken == "" {
		return nil, f.fail(StageExchanged, ErrMissingIDToken)
	}

	keys, err := f.c.ProviderKeySet(ctx, issuer, cfg)
	if err != nil {
		return nil, f.fail(StageExchanged, err)
	}

	claims, err := validateIDToken(res.Token.IDToken, keys, issuer, id.ClientID, f.c.now)
	if err != nil {
		return nil, f.fail(StageExchanged, err)
	}

	rec := &TokenRecord{
		Issuer:   issuer,
		WebID:    claims.WebID,
		Sub:      claims.Sub,
		ClientID: id.ClientID,
	}
	rec.applyTokenResponse(res.Token, json.RawMessage(res.RawBody), f.c.now())

	if err := f.c.store.SaveTokenRecord(ctx, rec); err != nil {
		return nil, f.fail(StageValidated, fmt.Errorf("could not save token record: %w", err))
	}

	f.metrics.FlowCompleted()
	f.logger.Info("authorization completed", "issuer", issuer, "webid", rec.WebID)

	return rec, nil
}

// callbackIdentity finds the identity an attempt was started with. Nothing is
// registered here: a missing registration means the attempt cannot be ours.
func (f *Flow) callbackIdentity(ctx context.Context, cfg *ProviderConfiguration) (*ClientIdentity, error) {
	if f.useStaticClientURL {
		return &ClientIdentity{ClientID: ClientIDURL(f.c.baseURL, cfg.Issuer), Static: true}, nil
	}

	reg, err := f.c.store.GetClientRegistration(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: no registration for %s: %w", ErrRegistration, cfg.Issuer, err)
	}

	return &ClientIdentity{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
	}, nil
}

func (f *Flow) fail(stage FlowStage, err error) error {
	f.metrics.FlowFailed(stage.String())
	f.logger.Warn("authorization failed", "stage", stage.String(), "err", err)
	return &FlowError{Stage: stage, Err: err}
}

// Refresh returns the stored record for webid at issuer, refreshing its access
// token first when it is about to expire or when force is set.
func (f *Flow) Refresh(ctx context.Context, issuer, webid string, force bool) (*TokenRecord, error) {
	rec, err := f.c.store.GetTokenRecord(ctx, issuer, webid)
	if err != nil {
		return nil, fmt.Errorf("could not load token record: %w", err)
	}

	now := f.c.now()
	if !force && !rec.NeedsRefresh(now, f.refreshSkew) {
		return rec, nil
	}

	if rec.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %s at %s", ErrNoRefreshToken, webid, issuer)
	}

	cfg, err := f.c.ProviderConfiguration(ctx, issuer)
	if err != nil {
		return nil, err
	}

	id, err := f.c.ExistingClient(ctx, issuer, rec.ClientID)
	if err != nil {
		return nil, err
	}

	key, err := f.c.RelyingPartyKey(ctx)
	if err != nil {
		return nil, err
	}

	res, err := f.c.RefreshToken(ctx, key, cfg, id.ClientID, rec.RefreshToken, ClientAuthFor(cfg, id))
	if err != nil {
		f.metrics.TokenRefreshed(false)
		return nil, err
	}

	if !res.OK {
		f.metrics.TokenRefreshed(false)
		return nil, res.Err()
	}

	rec.applyTokenResponse(res.Token, json.RawMessage(res.RawBody), f.c.now())

	if err := f.c.store.SaveTokenRecord(ctx, rec); err != nil {
		f.metrics.TokenRefreshed(false)
		return nil, fmt.Errorf("could not save token record: %w", err)
	}

	f.metrics.TokenRefreshed(true)
	f.logger.Info("refreshed access token", "issuer", issuer, "webid", webid)

	return rec, nil
}

// AuthHeaders returns the headers for a request to a resource server on behalf
// of webid. The access token is refreshed first if needed.
func (f *Flow) AuthHeaders(ctx context.Context, issuer, webid, method, target string) (http.Header, error) {
	rec, err := f.Refresh(ctx, issuer, webid, false)
	if err != nil {
		return nil, err
	}

	if rec.AccessToken == "" {
		return nil, fmt.Errorf("%w: record for %s has no access token", ErrNotFound, webid)
	}

	key, err := f.c.RelyingPartyKey(ctx)
	if err != nil {
		return nil, err
	}

	proof, err := NewDPoPProof(key, method, target, WithAccessToken(rec.AccessToken))
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("Authorization", "DPoP "+rec.AccessToken)
	h.Set("DPoP", proof)
	return h, nil
}

// IsFlowStage reports whether err is a flow failure at stage.
func IsFlowStage(err error, stage FlowStage) bool {
	var fe *FlowError
	return errors.As(err, &fe) && fe.Stage == stage
}
