package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/knakk/rdf"
	"github.com/tomnomnom/linkheader"
)

const (
	// OIDCIssuerRel is the Link relation a profile server uses to advertise the
	// user's provider.
	OIDCIssuerRel = "http://openid.net/specs/connect/1.0/issuer"
	// SolidOIDCIssuer is the profile predicate naming the user's provider.
	SolidOIDCIssuer = "http://www.w3.org/ns/solid/terms#oidcIssuer"
)

// ResolveProvider finds the issuer for a WebID profile. The Link header of an
// OPTIONS request is checked first, then the profile document itself.
func (c *Client) ResolveProvider(ctx context.Context, profileURL string) (string, error) {
	u, err := validateURL(profileURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProviderNotFound, err)
	}

	issuer, err := c.issuerFromLinkHeader(ctx, u)
	if err != nil {
		return "", err
	}

	if issuer != "" {
		return issuer, nil
	}

	return c.issuerFromProfile(ctx, u)
}

// IsWebID reports whether a provider can be discovered from ustr. Every
// failure, including transport errors, is reported as false.
func (c *Client) IsWebID(ctx context.Context, ustr string) bool {
	_, err := c.ResolveProvider(ctx, ustr)
	if err != nil {
		c.logger.Debug("url is not a webid", "url", ustr, "err", err)
		return false
	}
	return true
}

// ResolveIssuer accepts either a WebID or a provider url and returns the
// provider url to use.
func (c *Client) ResolveIssuer(ctx context.Context, webidOrProvider string) (string, error) {
	issuer, err := c.ResolveProvider(ctx, webidOrProvider)
	if err == nil {
		return issuer, nil
	}

	c.logger.Debug("input is not a webid, treating it as a provider", "input", webidOrProvider, "err", err)

	if _, err := validateURL(webidOrProvider); err != nil {
		return "", fmt.Errorf("%w: cannot find a provider for %s: %w", ErrProviderNotFound, webidOrProvider, err)
	}

	return webidOrProvider, nil
}

func (c *Client) issuerFromLinkHeader(ctx context.Context, u *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "OPTIONS", u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("error creating options request: %w", err)
	}

	resp, err := c.h.Do(req)
	if err != nil {
		return "", transportError("could not get options response from profile server", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil
	}

	for _, link := range linkheader.ParseMultiple(resp.Header.Values("Link")).FilterByRel(OIDCIssuerRel) {
		target, err := u.Parse(link.URL)
		if err != nil {
			continue
		}
		return target.String(), nil
	}

	return "", nil
}

func (c *Client) issuerFromProfile(ctx context.Context, u *url.URL) (string, error) {
	doc := *u
	doc.Fragment = ""

	req, err := http.NewRequestWithContext(ctx, "GET", doc.String(), nil)
	if err != nil {
		return "", fmt.Errorf("error creating profile request: %w", err)
	}
	req.Header.Set("Accept", "text/turtle, application/n-triples;q=0.9")

	resp, err := c.h.Do(req)
	if err != nil {
		return "", transportError("could not get profile document", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		c.logger.Debug("cannot find a profile at this url", "url", doc.String())
		return "", fmt.Errorf("%w: no profile at %s", ErrProviderNotFound, doc.String())
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: received non-200 response for profile. status code was %d", ErrTransport, resp.StatusCode)
	}

	format := rdf.Turtle
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mt == "application/n-triples" {
		format = rdf.NTriples
	}

	body := io.LimitReader(resp.Body, maxResponseSize)
	if format == rdf.Turtle {
		// profiles usually describe <#me> relative to the document
		body = io.MultiReader(strings.NewReader("@base <"+doc.String()+"> .\n"), body)
	}

	issuer, err := findObject(rdf.NewTripleDecoder(body, format), SolidOIDCIssuer)
	if err != nil {
		return "", fmt.Errorf("%w: could not parse profile %s: %w", ErrProviderNotFound, doc.String(), err)
	}

	if issuer == "" {
		return "", fmt.Errorf("%w: profile %s has no %s triple", ErrProviderNotFound, doc.String(), SolidOIDCIssuer)
	}

	return issuer, nil
}

// findObject returns the object of the first triple with the given predicate.
func findObject(dec rdf.TripleDecoder, predicate string) (string, error) {
	for {
		tr, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil {
			return "", err
		}

		if tr.Pred.String() == predicate {
			return tr.Obj.String(), nil
		}
	}
}
