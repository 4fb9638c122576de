package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	oauth "github.com/haileyok/solid-oauth-golang"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

type registerRequest struct {
	WebIDOrProvider string `json:"webid_or_provider" form:"webid_or_provider"`
}

type registerResponse struct {
	AuthURL string `json:"auth_url"`
	Issuer  string `json:"issuer"`
}

type callbackResponse struct {
	WebID  string `json:"webid"`
	Issuer string `json:"issuer"`
	Sub    string `json:"sub"`
}

func (s *Server) handleClientDocument(e echo.Context) error {
	cid := strings.TrimSuffix(e.Param("cid"), ".jsonld")
	if cid == "" {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	// echo keeps a content type that is already set
	e.Response().Header().Set(echo.HeaderContentType, "application/ld+json")
	return e.JSON(http.StatusOK, s.flow.Client().ClientIDDocument(cid))
}

func (s *Server) handleJwks(e echo.Context) error {
	key, err := s.flow.RelyingPartyKey(e.Request().Context())
	if err != nil {
		return err
	}

	jwks, err := oauth.CreateJwksResponseObject(key)
	if err != nil {
		return err
	}

	return e.JSON(http.StatusOK, jwks)
}

func (s *Server) handleRegister(e echo.Context) error {
	var req registerRequest
	if err := e.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read request")
	}

	if req.WebIDOrProvider == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "webid_or_provider is required")
	}

	authReq, err := s.flow.Begin(e.Request().Context(), req.WebIDOrProvider)
	if err != nil {
		return flowHTTPError(err)
	}

	sess, err := session.Get(sessionName, e)
	if err != nil {
		return err
	}

	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(oauth.StateTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	sess.Values[sessionStateKey] = authReq.State

	if err := sess.Save(e.Request(), e.Response()); err != nil {
		return err
	}

	return e.JSON(http.StatusOK, registerResponse{
		AuthURL: authReq.AuthURL,
		Issuer:  authReq.Issuer,
	})
}

// handleRedirect is where the provider sends the browser back. The state must
// be the one this browser started.
func (s *Server) handleRedirect(e echo.Context) error {
	p := oauth.CallbackFromQuery(e.QueryParams())

	sess, err := session.Get(sessionName, e)
	if err != nil {
		return err
	}

	sessState, _ := sess.Values[sessionStateKey].(string)
	if p.State == "" || sessState != p.State {
		return echo.NewHTTPError(http.StatusBadRequest, "session state does not match response state")
	}

	return s.complete(e, p, sess)
}

// handleCallback is for front ends that read the redirect themselves and relay
// the parameters.
func (s *Server) handleCallback(e echo.Context) error {
	p, err := oauth.CallbackFromJSON(e.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sess, err := session.Get(sessionName, e)
	if err != nil {
		return err
	}

	return s.complete(e, p, sess)
}

func (s *Server) complete(e echo.Context, p oauth.CallbackParams, sess *sessions.Session) error {
	rec, err := s.flow.Complete(e.Request().Context(), p)
	if err != nil {
		return flowHTTPError(err)
	}

	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	// make sure the session is empty
	sess.Values = map[any]any{}
	sess.Values[sessionWebIDKey] = rec.WebID
	sess.Values[sessionIssKey] = rec.Issuer

	if err := sess.Save(e.Request(), e.Response()); err != nil {
		return err
	}

	return e.JSON(http.StatusOK, callbackResponse{
		WebID:  rec.WebID,
		Issuer: rec.Issuer,
		Sub:    rec.Sub,
	})
}

func flowHTTPError(err error) error {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, oauth.ErrProviderNotFound),
		errors.Is(err, oauth.ErrUnknownState),
		errors.Is(err, oauth.ErrInvalidClaim),
		errors.Is(err, oauth.ErrAuthorizationDenied):
		status = http.StatusBadRequest
	case errors.Is(err, oauth.ErrTokenExchangeRejected),
		errors.Is(err, oauth.ErrMissingIDToken),
		errors.Is(err, oauth.ErrUnknownKeyID),
		errors.Is(err, oauth.ErrInvalidSignature),
		errors.Is(err, oauth.ErrExpiredToken):
		status = http.StatusUnauthorized
	case errors.Is(err, oauth.ErrTransport),
		errors.Is(err, oauth.ErrConfiguration),
		errors.Is(err, oauth.ErrRegistration),
		errors.Is(err, oauth.ErrDynamicRegistrationUnsupported):
		status = http.StatusBadGateway
	}

	return echo.NewHTTPError(status, err.Error()).SetInternal(err)
}
