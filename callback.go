package oauth

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
)

// CallbackParams is what the provider sends back to the redirect url, either
// as a query string or relayed by a front end as a JSON body.
type CallbackParams struct {
	Code             string `json:"code"`
	State            string `json:"state"`
	Issuer           string `json:"iss,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func CallbackFromQuery(q url.Values) CallbackParams {
	return CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Issuer:           q.Get("iss"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
}

func CallbackFromJSON(r io.Reader) (CallbackParams, error) {
	var p CallbackParams
	if err := json.NewDecoder(io.LimitReader(r, maxResponseSize)).Decode(&p); err != nil {
		return CallbackParams{}, fmt.Errorf("could not decode callback body: %w", err)
	}
	return p, nil
}

// CallbackFromURL reads the parameters from a full redirect url.
func CallbackFromURL(ustr string) (CallbackParams, error) {
	u, err := url.Parse(ustr)
	if err != nil {
		return CallbackParams{}, fmt.Errorf("could not parse callback url: %w", err)
	}
	return CallbackFromQuery(u.Query()), nil
}
