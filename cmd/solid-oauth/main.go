package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	oauth "github.com/haileyok/solid-oauth-golang"
	"github.com/haileyok/solid-oauth-golang/internal/backend"
	"github.com/haileyok/solid-oauth-golang/internal/config"
	"github.com/haileyok/solid-oauth-golang/internal/httpclient"
	"github.com/haileyok/solid-oauth-golang/internal/logging"
	"github.com/urfave/cli/v2"
)

func main() {
	newApp().RunAndExitOnError()
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "solid-oauth",
		Usage:   "step through Solid-OIDC authentication from the command line",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "static",
				Usage: "identify with the client id document url instead of registering",
			},
		},
		Commands: []*cli.Command{
			runCreateKey,
			runGetProviderConfigurationFromProfile,
			runGetProviderConfiguration,
			runRegister,
			runAuthRequest,
			runExchangeAuth,
			runExchangeAuthURL,
			runRefresh,
			runIsWebID,
			runListTokens,
			runAuthHeaders,
		},
	}
}

type cliEnv struct {
	flow  *oauth.Flow
	store backend.Store
}

// withFlow loads configuration, opens the store and builds a flow for one
// command.
func withFlow(nargs int, f func(ctx context.Context, cmd *cli.Context, env *cliEnv) error) cli.ActionFunc {
	return func(cmd *cli.Context) error {
		if cmd.NArg() < nargs {
			return fmt.Errorf("expected %d arguments, got %d", nargs, cmd.NArg())
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := logging.Setup(cmd.App.ErrWriter, cfg.LogLevel, cfg.LogFormat)

		ctx := cmd.Context

		store, err := backend.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		client, err := oauth.NewClient(oauth.ClientArgs{
			H:           httpclient.New(cfg.HTTPTimeout, cfg.SafeHTTP),
			Store:       store,
			Logger:      logger,
			BaseURL:     cfg.BaseURL,
			RedirectURL: cfg.RedirectURL,
			ClientName:  cfg.ClientName,
		})
		if err != nil {
			return err
		}

		flow, err := oauth.NewFlow(oauth.FlowArgs{
			Client:             client,
			UseStaticClientURL: cfg.AlwaysUseClientURL || cmd.Bool("static"),
		})
		if err != nil {
			return err
		}

		return f(ctx, cmd, &cliEnv{flow: flow, store: store})
	}
}

func printJSON(cmd *cli.Context, v any) error {
	enc := json.NewEncoder(cmd.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var runCreateKey = &cli.Command{
	Name:  "create-key",
	Usage: "make sure the relying party key exists and print its public jwks",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "out",
			Usage: "also write the public jwks to this file",
		},
	},
	Action: withFlow(0, func(ctx context.Context, cmd *cli.Context, env *cliEnv) error {
		key, err := env.flow.RelyingPartyKey(ctx)
		if err != nil {
			return err
		}

		jwks, err := oauth.CreateJwksResponseObject(key)
		if err != nil {
			return err
		}

		if out := cmd.String("out"); out != "" {
			b, err := json.Marshal(jwks)
			if err != nil {
				return err
			}

			if err := os.WriteFile(out, b, 0644); err != nil {
				return err
			}
		}

		return printJSON(cmd, jwks)
	}),
}

var runGetProviderConfigurationFromProfile = &cli.Command{
	Name:      "get-provider-configuration-from-profile",
	Usage:     "resolve the provider of a webid and print its configuration",
	ArgsUsage: "<profile>",
	Action: withFlow(1, func(ctx context.Context, cmd *cli.Context, env *cliEnv) error {
		c := env.flow.Client()

		issuer, err := c.ResolveProvider(ctx, cmd.Args().First())
		if err != nil {
			return err
		}

		cfg, err := c.ProviderConfiguration(ctx, issuer)
		if err != nil {
			return err
		}

		return printJSON(cmd, cfg)
	}),
}

var runGetProviderConfiguration = &cli.Command{
	Name:      "get-provider-configuration",
	Usage:     "print the configuration of a provider",
	ArgsUsage: "<provider>",
	Action: withFlow(1, func(ctx context.Context, cmd *cli.Context, env *cliEnv) error {
		cfg, err := env.flow.Client().ProviderConfiguration(ctx, cmd.Args().First())
		if err != nil {
			return err
		}

		return printJSON(cmd, cfg)
	}),
}

var runRegister = &cli.Command{
	Name:      "register",
	Usage:     "make the relying party known to a provider",
	ArgsUsage: "<provider>",
	Action: withFlow(1, func(ctx context.Context, cmd *cli.Context, env *cliEnv) error {
		c := env.flow.Client()

		cfg, err := c.ProviderConfiguration(ctx, cmd.Args().First())
		if err != nil {
			return err
		}

		id, err := c.EstablishClient(ctx, cfg, cmd.Bool("static"))
		if err != nil {
			return err
		}

		return printJSON(cmd, map[string]any{
			"issuer":    cfg.Issuer,
			"client_id": id.ClientID,
			"static":    id.Static,
		})
	}),
}

var runAuthRequest = &cli.Command{
	Name:      "auth-request",
	Usage:     "start an authorization and print the url to open",
	ArgsUsage: "<profile-or-provider>",
	Action: withFlow(1, func(ctx context.Context, cmd *cli.Context, env *cliEnv) error {
		req, err := env.flow.Begin(ctx, cmd.Args().First())
		if err != nil {
			return err
		}

		return printJSON(cmd, map[string]any{
			"auth_url":  req.AuthURL,
			"state":     req.State,
			"issuer":    req.Issuer,
			"client_id": req.ClientID,
		})
	}),
}

var runExchangeAuth = &cli.Command{
	Name:      "exchange-auth",
	Usage:     "exchange an authorization code for tokens",
	ArgsUsage: "<code> <state> [provider]",
	Action: withFlow(2, func(ctx context.Context, cmd *cli.Context, env *cliEnv) error {
		return complete(ctx, cmd, env, oauth.CallbackParams{
			Code:   cmd.Args().Get(0),
			State:  cmd.Args().Get(1),
			Issuer: cmd.Args().Get(2),
		})
	}),
}

var runExchangeAuthURL = &cli.Command{
	Name:      "exchange-auth-url",
	Usage:     "exchange the code in a redirect url for tokens",
	ArgsUsage: "<url>",
	Action: withFlow(1, func(ctx context.Context, cmd *cli.Context, env *cliEnv) error {
		p, err := oauth.CallbackFromURL(cmd.Args().First())
		if err != nil {
			return err
		}

		return complete(ctx, cmd, env, p)
	}),
}

func complete(ctx context.Context, cmd *cli.Context, env *cliEnv, p oauth.CallbackParams) error {
	rec, err := env.flow.Complete(ctx, p)
	if err != nil {
		return err
	}

	return printJSON(cmd, tokenSummary(rec, time.Now()))
}

var runRefresh = &cli.Command{
	Name:      "refresh",
	Usage:     "refresh the access token for a webid",
	ArgsUsage: "<issuer> <webid>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "force",
			Usage: "refresh even if the token is not close to expiry",
		},
	},
	Action: withFlow(2, func(ctx context.Context, cmd *cli.Context, env *cliEnv) error {
		rec, err := env.flow.Refresh(ctx, cmd.Args().Get(0), cmd.Args().Get(1), cmd.Bool("force"))
		if err != nil {
			return err
		}

		return printJSON(cmd, tokenSummary(rec, time.Now()))
	}),
}

var runIsWebID = &cli.Command{
	Name:      "is-webid",
	Usage:     "report whether a provider can be found from a url",
	ArgsUsage: "<url>",
	Action: withFlow(1, func(ctx context.Context, cmd *cli.Context, env *cliEnv) error {
		return printJSON(cmd, env.flow.Client().IsWebID(ctx, cmd.Args().First()))
	}),
}

var runListTokens = &cli.Command{
	Name:  "list-tokens",
	Usage: "list stored credentials without their secrets",
	Action: withFlow(0, func(ctx context.Context, cmd *cli.Context, env *cliEnv) error {
		recs, err := env.store.ListTokenRecords(ctx)
		if err != nil {
			return err
		}

		now := time.Now()
		out := make([]map[string]any, 0, len(recs))
		for _, rec := range recs {
			out = append(out, tokenSummary(rec, now))
		}

		return printJSON(cmd, out)
	}),
}

var runAuthHeaders = &cli.Command{
	Name:      "auth-headers",
	Usage:     "print the Authorization and DPoP headers for a request to a resource server",
	ArgsUsage: "<issuer> <webid> <method> <url>",
	Action: withFlow(4, func(ctx context.Context, cmd *cli.Context, env *cliEnv) error {
		args := cmd.Args()

		h, err := env.flow.AuthHeaders(ctx, args.Get(0), args.Get(1), args.Get(2), args.Get(3))
		if err != nil {
			return err
		}

		return printJSON(cmd, map[string]string{
			"Authorization": h.Get("Authorization"),
			"DPoP":          h.Get("DPoP"),
		})
	}),
}

func tokenSummary(rec *oauth.TokenRecord, now time.Time) map[string]any {
	s := map[string]any{
		"issuer":            rec.Issuer,
		"webid":             rec.WebID,
		"sub":               rec.Sub,
		"client_id":         rec.ClientID,
		"has_refresh_token": rec.RefreshToken != "",
		"expired":           rec.Expired(now),
	}
	if !rec.ExpiresAt.IsZero() {
		s["expires_at"] = rec.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return s
}
