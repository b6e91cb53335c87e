// The poolctl tool drives a remote pool service over the mutually
// authenticated channel: registration, status, allocation, fetch,
// consumption acknowledgment, refill, deletion and health scans.
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/qumail/keypool-backend/api/clients"
	"github.com/qumail/keypool-backend/cmd/flags"
	"github.com/qumail/keypool-backend/cryptoutils"
	"github.com/qumail/keypool-backend/interfaces"
)

var clientFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:    "server",
		Value:   "https://127.0.0.1:8443",
		Usage:   "base URL of the pool service",
		EnvVars: []string{"KEYPOOL_SERVER"},
	},
	&cli.StringFlag{
		Name:  "tls-cert",
		Usage: "PEM file with our client certificate",
	},
	&cli.StringFlag{
		Name:  "tls-key",
		Usage: "PEM file with our client private key",
	},
	&cli.StringFlag{
		Name:  "server-ca",
		Usage: "PEM file with the pinned CA for the peer",
	},
	&cli.StringFlag{
		Name:  "server-name",
		Usage: "expected TLS server name when the peer is addressed by IP",
	},
	&cli.BoolFlag{
		Name:  "cross-relay",
		Usage: "the peer relays to a second pool service (longer timeouts)",
	},
	&cli.BoolFlag{
		Name:  "insecure",
		Usage: "plain HTTP without client auth (development only)",
	},
}, flags.LoggingFlags()...)

func newClient(cCtx *cli.Context) (*clients.PoolClient, error) {
	logger := flags.SetupLogger(cCtx)
	cfg := &clients.Config{
		BaseURL:    cCtx.String("server"),
		ServerName: cCtx.String("server-name"),
		CrossRelay: cCtx.Bool("cross-relay"),
		Log:        logger,
	}

	if cCtx.Bool("insecure") {
		cfg.HTTPClient = http.DefaultClient
	} else {
		creds, err := cryptoutils.LoadClientCredentials(
			cCtx.String("tls-cert"),
			cCtx.String("tls-key"),
			cCtx.String("server-ca"),
		)
		if err != nil {
			return nil, err
		}
		cfg.Credentials = creds
	}
	return clients.NewPoolClient(cfg)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	godotenv.Load()

	app := &cli.App{
		Name:  "poolctl",
		Usage: "Operate a remote key pool service",
		Flags: clientFlags,
		Commands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "Register an entity with a pre-filled pool",
				ArgsUsage: "<entity> <contact> <pool-size>",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 3 {
						return fmt.Errorf("usage: register <entity> <contact> <pool-size>")
					}
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					size := cCtx.Args().Get(2)
					var n int
					if _, err := fmt.Sscanf(size, "%d", &n); err != nil {
						return fmt.Errorf("invalid pool size %q", size)
					}
					summary, err := client.Register(cCtx.Context,
						interfaces.EntityID(cCtx.Args().Get(0)), cCtx.Args().Get(1), n)
					if err != nil {
						return err
					}
					return printJSON(summary)
				},
			},
			{
				Name:      "status",
				Usage:     "Show pool counters for an entity",
				ArgsUsage: "<entity>",
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					status, err := client.Status(cCtx.Context, interfaces.EntityID(cCtx.Args().First()))
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:      "allocate",
				Usage:     "Pull keys from an owner's pool on behalf of a requester",
				ArgsUsage: "<requester> <owner> <count>",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 3 {
						return fmt.Errorf("usage: allocate <requester> <owner> <count>")
					}
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					var n int
					if _, err := fmt.Sscanf(cCtx.Args().Get(2), "%d", &n); err != nil {
						return fmt.Errorf("invalid count %q", cCtx.Args().Get(2))
					}
					keys, err := client.Allocate(cCtx.Context,
						interfaces.EntityID(cCtx.Args().Get(0)),
						interfaces.EntityID(cCtx.Args().Get(1)),
						n, interfaces.KeySizeBytes)
					if err != nil {
						return err
					}
					out := make([]map[string]string, len(keys))
					for i, k := range keys {
						out[i] = map[string]string{
							"key_id":  k.ID.String(),
							"payload": base64.StdEncoding.EncodeToString(k.Bytes),
						}
					}
					return printJSON(out)
				},
			},
			{
				Name:      "fetch",
				Usage:     "Fetch previously delivered keys by id",
				ArgsUsage: "<requester> <key-id>...",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() < 2 {
						return fmt.Errorf("usage: fetch <requester> <key-id>...")
					}
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					ids := make([]interfaces.KeyID, cCtx.NArg()-1)
					for i := range ids {
						ids[i] = interfaces.KeyID(cCtx.Args().Get(i + 1))
					}
					result, err := client.FetchByIDs(cCtx.Context,
						interfaces.EntityID(cCtx.Args().First()), ids)
					if err != nil {
						return err
					}
					found := make([]string, len(result.Found))
					for i, k := range result.Found {
						found[i] = k.ID.String()
					}
					return printJSON(map[string]any{
						"found":             found,
						"missing_or_denied": result.MissingOrDenied,
					})
				},
			},
			{
				Name:      "consume",
				Usage:     "Acknowledge consumption of delivered keys",
				ArgsUsage: "<requester> <key-id>...",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() < 2 {
						return fmt.Errorf("usage: consume <requester> <key-id>...")
					}
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					ids := make([]interfaces.KeyID, cCtx.NArg()-1)
					for i := range ids {
						ids[i] = interfaces.KeyID(cCtx.Args().Get(i + 1))
					}
					return client.MarkConsumed(cCtx.Context,
						interfaces.EntityID(cCtx.Args().First()), ids)
				},
			},
			{
				Name:      "refill",
				Usage:     "Top a pool up (count 0 fills to capacity)",
				ArgsUsage: "<entity> [count]",
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					n := 0
					if cCtx.NArg() > 1 {
						if _, err := fmt.Sscanf(cCtx.Args().Get(1), "%d", &n); err != nil {
							return fmt.Errorf("invalid count %q", cCtx.Args().Get(1))
						}
					}
					result, err := client.Refill(cCtx.Context,
						interfaces.EntityID(cCtx.Args().First()), n)
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete an entity and cascade its pool",
				ArgsUsage: "<entity>",
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					result, err := client.Delete(cCtx.Context, interfaces.EntityID(cCtx.Args().First()))
					if err != nil {
						return err
					}
					return printJSON(result)
				},
			},
			{
				Name:  "low",
				Usage: "List pools under their low watermark",
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					pools, err := client.ListLowPools(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(pools)
				},
			},
			{
				Name:  "entropy",
				Usage: "Poll the peer's source entropy health signal",
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					bits, err := client.PollEntropy(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(map[string]float64{"bits_per_byte": bits})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
