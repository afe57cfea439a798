package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/toshiapp/toshi-auth-go/pkg/config"
)

func main() {
	mnemonicFlag := &cli.StringFlag{
		Name:     "mnemonic",
		Aliases:  []string{"m"},
		Usage:    "12 word passphrase of the signing identity",
		EnvVars:  []string{config.EnvToshiMnemonic},
		Required: true,
	}
	pathFlag := &cli.StringFlag{
		Name:     "path",
		Usage:    "Request path including any query string",
		Required: true,
	}
	methodFlag := &cli.StringFlag{
		Name:  "method",
		Usage: "HTTP method. Defaults to GET without a payload and POST with one",
	}
	timestampFlag := &cli.StringFlag{
		Name:  "timestamp",
		Usage: "Token-Timestamp value. Defaults to the current unix time",
	}
	dataFlag := &cli.StringFlag{
		Name:  "data",
		Usage: "Raw request body",
	}
	jsonFlag := &cli.StringFlag{
		Name:  "json",
		Usage: "JSON object body, re-encoded with sorted keys before signing",
	}

	app := &cli.App{
		Name:  "toshi-sign",
		Usage: "Generate and check Toshi request signatures",
		Description: `Derives the Toshi identity from a passphrase and produces the
Token-ID-Address, Token-Signature and Token-Timestamp headers for a request.`,
		Version: "1.0.0",
		Commands: []*cli.Command{
			{
				Name:   "mnemonic",
				Usage:  "Generate a new passphrase and print its addresses",
				Action: mnemonicCommand,
			},
			{
				Name:   "address",
				Usage:  "Print the identity and payment addresses of a passphrase",
				Flags:  []cli.Flag{mnemonicFlag},
				Action: addressCommand,
			},
			{
				Name:  "headers",
				Usage: "Print the signed headers for a request as JSON",
				Flags: []cli.Flag{
					mnemonicFlag, pathFlag, methodFlag, timestampFlag, dataFlag, jsonFlag,
					&cli.StringFlag{
						Name:  "image",
						Usage: "PNG file sent as a multipart avatar upload. Prints the body to --output",
					},
					&cli.StringFlag{
						Name:  "boundary",
						Usage: "Multipart boundary. Generated when empty",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "File receiving the multipart body",
					},
				},
				Action: headersCommand,
			},
			{
				Name:  "verify",
				Usage: "Check a signature the way toshi-authd does",
				Flags: []cli.Flag{
					pathFlag, methodFlag, dataFlag, jsonFlag,
					&cli.StringFlag{Name: "timestamp", Usage: "Token-Timestamp value", Required: true},
					&cli.StringFlag{Name: "address", Usage: "Token-ID-Address value", Required: true},
					&cli.StringFlag{Name: "signature", Usage: "Token-Signature value", Required: true},
					&cli.DurationFlag{Name: "window", Usage: "Timestamp window. 0 skips the clock check"},
				},
				Action: verifyCommand,
			},
			{
				Name:  "call",
				Usage: "Send a signed request and print the response",
				Flags: []cli.Flag{
					mnemonicFlag, pathFlag, methodFlag, dataFlag, jsonFlag,
					&cli.StringFlag{
						Name:    "url",
						Usage:   "Service base URL",
						Value:   config.DefaultIDServiceURL,
						EnvVars: []string{config.EnvToshiIDServiceURL},
					},
					&cli.DurationFlag{Name: "timeout", Value: config.DefaultRequestTimeout, Usage: "Request timeout"},
					&cli.BoolFlag{Name: "verbose", Usage: "Enable verbose logging", EnvVars: []string{config.EnvToshiVerbose}},
				},
				Action: callCommand,
			},
			{
				Name:  "user",
				Usage: "Look up a profile on the ID service",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Toshi ID or username", Required: true},
					&cli.StringFlag{
						Name:    "url",
						Usage:   "ID service base URL",
						Value:   config.DefaultIDServiceURL,
						EnvVars: []string{config.EnvToshiIDServiceURL},
					},
				},
				Action: userCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
