package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/toshiapp/toshi-auth-go/pkg/cereal"
	"github.com/toshiapp/toshi-auth-go/pkg/clients/idAPI"
	"github.com/toshiapp/toshi-auth-go/pkg/headers"
	"github.com/toshiapp/toshi-auth-go/pkg/logger"
	"github.com/toshiapp/toshi-auth-go/pkg/transport"
	"github.com/toshiapp/toshi-auth-go/pkg/verifier"
)

func loadIdentity(c *cli.Context) (*cereal.Cereal, error) {
	id, err := cereal.NewCerealFromMnemonic(c.String("mnemonic"))
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	return id, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mnemonicCommand(_ *cli.Context) error {
	words, err := cereal.GenerateWords()
	if err != nil {
		return err
	}
	id, err := cereal.NewCerealFromWords(words)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{
		"mnemonic":        strings.Join(words, " "),
		"toshi_id":        id.Address(),
		"payment_address": id.PaymentAddress(),
	})
}

func addressCommand(c *cli.Context) error {
	id, err := loadIdentity(c)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{
		"toshi_id":        id.Address(),
		"payment_address": id.PaymentAddress(),
	})
}

// requestPayload returns the body selected by --data or --json, or nil
func requestPayload(c *cli.Context) ([]byte, error) {
	if c.IsSet("data") && c.IsSet("json") {
		return nil, fmt.Errorf("--data and --json are mutually exclusive")
	}
	if c.IsSet("json") {
		var dict map[string]interface{}
		if err := json.Unmarshal([]byte(c.String("json")), &dict); err != nil {
			return nil, fmt.Errorf("--json must be a JSON object: %w", err)
		}
		return headers.EncodeDictionary(dict)
	}
	if c.IsSet("data") {
		return []byte(c.String("data")), nil
	}
	return nil, nil
}

func requestMethod(c *cli.Context, payload []byte) string {
	if m := c.String("method"); m != "" {
		return strings.ToUpper(m)
	}
	if payload != nil {
		return http.MethodPost
	}
	return http.MethodGet
}

func headersCommand(c *cli.Context) error {
	id, err := loadIdentity(c)
	if err != nil {
		return err
	}

	timestamp := c.String("timestamp")
	if timestamp == "" {
		timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	}

	if image := c.String("image"); image != "" {
		return multipartHeaders(c, id, image, timestamp)
	}

	payload, err := requestPayload(c)
	if err != nil {
		return err
	}
	m, err := headers.Generate(id, headers.Request{
		Method:    requestMethod(c, payload),
		Path:      c.String("path"),
		Timestamp: timestamp,
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	return printJSON(m.Strings())
}

func multipartHeaders(c *cli.Context, id *cereal.Cereal, image, timestamp string) error {
	output := c.String("output")
	if output == "" {
		return fmt.Errorf("--output is required with --image")
	}
	png, err := os.ReadFile(image)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	body := &headers.MultipartBody{
		Boundary: c.String("boundary"),
		Parts:    []headers.Part{headers.ImagePart(filepath.Base(image), png)},
	}
	data, err := body.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, data, 0o600); err != nil {
		return fmt.Errorf("failed to write multipart body: %w", err)
	}

	m, err := headers.MultipartHeaders(id, strings.ToUpper(c.String("method")), body.Boundary, c.String("path"), timestamp, data)
	if err != nil {
		return err
	}
	return printJSON(m.Strings())
}

func verifyCommand(c *cli.Context) error {
	payload, err := requestPayload(c)
	if err != nil {
		return err
	}

	cfg := verifier.Config{Window: c.Duration("window")}
	if cfg.Window == 0 {
		// Accept any timestamp by centring the window on it.
		ts, err := strconv.ParseInt(c.String("timestamp"), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		cfg.Window = time.Second
		cfg.Now = func() time.Time { return time.Unix(ts, 0) }
	}

	res, err := verifier.NewVerifier(cfg).Verify(requestMethod(c, payload), c.String("path"), payload, headers.HeaderMap{
		headers.Timestamp: c.String("timestamp"),
		headers.Address:   c.String("address"),
		headers.Signature: c.String("signature"),
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"valid":     true,
		"toshi_id":  strings.ToLower(res.Address.Hex()),
		"timestamp": res.Timestamp.Unix(),
	})
}

func callCommand(c *cli.Context) error {
	id, err := loadIdentity(c)
	if err != nil {
		return err
	}
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	client, err := transport.NewClient(&transport.ClientConfig{
		BaseURL:  c.String("url"),
		Identity: transport.StaticIdentity(id),
		Timeout:  c.Duration("timeout"),
		Logger:   l,
	})
	if err != nil {
		return err
	}

	payload, err := requestPayload(c)
	if err != nil {
		return err
	}
	contentType := ""
	if payload != nil {
		contentType = headers.JSONContentType
	}

	resp, err := client.Do(c.Context, requestMethod(c, payload), c.String("path"), payload, contentType)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(resp.Body)
	return err
}

func userCommand(c *cli.Context) error {
	client, err := idAPI.NewClient(&idAPI.ClientConfig{
		BaseURL: c.String("url"),
		Holder:  cereal.NewHolder(nil),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	user, err := client.RetrieveUser(ctx, c.String("id"))
	if err != nil {
		return err
	}
	return printJSON(user)
}
