// Command relayctl operates a running relay through its ops API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/leafline-pos/ocs-relay/internal/convert"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// ---- api client ----

type apiClient struct {
	base string
	hc   *http.Client
}

func newAPIClient(addr string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(addr, "/"),
		hc:   &http.Client{Timeout: timeout},
	}
}

// do runs one request; a non-2xx status becomes an error carrying the body's
// error field.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var e struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&e)
	if e.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return errors.New(resp.Status)
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// readSecret returns v, or stdin when v is "-".
func readSecret(v string) (string, error) {
	if v != "-" {
		return v, nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `relayctl
Usage:
  relayctl -addr URL [-actor NAME] <cmd> [args]

Commands:
  version
  status                                             ledger totals per status
  dead-letters   [-limit N]
  submission     -id UUID
  requeue        -id UUID                            dead_letter -> pending
  abandon        -id UUID [-reason TEXT]             give up on a record
  set-credential -store UUID -client-id ID -client-secret SECRET|-
                 [-refresh-token RT] [-scope SCOPE]
  asn-sync       -store UUID                         fetch shipment notices now
  audit          -id UUID [-limit N]                 trail for one submission
`)
	os.Exit(2)
}

// ---- main ----

// main dispatches subcommands against the ops API.
func main() {
	addr := flag.String("addr", "http://localhost:8080", "relay ops API base URL")
	actor := flag.String("actor", os.Getenv("USER"), "operator name recorded in the audit trail")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cli := newAPIClient(*addr, *timeout)

	switch cmd {

	case "version":
		fmt.Printf("relayctl %s (%s)\n", version, buildDate)

	case "status":
		var out convert.StatusJSON
		if err := cli.get(ctx, "/api/v1/status", &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "dead-letters":
		fs := flag.NewFlagSet("dead-letters", flag.ExitOnError)
		limit := fs.Int("limit", 0, "max rows")
		_ = fs.Parse(args)

		var out []convert.SubmissionJSON
		if err := cli.get(ctx, fmt.Sprintf("/api/v1/submissions/dead-letters?limit=%d", *limit), &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "submission":
		fs := flag.NewFlagSet("submission", flag.ExitOnError)
		id := fs.String("id", "", "submission id")
		_ = fs.Parse(args)
		if *id == "" {
			fail(errors.New("need -id"))
		}

		var out convert.SubmissionJSON
		if err := cli.get(ctx, "/api/v1/submissions/"+*id, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "requeue":
		fs := flag.NewFlagSet("requeue", flag.ExitOnError)
		id := fs.String("id", "", "submission id")
		_ = fs.Parse(args)
		if *id == "" {
			fail(errors.New("need -id"))
		}

		var out map[string]string
		body := map[string]string{"actor": *actor}
		if err := cli.do(ctx, http.MethodPost, "/api/v1/submissions/"+*id+"/requeue", body, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "abandon":
		fs := flag.NewFlagSet("abandon", flag.ExitOnError)
		id := fs.String("id", "", "submission id")
		reason := fs.String("reason", "", "why the record is being given up")
		_ = fs.Parse(args)
		if *id == "" {
			fail(errors.New("need -id"))
		}

		var out map[string]string
		body := map[string]string{"actor": *actor, "reason": *reason}
		if err := cli.do(ctx, http.MethodPost, "/api/v1/submissions/"+*id+"/abandon", body, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "set-credential":
		fs := flag.NewFlagSet("set-credential", flag.ExitOnError)
		store := fs.String("store", "", "store id")
		clientID := fs.String("client-id", "", "OAuth client id")
		clientSecret := fs.String("client-secret", "", "OAuth client secret, or - for stdin")
		refreshToken := fs.String("refresh-token", "", "optional refresh token")
		scope := fs.String("scope", "", "optional scope")
		_ = fs.Parse(args)
		if *store == "" || *clientID == "" || *clientSecret == "" {
			fail(errors.New("need -store, -client-id and -client-secret"))
		}

		secret, err := readSecret(*clientSecret)
		if err != nil {
			fail(err)
		}
		body := map[string]string{
			"client_id":     *clientID,
			"client_secret": secret,
			"refresh_token": *refreshToken,
			"scope":         *scope,
			"actor":         *actor,
		}
		if err := cli.do(ctx, http.MethodPut, "/api/v1/stores/"+*store+"/credential", body, nil); err != nil {
			fail(err)
		}
		fmt.Println("credential stored")

	case "asn-sync":
		fs := flag.NewFlagSet("asn-sync", flag.ExitOnError)
		store := fs.String("store", "", "store id")
		_ = fs.Parse(args)
		if *store == "" {
			fail(errors.New("need -store"))
		}

		var out convert.SyncResultJSON
		if err := cli.do(ctx, http.MethodPost, "/api/v1/stores/"+*store+"/asn/sync", nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "audit":
		fs := flag.NewFlagSet("audit", flag.ExitOnError)
		id := fs.String("id", "", "submission id")
		limit := fs.Int("limit", 0, "max rows")
		_ = fs.Parse(args)
		if *id == "" {
			fail(errors.New("need -id"))
		}

		var out []convert.AuditEntryJSON
		if err := cli.get(ctx, fmt.Sprintf("/api/v1/submissions/%s/audit?limit=%d", *id, *limit), &out); err != nil {
			fail(err)
		}
		printJSON(out)

	default:
		usage()
	}
}
