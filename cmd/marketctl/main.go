package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"servicemarket/cmd/internal/passphrase"
	"servicemarket/crypto"
	"servicemarket/gateway/middleware"
)

const keyPassEnv = "MARKET_KEY_PASSPHRASE"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage() string {
	return `usage: marketctl [--api URL] [--principal svc1...|--keystore FILE] [--token JWT] <command> [flags]

commands:
  registry                         show the registry
  init [--royalty N]               initialise the registry (caller becomes authority)
  royalty --percent N              update the royalty percent
  pause --paused=true|false        pause or resume settlement
  mint --name N --uri U            mint a service asset
  list --name N --price P --asset ID --payment SYM [--soulbound] [--description D]
  show --listing ID|NAME           show a listing
  listings [--status S]            list listings
  buy --listing ID|NAME            purchase a listing
  resell --listing ID|NAME --price P
  withdraw --listing ID|NAME       withdraw an escrowed listing
  deposit --account A --asset SYM --amount N
  balance --account A --asset SYM
  treasury --asset SYM
  events [--type T] [--after N]    query the event journal
  keygen --out FILE                create an encrypted keystore
  token --secret S [--scopes a,b] [--ttl 1h]   mint a bearer token`
}

func run(args []string, stdout, stderr io.Writer) int {
	defaultAPI := strings.TrimSpace(os.Getenv("MARKET_API_URL"))
	if defaultAPI == "" {
		defaultAPI = "http://127.0.0.1:7080"
	}
	root := flag.NewFlagSet("marketctl", flag.ContinueOnError)
	root.SetOutput(stderr)
	apiURL := root.String("api", defaultAPI, "marketd HTTP endpoint")
	principalFlag := root.String("principal", strings.TrimSpace(os.Getenv("MARKET_PRINCIPAL")), "caller principal (dev mode)")
	keystorePath := root.String("keystore", "", "derive the caller principal from this keystore")
	token := root.String("token", strings.TrimSpace(os.Getenv("MARKET_TOKEN")), "bearer token")
	if err := root.Parse(args); err != nil {
		return 2
	}
	rest := root.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	principal, err := resolvePrincipal(*principalFlag, *keystorePath)
	if err != nil {
		fmt.Fprintf(stderr, "marketctl: %v\n", err)
		return 1
	}
	c := newClient(*apiURL, *token, principal)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd, cmdArgs := rest[0], rest[1:]
	var result any
	switch cmd {
	case "registry":
		result, err = get(ctx, c, "/v1/registry")
	case "init":
		result, err = runInit(ctx, c, cmdArgs)
	case "royalty":
		result, err = runRoyalty(ctx, c, cmdArgs)
	case "pause":
		result, err = runPause(ctx, c, cmdArgs)
	case "mint":
		result, err = runMint(ctx, c, cmdArgs)
	case "list":
		result, err = runList(ctx, c, cmdArgs)
	case "show":
		result, err = runListingAction(ctx, c, "show", cmdArgs)
	case "listings":
		result, err = runListings(ctx, c, cmdArgs)
	case "buy":
		result, err = runListingAction(ctx, c, "purchase", cmdArgs)
	case "withdraw":
		result, err = runListingAction(ctx, c, "withdraw", cmdArgs)
	case "resell":
		result, err = runResell(ctx, c, cmdArgs)
	case "deposit":
		result, err = runDeposit(ctx, c, cmdArgs)
	case "balance":
		result, err = runBalance(ctx, c, cmdArgs)
	case "treasury":
		result, err = runTreasury(ctx, c, cmdArgs)
	case "events":
		result, err = runEvents(ctx, c, cmdArgs)
	case "keygen":
		result, err = runKeygen(cmdArgs)
	case "token":
		result, err = runToken(principal, cmdArgs)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", cmd)
		fmt.Fprintln(stderr, usage())
		return 1
	}
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status >= http.StatusInternalServerError {
			fmt.Fprintf(stderr, "marketd error: %v\n", err)
			return 3
		}
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(stderr, "encode output: %v\n", err)
		return 1
	}
	return 0
}

func resolvePrincipal(raw, keystorePath string) ([20]byte, error) {
	if strings.TrimSpace(keystorePath) != "" {
		pass, err := passphrase.NewSource(keyPassEnv, "keystore passphrase").Get()
		if err != nil {
			return [20]byte{}, err
		}
		key, err := crypto.LoadFromKeystore(keystorePath, pass)
		if err != nil {
			return [20]byte{}, fmt.Errorf("load keystore: %w", err)
		}
		return key.PubKey().Address().Raw(), nil
	}
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, nil
	}
	return crypto.ParsePrincipal(raw)
}

func get(ctx context.Context, c *client, path string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func post(ctx context.Context, c *client, path string, body any) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodPost, path, body, &out)
	return out, err
}

func parseFlags(fs *flag.FlagSet, args []string, required ...string) error {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, name := range required {
		if strings.TrimSpace(fs.Lookup(name).Value.String()) == "" {
			return fmt.Errorf("--%s is required", name)
		}
	}
	return nil
}

func runInit(ctx context.Context, c *client, args []string) (any, error) {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	royalty := fs.Int("royalty", -1, "royalty percent (default keeps the engine default)")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	body := map[string]any{}
	if *royalty >= 0 {
		body["royaltyPercent"] = *royalty
	}
	return post(ctx, c, "/v1/registry", body)
}

func runRoyalty(ctx context.Context, c *client, args []string) (any, error) {
	fs := flag.NewFlagSet("royalty", flag.ContinueOnError)
	percent := fs.Int("percent", -1, "royalty percent")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	if *percent < 0 || *percent > 100 {
		return nil, errors.New("--percent must be between 0 and 100")
	}
	return post(ctx, c, "/v1/registry/royalty", map[string]any{"royaltyPercent": *percent})
}

func runPause(ctx context.Context, c *client, args []string) (any, error) {
	fs := flag.NewFlagSet("pause", flag.ContinueOnError)
	paused := fs.Bool("paused", true, "pause state")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	return post(ctx, c, "/v1/registry/pause", map[string]any{"paused": *paused})
}

func runMint(ctx context.Context, c *client, args []string) (any, error) {
	fs := flag.NewFlagSet("mint", flag.ContinueOnError)
	name := fs.String("name", "", "asset name")
	uri := fs.String("uri", "", "metadata URI")
	if err := parseFlags(fs, args, "name", "uri"); err != nil {
		return nil, err
	}
	return post(ctx, c, "/v1/assets", map[string]any{"name": *name, "uri": *uri})
}

func runList(ctx context.Context, c *client, args []string) (any, error) {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	name := fs.String("name", "", "listing name")
	description := fs.String("description", "", "listing description")
	price := fs.String("price", "", "price in payment asset units")
	asset := fs.String("asset", "", "asset id to escrow")
	payment := fs.String("payment", "", "payment asset symbol")
	soulbound := fs.Bool("soulbound", false, "forbid resale")
	if err := parseFlags(fs, args, "name", "price", "asset", "payment"); err != nil {
		return nil, err
	}
	return post(ctx, c, "/v1/listings", map[string]any{
		"name":         *name,
		"description":  *description,
		"price":        *price,
		"assetId":      *asset,
		"paymentAsset": *payment,
		"soulbound":    *soulbound,
	})
}

func runListings(ctx context.Context, c *client, args []string) (any, error) {
	fs := flag.NewFlagSet("listings", flag.ContinueOnError)
	status := fs.String("status", "", "escrowed, sold or withdrawn")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	path := "/v1/listings"
	if *status != "" {
		path += "?status=" + url.QueryEscape(*status)
	}
	return get(ctx, c, path)
}

func runListingAction(ctx context.Context, c *client, action string, args []string) (any, error) {
	fs := flag.NewFlagSet(action, flag.ContinueOnError)
	listing := fs.String("listing", "", "listing id or name")
	if err := parseFlags(fs, args, "listing"); err != nil {
		return nil, err
	}
	path := "/v1/listings/" + url.PathEscape(*listing)
	if action == "show" {
		return get(ctx, c, path)
	}
	return post(ctx, c, path+"/"+action, nil)
}

func runResell(ctx context.Context, c *client, args []string) (any, error) {
	fs := flag.NewFlagSet("resell", flag.ContinueOnError)
	listing := fs.String("listing", "", "listing id or name")
	price := fs.String("price", "", "resale price")
	if err := parseFlags(fs, args, "listing", "price"); err != nil {
		return nil, err
	}
	return post(ctx, c, "/v1/listings/"+url.PathEscape(*listing)+"/resell", map[string]any{"price": *price})
}

func runDeposit(ctx context.Context, c *client, args []string) (any, error) {
	fs := flag.NewFlagSet("deposit", flag.ContinueOnError)
	account := fs.String("account", "", "account principal")
	asset := fs.String("asset", "", "payment asset symbol")
	amount := fs.String("amount", "", "amount")
	if err := parseFlags(fs, args, "account", "asset", "amount"); err != nil {
		return nil, err
	}
	return post(ctx, c, "/v1/ledger/deposit", map[string]any{"account": *account, "asset": *asset, "amount": *amount})
}

func runBalance(ctx context.Context, c *client, args []string) (any, error) {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	account := fs.String("account", "", "account principal")
	asset := fs.String("asset", "", "payment asset symbol")
	if err := parseFlags(fs, args, "account", "asset"); err != nil {
		return nil, err
	}
	return get(ctx, c, "/v1/ledger/balances/"+url.PathEscape(*account)+"?asset="+url.QueryEscape(*asset))
}

func runTreasury(ctx context.Context, c *client, args []string) (any, error) {
	fs := flag.NewFlagSet("treasury", flag.ContinueOnError)
	asset := fs.String("asset", "", "payment asset symbol")
	if err := parseFlags(fs, args, "asset"); err != nil {
		return nil, err
	}
	return get(ctx, c, "/v1/treasury/"+url.PathEscape(*asset))
}

func runEvents(ctx context.Context, c *client, args []string) (any, error) {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	eventType := fs.String("type", "", "event type filter")
	after := fs.String("after", "", "return events after this journal id")
	limit := fs.String("limit", "", "page size")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	query := url.Values{}
	if *eventType != "" {
		query.Set("type", *eventType)
	}
	if *after != "" {
		query.Set("after", *after)
	}
	if *limit != "" {
		query.Set("limit", *limit)
	}
	path := "/v1/events"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return get(ctx, c, path)
}

func runKeygen(args []string) (any, error) {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	out := fs.String("out", "", "keystore output path")
	if err := parseFlags(fs, args, "out"); err != nil {
		return nil, err
	}
	pass, err := passphrase.NewSource(keyPassEnv, "new keystore passphrase").Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return nil, err
	}
	return map[string]string{
		"principal": key.PubKey().Address().String(),
		"keystore":  *out,
	}, nil
}

func runToken(principal [20]byte, args []string) (any, error) {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secret := fs.String("secret", strings.TrimSpace(os.Getenv("MARKET_AUTH_SECRET")), "HMAC secret shared with marketd")
	scopes := fs.String("scopes", "market:write", "comma separated scopes")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	issuer := fs.String("issuer", "", "issuer claim")
	audience := fs.String("audience", "", "audience claim")
	if err := parseFlags(fs, args, "secret"); err != nil {
		return nil, err
	}
	if principal == ([20]byte{}) {
		return nil, errors.New("--principal or --keystore is required")
	}
	var scopeList []string
	for _, scope := range strings.Split(*scopes, ",") {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			scopeList = append(scopeList, trimmed)
		}
	}
	signed, err := middleware.IssueToken(*secret, middleware.TokenRequest{
		Principal: principal,
		Scopes:    scopeList,
		Issuer:    *issuer,
		Audience:  *audience,
		TTL:       *ttl,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"token": signed, "principal": crypto.FormatPrincipal(principal)}, nil
}
