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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/petmarket/internal/version"
)

type loadMode string

const (
	// modeRace — несколько покупателей одновременно берут одни и те же товары.
	modeRace loadMode = "race"
	// modeCreateCancel — каждый покупатель берёт свой товар и сразу отменяет заказ.
	modeCreateCancel loadMode = "create-cancel"
)

type config struct {
	baseURL     string
	products    int
	buyers      int
	concurrency int
	timeout     time.Duration
	mode        loadMode
	amount      string
	outputPath  string
}

func (c config) validate() error {
	positive := []struct {
		name  string
		value int64
	}{
		{"products", int64(c.products)},
		{"buyers", int64(c.buyers)},
		{"concurrency", int64(c.concurrency)},
		{"timeout", int64(c.timeout)},
	}
	if c.baseURL == "" {
		return errors.New("url is required")
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be > 0", p.name)
		}
	}
	if strings.TrimSpace(c.amount) == "" {
		return errors.New("amount is required")
	}
	return nil
}

func parseConfig(args []string) (config, error) {
	cfg := config{}
	mode := string(modeRace)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "marketplace HTTP API base URL")
	fs.IntVar(&cfg.products, "products", 20, "products listed before the run")
	fs.IntVar(&cfg.buyers, "buyers", 10, "buyers per product in race mode")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "parallel workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", mode, "race | create-cancel")
	fs.StringVar(&cfg.amount, "amount", "$100", "product price as text")
	fs.StringVar(&cfg.outputPath, "output", "", "JSON report file")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	switch m := loadMode(strings.TrimSpace(mode)); m {
	case modeRace, modeCreateCancel:
		cfg.mode = m
	default:
		return cfg, fmt.Errorf("unsupported mode: %s", mode)
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	return cfg, cfg.validate()
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fail("invalid config", err)
	}

	result, err := run(context.Background(), cfg, &http.Client{Timeout: cfg.timeout})
	if err != nil {
		fail("load test failed", err)
	}
	printReport(os.Stdout, result, cfg)

	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			fail("write report", err)
		}
	}
	if result.DoubleSold > 0 || result.Errors > 0 {
		os.Exit(1)
	}
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

// client ходит в HTTP API и складывает каждый ответ в collector.
type client struct {
	http    *http.Client
	baseURL string
	col     *collector
}

type job struct {
	productID string
	buyerID   string
}

func run(ctx context.Context, cfg config, httpClient *http.Client) (report, error) {
	c := &client{http: httpClient, baseURL: cfg.baseURL, col: newCollector()}
	runID := uuid.NewString()[:8]
	seller := "lt-seller-" + runID

	products := make([]string, cfg.products)
	for i := range products {
		id, err := c.listProduct(ctx, seller, fmt.Sprintf("Load pet %d", i), cfg.amount)
		if err != nil {
			return report{}, fmt.Errorf("list product: %w", err)
		}
		products[i] = id
	}

	buyers := cfg.buyers
	if cfg.mode == modeCreateCancel {
		buyers = 1
	}

	jobs := make(chan job)
	startedAt := time.Now()
	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				c.runScenario(ctx, cfg.mode, j)
			}
		}()
	}
	for b := range buyers {
		buyer := fmt.Sprintf("lt-buyer-%s-%d", runID, b)
		for _, id := range products {
			jobs <- job{productID: id, buyerID: buyer}
		}
	}
	close(jobs)
	wg.Wait()

	return c.col.buildReport(startedAt, time.Since(startedAt), len(products)), nil
}

func (c *client) runScenario(ctx context.Context, mode loadMode, j job) {
	orderID, code := c.createOrder(ctx, j)
	if code != http.StatusCreated {
		return
	}
	c.col.won(j.productID, j.buyerID)
	if mode == modeCreateCancel {
		c.cancelOrder(ctx, orderID, j.buyerID)
	}
}

// do возвращает HTTP-код ответа или 0, если запрос не дошёл.
func (c *client) do(ctx context.Context, call, method, path, userID string, body, out any) int {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent("loadtest"))
	req.Header.Set("X-User-ID", userID)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	start := time.Now()
	resp, err := c.http.Do(req)
	code := 0
	if err == nil {
		defer resp.Body.Close()
		code = resp.StatusCode
	}
	c.col.record(call, time.Since(start), code)

	if code >= 200 && code < 300 && out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return code
}

type created struct {
	ID string `json:"id"`
}

func (c *client) listProduct(ctx context.Context, sellerID, name, amount string) (string, error) {
	var product created
	body := map[string]string{"name": name, "amount": amount, "category": "Load"}
	if code := c.do(ctx, "CreateProduct", http.MethodPost, "/products", sellerID, body, &product); code != http.StatusCreated || product.ID == "" {
		return "", fmt.Errorf("unexpected status %s", codeLabel(code))
	}
	return product.ID, nil
}

func (c *client) createOrder(ctx context.Context, j job) (string, int) {
	var order created
	code := c.do(ctx, "CreateOrder", http.MethodPost, "/orders", j.buyerID, map[string]any{
		"items":    []map[string]any{{"productId": j.productID, "quantity": 1}},
		"shipping": map[string]string{"name": j.buyerID},
	}, &order)
	return order.ID, code
}

func (c *client) cancelOrder(ctx context.Context, orderID, buyerID string) int {
	return c.do(ctx, "CancelOrder", http.MethodPost, "/orders/"+orderID+"/cancel", buyerID, nil, nil)
}
