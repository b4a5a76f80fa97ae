package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gsync "gemindex/internal/sync"
)

const (
	tcgplayerBase      = "https://api.tcgplayer.com"
	pokemonCategoryID  = 3
	groupPageSize      = 100
	pricePageGroupSize = 10
)

// TCGPlayerClient talks to the TCGplayer REST API using the
// client-credentials flow. Tokens are cached until shortly before
// expiry.
type TCGPlayerClient struct {
	publicKey  string
	privateKey string
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewTCGPlayerClient(publicKey, privateKey string) *TCGPlayerClient {
	return &TCGPlayerClient{
		publicKey:  publicKey,
		privateKey: privateKey,
		baseURL:    tcgplayerBase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether credentials were supplied. An
// unconfigured client must not be registered as a provider.
func (c *TCGPlayerClient) Configured() bool {
	return c.publicKey != "" && c.privateKey != ""
}

type tcgGroup struct {
	GroupID int    `json:"groupId"`
	Name    string `json:"name"`
}

type tcgProduct struct {
	ProductID int    `json:"productId"`
	Name      string `json:"name"`
	GroupID   int    `json:"groupId"`
}

type tcgPrice struct {
	ProductID   int     `json:"productId"`
	MarketPrice float64 `json:"marketPrice"`
	SubTypeName string  `json:"subTypeName"`
}

type tcgEnvelope[T any] struct {
	Results    []T  `json:"results"`
	TotalItems int  `json:"totalItems"`
	Success    bool `json:"success"`
}

// FetchPrices loads recent Pokemon groups, their products, and the
// market prices for those products. cardLimit bounds the number of
// products fetched; zero means no bound.
func (c *TCGPlayerClient) FetchPrices(ctx context.Context, cardLimit int) ([]gsync.DirectPrice, int, error) {
	groups, err := c.fetchGroups(ctx)
	if err != nil {
		return nil, 0, err
	}

	groupNames := make(map[int]string, len(groups))
	var products []tcgProduct
	for _, group := range groups {
		groupNames[group.GroupID] = group.Name

		page, err := c.fetchProducts(ctx, group.GroupID)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, page...)
		if cardLimit > 0 && len(products) >= cardLimit {
			products = products[:cardLimit]
			break
		}
	}

	now := time.Now()
	var prices []gsync.DirectPrice
	for start := 0; start < len(products); start += groupPageSize {
		end := min(start+groupPageSize, len(products))
		batch := products[start:end]

		rows, err := c.fetchMarketPrices(ctx, batch)
		if err != nil {
			return nil, 0, err
		}

		byProduct := make(map[int]tcgProduct, len(batch))
		for _, p := range batch {
			byProduct[p.ProductID] = p
		}
		for _, row := range rows {
			if row.MarketPrice <= 0 {
				continue
			}
			product, ok := byProduct[row.ProductID]
			if !ok {
				continue
			}
			prices = append(prices, gsync.DirectPrice{
				ProductID: row.ProductID,
				Name:      product.Name,
				GroupName: groupNames[product.GroupID],
				MarketUSD: row.MarketPrice,
				AsOf:      now,
			})
		}
	}

	return prices, len(groups), nil
}

func (c *TCGPlayerClient) fetchGroups(ctx context.Context) ([]tcgGroup, error) {
	endpoint := fmt.Sprintf("%s/catalog/categories/%d/groups?limit=%d&sortOrder=publishedOn&sortDesc=true",
		c.baseURL, pokemonCategoryID, groupPageSize)
	env, err := doTCGRequest[tcgGroup](ctx, c, endpoint)
	if err != nil {
		return nil, err
	}
	// Only the most recent groups matter for direct pricing.
	if len(env.Results) > pricePageGroupSize {
		env.Results = env.Results[:pricePageGroupSize]
	}
	return env.Results, nil
}

func (c *TCGPlayerClient) fetchProducts(ctx context.Context, groupID int) ([]tcgProduct, error) {
	endpoint := fmt.Sprintf("%s/catalog/products?categoryId=%d&groupId=%d&productTypes=Cards&limit=%d",
		c.baseURL, pokemonCategoryID, groupID, groupPageSize)
	env, err := doTCGRequest[tcgProduct](ctx, c, endpoint)
	if err != nil {
		return nil, err
	}
	return env.Results, nil
}

func (c *TCGPlayerClient) fetchMarketPrices(ctx context.Context, products []tcgProduct) ([]tcgPrice, error) {
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, strconv.Itoa(p.ProductID))
	}

	endpoint := c.baseURL + "/pricing/product/" + strings.Join(ids, ",")
	env, err := doTCGRequest[tcgPrice](ctx, c, endpoint)
	if err != nil {
		return nil, err
	}

	// Keep one price per product, preferring the Normal subtype.
	best := make(map[int]tcgPrice, len(env.Results))
	for _, row := range env.Results {
		current, seen := best[row.ProductID]
		if !seen || (current.SubTypeName != "Normal" && row.SubTypeName == "Normal") {
			best[row.ProductID] = row
		}
	}
	out := make([]tcgPrice, 0, len(best))
	for _, row := range best {
		out = append(out, row)
	}
	return out, nil
}

func doTCGRequest[T any](ctx context.Context, c *TCGPlayerClient, endpoint string) (tcgEnvelope[T], error) {
	var zero tcgEnvelope[T]

	token, err := c.accessToken(ctx)
	if err != nil {
		return zero, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return zero, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	// The pricing endpoint returns 404 when none of the requested
	// products have prices; treat that as an empty result.
	if resp.StatusCode == http.StatusNotFound {
		return tcgEnvelope[T]{Success: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return zero, fmt.Errorf("tcgplayer request failed (%d) for %s", resp.StatusCode, endpoint)
	}

	var env tcgEnvelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return zero, fmt.Errorf("decode tcgplayer response: %w", err)
	}
	return env, nil
}

func (c *TCGPlayerClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.publicKey)
	form.Set("client_secret", c.privateKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tcgplayer token request failed (%d)", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode tcgplayer token: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("tcgplayer token response missing access_token")
	}

	c.token = body.AccessToken
	// Refresh a minute early to avoid racing expiry mid-request.
	c.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}
