// Package providers holds the thin HTTP clients behind the sync
// executors. They fetch and normalize; all persistence happens in the
// sync service.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"gemindex/internal/sync"
)

const (
	pokemonTCGBase  = "https://api.pokemontcg.io/v2"
	defaultPageSize = 250
	retryDelay      = 350 * time.Millisecond
	fetchRetries    = 2
)

// PokemonTCGClient talks to the PokemonTCG API. The API key is
// optional; without it the API applies stricter rate limits.
type PokemonTCGClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewPokemonTCGClient(apiKey string) *PokemonTCGClient {
	return &PokemonTCGClient{
		baseURL:    pokemonTCGBase,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type pokeTCGSet struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Series       string `json:"series"`
	ReleaseDate  string `json:"releaseDate"`
	PrintedTotal int    `json:"printedTotal"`
	Total        int    `json:"total"`
	Images       struct {
		Symbol string `json:"symbol"`
		Logo   string `json:"logo"`
	} `json:"images"`
}

type pokeTCGPriceRow struct {
	Low       float64 `json:"low"`
	Mid       float64 `json:"mid"`
	High      float64 `json:"high"`
	Market    float64 `json:"market"`
	DirectLow float64 `json:"directLow"`
}

type pokeTCGCard struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Number    string   `json:"number"`
	Rarity    string   `json:"rarity"`
	Supertype string   `json:"supertype"`
	Subtypes  []string `json:"subtypes"`
	Set       struct {
		ID string `json:"id"`
	} `json:"set"`
	Images struct {
		Small string `json:"small"`
		Large string `json:"large"`
	} `json:"images"`
	TCGPlayer struct {
		URL       string                     `json:"url"`
		UpdatedAt string                     `json:"updatedAt"`
		Prices    map[string]pokeTCGPriceRow `json:"prices"`
	} `json:"tcgplayer"`
	Cardmarket struct {
		URL    string `json:"url"`
		Prices struct {
			AverageSellPrice float64 `json:"averageSellPrice"`
			TrendPrice       float64 `json:"trendPrice"`
		} `json:"prices"`
	} `json:"cardmarket"`
}

type pokeTCGPage[T any] struct {
	Data       []T `json:"data"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Count      int `json:"count"`
	TotalCount int `json:"totalCount"`
}

func (c *PokemonTCGClient) FetchSets(ctx context.Context) ([]sync.LiveSet, error) {
	sets, err := fetchAllPages[pokeTCGSet](ctx, c, "/sets", 0)
	if err != nil {
		return nil, err
	}

	out := make([]sync.LiveSet, 0, len(sets))
	for _, s := range sets {
		out = append(out, sync.LiveSet{
			ExternalID:   s.ID,
			Code:         s.ID,
			Name:         s.Name,
			Series:       s.Series,
			ReleaseDate:  s.ReleaseDate,
			PrintedTotal: s.PrintedTotal,
			Total:        s.Total,
			SymbolURL:    s.Images.Symbol,
			LogoURL:      s.Images.Logo,
		})
	}
	return out, nil
}

func (c *PokemonTCGClient) FetchCards(ctx context.Context, pageLimit int) ([]sync.LiveCard, error) {
	cards, err := fetchAllPages[pokeTCGCard](ctx, c, "/cards", pageLimit)
	if err != nil {
		return nil, err
	}

	out := make([]sync.LiveCard, 0, len(cards))
	for _, card := range cards {
		out = append(out, sync.LiveCard{
			ExternalID:       card.ID,
			SetExternalID:    card.Set.ID,
			Name:             card.Name,
			CardNumber:       card.Number,
			Rarity:           card.Rarity,
			ImageURL:         card.Images.Small,
			ImageLargeURL:    card.Images.Large,
			Supertype:        card.Supertype,
			Subtypes:         card.Subtypes,
			TCGPlayerURL:     card.TCGPlayer.URL,
			CardmarketURL:    card.Cardmarket.URL,
			TCGPlayerRawUSD:  pickTCGPlayerRaw(card.TCGPlayer.Prices),
			CardmarketRawEUR: pickCardmarketRaw(card.Cardmarket.Prices.TrendPrice, card.Cardmarket.Prices.AverageSellPrice),
			PriceAsOf:        parsePriceDate(card.TCGPlayer.UpdatedAt),
		})
	}
	return out, nil
}

func fetchAllPages[T any](ctx context.Context, c *PokemonTCGClient, path string, pageLimit int) ([]T, error) {
	var items []T
	page := 1

	for {
		result, err := fetchPage[T](ctx, c, path, page, fetchRetries)
		if err != nil {
			return nil, err
		}
		items = append(items, result.Data...)

		reachedTotal := page*result.PageSize >= result.TotalCount
		hitPageLimit := pageLimit > 0 && page >= pageLimit
		if reachedTotal || hitPageLimit || len(result.Data) == 0 {
			break
		}
		page++
	}

	return items, nil
}

func fetchPage[T any](ctx context.Context, c *PokemonTCGClient, path string, page, retries int) (pokeTCGPage[T], error) {
	var zero pokeTCGPage[T]

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(defaultPageSize))
	endpoint := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return zero, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && retries > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(retryDelay):
			}
			return fetchPage[T](ctx, c, path, page, retries-1)
		}
		return zero, fmt.Errorf("pokemontcg request failed (%d) for %s", resp.StatusCode, endpoint)
	}

	var result pokeTCGPage[T]
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return zero, fmt.Errorf("decode pokemontcg response: %w", err)
	}
	return result, nil
}

// pickTCGPlayerRaw picks the best available raw price, preferring
// holofoil variants the way the storefront does.
func pickTCGPlayerRaw(prices map[string]pokeTCGPriceRow) float64 {
	preferred := []string{
		"holofoil",
		"normal",
		"reverseHolofoil",
		"1stEditionHolofoil",
		"1stEditionNormal",
		"unlimitedHolofoil",
		"unlimitedNormal",
	}

	for _, variant := range preferred {
		row, ok := prices[variant]
		if !ok {
			continue
		}
		for _, value := range []float64{row.Market, row.Mid, row.Low} {
			if value > 0 {
				return value
			}
		}
	}
	return 0
}

func pickCardmarketRaw(trend, average float64) float64 {
	if trend > 0 {
		return trend
	}
	if average > 0 {
		return average
	}
	return 0
}

func parsePriceDate(value string) time.Time {
	for _, layout := range []string{"2006/01/02", "2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Now()
}
