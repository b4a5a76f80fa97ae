// Package sync implements the concrete executors behind the sync job
// types: catalog refresh, sales-only refresh, and direct TCGplayer
// pricing. Providers fetch; all document writes go through the store's
// mutation primitive.
package sync

import (
	"context"
	"math"
	"strings"
	"time"

	"gemindex/internal/models"
	"gemindex/internal/storage"
	"gemindex/internal/worker"

	"github.com/rs/zerolog"
)

// LiveSet is a provider-normalized card set.
type LiveSet struct {
	ExternalID   string
	Code         string
	Name         string
	Series       string
	ReleaseDate  string
	PrintedTotal int
	Total        int
	SymbolURL    string
	LogoURL      string
}

// LiveCard is a provider-normalized card with current raw price
// points. Zero price fields mean "no price published".
type LiveCard struct {
	ExternalID       string
	SetExternalID    string
	Name             string
	CardNumber       string
	Rarity           string
	ImageURL         string
	ImageLargeURL    string
	Supertype        string
	Subtypes         []string
	TCGPlayerURL     string
	CardmarketURL    string
	TCGPlayerRawUSD  float64
	CardmarketRawEUR float64
	PriceAsOf        time.Time
}

// CatalogProvider fetches the live card catalog.
type CatalogProvider interface {
	FetchSets(ctx context.Context) ([]LiveSet, error)
	FetchCards(ctx context.Context, pageLimit int) ([]LiveCard, error)
}

// DirectPrice is one product price point from the direct TCGplayer
// feed.
type DirectPrice struct {
	ProductID int
	Name      string
	GroupName string
	MarketUSD float64
	AsOf      time.Time
}

// DirectPriceProvider fetches prices straight from TCGplayer.
type DirectPriceProvider interface {
	FetchPrices(ctx context.Context, cardLimit int) (prices []DirectPrice, groupsLoaded int, err error)
}

const (
	providerPokemonTCG          = "POKEMONTCG"
	providerPokemonTCGTCGPlayer = "POKEMONTCG_TCGPLAYER"
	providerPokemonCardmarket   = "POKEMONTCG_CARDMARKET"
	providerTCGPlayerDirect     = "TCGPLAYER_DIRECT"

	catalogProviderName = "PokemonTCG API"
)

type Service struct {
	store    *storage.Store
	catalog  CatalogProvider
	direct   DirectPriceProvider
	eurToUSD float64
	logger   zerolog.Logger
}

func NewService(store *storage.Store, catalog CatalogProvider, direct DirectPriceProvider, eurToUSD float64, logger *zerolog.Logger) *Service {
	if eurToUSD <= 0 {
		eurToUSD = 1.08
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Service{store: store, catalog: catalog, direct: direct, eurToUSD: eurToUSD, logger: l}
}

// RegisterExecutors wires the three job types onto a runner.
func (s *Service) RegisterExecutors(r *worker.Runner) {
	r.Register(models.JobTypeCatalogSync, s.SyncCatalog)
	r.Register(models.JobTypeSalesSync, s.SyncSalesOnly)
	r.Register(models.JobTypeTCGPlayerDirectSync, s.SyncDirectTCGPlayer)
}

// SyncCatalog refreshes sets and cards and records today's raw price
// points as sales.
func (s *Service) SyncCatalog(ctx context.Context, opts *models.SyncOptions) (map[string]int, error) {
	pageLimit := 0
	if opts != nil {
		pageLimit = opts.PageLimit
	}

	liveSets, err := s.catalog.FetchSets(ctx)
	if err != nil {
		return nil, err
	}
	liveCards, err := s.catalog.FetchCards(ctx, pageLimit)
	if err != nil {
		return nil, err
	}

	var tcgplayerSales, cardmarketSales int
	err = s.store.Mutate(ctx, func(doc *models.Document) error {
		setIDByExternal := make(map[string]string, len(liveSets))
		for _, ls := range liveSets {
			record := upsertSet(doc, ls)
			setIDByExternal[ls.ExternalID] = record.ID
		}

		for _, lc := range liveCards {
			setID, ok := setIDByExternal[lc.SetExternalID]
			if !ok {
				continue
			}
			card := upsertCard(doc, setID, lc)
			t, c := s.upsertPriceSales(doc, card, lc)
			tcgplayerSales += t
			cardmarketSales += c
		}

		now := time.Now()
		doc.Sync.LastCatalogSyncAt = &now
		doc.Sync.LastCatalogProvider = catalogProviderName
		doc.Sync.LastSalesSyncAt = &now
		doc.Sync.LastSalesProviders = []string{providerPokemonTCGTCGPlayer, providerPokemonCardmarket}
		doc.Sync.LastError = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]int{
		"setsUpserted":            len(liveSets),
		"cardsUpserted":           len(liveCards),
		"tcgplayerSalesUpserted":  tcgplayerSales,
		"cardmarketSalesUpserted": cardmarketSales,
	}, nil
}

// SyncSalesOnly records fresh price points for cards already in the
// catalog without touching set/card metadata.
func (s *Service) SyncSalesOnly(ctx context.Context, opts *models.SyncOptions) (map[string]int, error) {
	pageLimit := 0
	if opts != nil {
		pageLimit = opts.PageLimit
	}

	liveCards, err := s.catalog.FetchCards(ctx, pageLimit)
	if err != nil {
		return nil, err
	}

	var tcgplayerSales, cardmarketSales int
	err = s.store.Mutate(ctx, func(doc *models.Document) error {
		byExternal := make(map[string]*models.CardRecord, len(doc.Cards))
		for i := range doc.Cards {
			byExternal[doc.Cards[i].ExternalID] = &doc.Cards[i]
		}

		for _, lc := range liveCards {
			card, ok := byExternal[lc.ExternalID]
			if !ok {
				continue
			}
			t, c := s.upsertPriceSales(doc, card, lc)
			tcgplayerSales += t
			cardmarketSales += c
		}

		now := time.Now()
		doc.Sync.LastSalesSyncAt = &now
		doc.Sync.LastSalesProviders = []string{providerPokemonTCGTCGPlayer, providerPokemonCardmarket}
		doc.Sync.LastError = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]int{
		"cardsProcessed":          len(liveCards),
		"tcgplayerSalesUpserted":  tcgplayerSales,
		"cardmarketSalesUpserted": cardmarketSales,
	}, nil
}

// SyncDirectTCGPlayer matches direct price points against the catalog
// by normalized card name and records them as sales.
func (s *Service) SyncDirectTCGPlayer(ctx context.Context, opts *models.SyncOptions) (map[string]int, error) {
	cardLimit := 0
	if opts != nil {
		cardLimit = opts.CardLimit
	}

	prices, groupsLoaded, err := s.direct.FetchPrices(ctx, cardLimit)
	if err != nil {
		return nil, err
	}

	var evaluated, matched, upserted int
	err = s.store.Mutate(ctx, func(doc *models.Document) error {
		byName := make(map[string]DirectPrice, len(prices))
		for _, p := range prices {
			byName[normalizeName(p.Name)] = p
		}

		for i := range doc.Cards {
			if cardLimit > 0 && evaluated >= cardLimit {
				break
			}
			evaluated++

			price, ok := byName[normalizeName(doc.Cards[i].Name)]
			if !ok || price.MarketUSD <= 0 {
				continue
			}
			matched++

			asOf := price.AsOf
			if asOf.IsZero() {
				asOf = time.Now()
			}
			upsertSale(doc, models.SaleRecord{
				ID:          models.NextID("sale"),
				CardID:      doc.Cards[i].ID,
				Condition:   "RAW",
				PriceUSD:    round2(price.MarketUSD),
				SaleDate:    asOf,
				Source:      "TCGplayer Direct API",
				Provider:    providerTCGPlayerDirect,
				ProviderRef: providerRef("tcgplayer_direct", doc.Cards[i].ExternalID, asOf),
				Currency:    "USD",
			})
			upserted++
		}

		now := time.Now()
		doc.Sync.LastSalesSyncAt = &now
		doc.Sync.LastSalesProviders = appendUnique(doc.Sync.LastSalesProviders, providerTCGPlayerDirect)
		doc.Sync.LastError = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]int{
		"cardsEvaluated": evaluated,
		"cardsMatched":   matched,
		"pricesUpserted": upserted,
		"groupsLoaded":   groupsLoaded,
	}, nil
}

// upsertPriceSales records one RAW sale per published price point,
// keyed per card per day so re-syncs update rather than duplicate.
func (s *Service) upsertPriceSales(doc *models.Document, card *models.CardRecord, lc LiveCard) (tcgplayer, cardmarket int) {
	asOf := lc.PriceAsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	if lc.TCGPlayerRawUSD > 0 {
		upsertSale(doc, models.SaleRecord{
			ID:          models.NextID("sale"),
			CardID:      card.ID,
			Condition:   "RAW",
			PriceUSD:    round2(lc.TCGPlayerRawUSD),
			SaleDate:    asOf,
			Source:      "PokemonTCG API - TCGplayer",
			Provider:    providerPokemonTCGTCGPlayer,
			ProviderRef: providerRef("ptcg_tcgplayer", lc.ExternalID, asOf),
			Currency:    "USD",
		})
		tcgplayer++
	}

	if lc.CardmarketRawEUR > 0 {
		upsertSale(doc, models.SaleRecord{
			ID:          models.NextID("sale"),
			CardID:      card.ID,
			Condition:   "RAW",
			PriceUSD:    round2(lc.CardmarketRawEUR * s.eurToUSD),
			SaleDate:    asOf,
			Source:      "PokemonTCG API - Cardmarket",
			Provider:    providerPokemonCardmarket,
			ProviderRef: providerRef("ptcg_cardmarket", lc.ExternalID, asOf),
			Currency:    "EUR",
		})
		cardmarket++
	}

	return tcgplayer, cardmarket
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func providerRef(provider, externalID string, asOf time.Time) string {
	return provider + ":" + externalID + ":" + asOf.Format("2006-01-02")
}

func normalizeName(name string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
