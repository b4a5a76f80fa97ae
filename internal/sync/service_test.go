package sync

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"gemindex/internal/models"
	"gemindex/internal/storage"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	sets  []LiveSet
	cards []LiveCard
}

func (f *fakeCatalog) FetchSets(context.Context) ([]LiveSet, error) { return f.sets, nil }

func (f *fakeCatalog) FetchCards(_ context.Context, _ int) ([]LiveCard, error) {
	return f.cards, nil
}

type fakeDirect struct {
	prices []DirectPrice
	groups int
}

func (f *fakeDirect) FetchPrices(context.Context, int) ([]DirectPrice, int, error) {
	return f.prices, f.groups, nil
}

func newServiceStore(t *testing.T) *storage.Store {
	t.Helper()
	logger := zerolog.New(io.Discard)
	store := storage.NewStore(storage.Options{
		Fallback: storage.NewFileBackend(filepath.Join(t.TempDir(), "state.json")),
		Logger:   &logger,
	})
	t.Cleanup(store.Close)
	return store
}

func testLiveCatalog() *fakeCatalog {
	asOf := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	return &fakeCatalog{
		sets: []LiveSet{
			{ExternalID: "sv8", Code: "sv8", Name: "Surging Sparks", Series: "Scarlet & Violet"},
		},
		cards: []LiveCard{
			{
				ExternalID:       "sv8-238",
				SetExternalID:    "sv8",
				Name:             "Pikachu ex",
				CardNumber:       "238",
				Rarity:           "Special Illustration Rare",
				TCGPlayerRawUSD:  412.37,
				CardmarketRawEUR: 380.50,
				PriceAsOf:        asOf,
			},
		},
	}
}

func TestSyncCatalogUpsertsAndRecordsPrices(t *testing.T) {
	store := newServiceStore(t)
	logger := zerolog.New(io.Discard)
	svc := NewService(store, testLiveCatalog(), nil, 1.10, &logger)
	ctx := context.Background()

	counters, err := svc.SyncCatalog(ctx, &models.SyncOptions{PageLimit: 5})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"setsUpserted":            1,
		"cardsUpserted":           1,
		"tcgplayerSalesUpserted":  1,
		"cardmarketSalesUpserted": 1,
	}, counters)

	doc, err := store.Read(ctx, true)
	require.NoError(t, err)

	var set *models.SetRecord
	for i := range doc.Sets {
		if doc.Sets[i].ExternalID == "sv8" {
			set = &doc.Sets[i]
		}
	}
	require.NotNil(t, set)
	assert.Equal(t, "set_ptcg-sv8", set.ID)
	assert.Equal(t, "Surging Sparks", set.Name)

	var card *models.CardRecord
	for i := range doc.Cards {
		if doc.Cards[i].ExternalID == "sv8-238" {
			card = &doc.Cards[i]
		}
	}
	require.NotNil(t, card)
	assert.Equal(t, set.ID, card.SetID)

	var tcg, cm int
	for _, sale := range doc.Sales {
		if sale.CardID != card.ID {
			continue
		}
		switch sale.Provider {
		case providerPokemonTCGTCGPlayer:
			tcg++
			assert.Equal(t, 412.37, sale.PriceUSD)
			assert.Equal(t, "USD", sale.Currency)
		case providerPokemonCardmarket:
			cm++
			// EUR converted at the configured rate, rounded to cents.
			assert.Equal(t, 418.55, sale.PriceUSD)
			assert.Equal(t, "EUR", sale.Currency)
		}
	}
	assert.Equal(t, 1, tcg)
	assert.Equal(t, 1, cm)

	assert.NotNil(t, doc.Sync.LastCatalogSyncAt)
	assert.Equal(t, catalogProviderName, doc.Sync.LastCatalogProvider)
	assert.ElementsMatch(t,
		[]string{providerPokemonTCGTCGPlayer, providerPokemonCardmarket},
		doc.Sync.LastSalesProviders)
}

func TestSyncCatalogSameDayRunUpdatesInPlace(t *testing.T) {
	store := newServiceStore(t)
	logger := zerolog.New(io.Discard)
	catalog := testLiveCatalog()
	svc := NewService(store, catalog, nil, 1.10, &logger)
	ctx := context.Background()

	_, err := svc.SyncCatalog(ctx, nil)
	require.NoError(t, err)
	doc, err := store.Read(ctx, true)
	require.NoError(t, err)
	salesAfterFirst := len(doc.Sales)

	// Same card, same price day, new price: the existing sale rows are
	// updated, not duplicated.
	catalog.cards[0].TCGPlayerRawUSD = 399.99
	_, err = svc.SyncCatalog(ctx, nil)
	require.NoError(t, err)

	doc, err = store.Read(ctx, true)
	require.NoError(t, err)
	assert.Len(t, doc.Sales, salesAfterFirst)

	found := false
	for _, sale := range doc.Sales {
		if sale.Provider == providerPokemonTCGTCGPlayer && sale.PriceUSD == 399.99 {
			found = true
		}
	}
	assert.True(t, found, "re-sync must refresh the same-day price point")
}

func TestSyncSalesOnlySkipsUnknownCards(t *testing.T) {
	store := newServiceStore(t)
	logger := zerolog.New(io.Discard)
	catalog := &fakeCatalog{
		cards: []LiveCard{
			// Matches the seeded demo card.
			{ExternalID: "swsh7-215", Name: "Umbreon VMAX", TCGPlayerRawUSD: 640},
			// Not in the catalog yet; sales-only must not create it.
			{ExternalID: "sv9-001", Name: "Mystery Card", TCGPlayerRawUSD: 3},
		},
	}
	svc := NewService(store, catalog, nil, 0, &logger)
	ctx := context.Background()

	counters, err := svc.SyncSalesOnly(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, counters["cardsProcessed"])
	assert.Equal(t, 1, counters["tcgplayerSalesUpserted"])
	assert.Equal(t, 0, counters["cardmarketSalesUpserted"])

	doc, err := store.Read(ctx, true)
	require.NoError(t, err)
	for _, card := range doc.Cards {
		assert.NotEqual(t, "sv9-001", card.ExternalID)
	}
	assert.NotNil(t, doc.Sync.LastSalesSyncAt)
	assert.Nil(t, doc.Sync.LastCatalogSyncAt, "sales-only must not touch catalog bookkeeping")
}

func TestSyncDirectTCGPlayerMatchesByNormalizedName(t *testing.T) {
	store := newServiceStore(t)
	logger := zerolog.New(io.Discard)
	direct := &fakeDirect{
		prices: []DirectPrice{
			{ProductID: 1, Name: "Umbreon  VMAX", MarketUSD: 655.123, AsOf: time.Now()},
			{ProductID: 2, Name: "Charizard ex", MarketUSD: 90},
		},
		groups: 4,
	}
	svc := NewService(store, nil, direct, 0, &logger)
	ctx := context.Background()

	counters, err := svc.SyncDirectTCGPlayer(ctx, &models.SyncOptions{CardLimit: 150})
	require.NoError(t, err)
	assert.Equal(t, 1, counters["cardsEvaluated"], "seed catalog has one card")
	assert.Equal(t, 1, counters["cardsMatched"])
	assert.Equal(t, 1, counters["pricesUpserted"])
	assert.Equal(t, 4, counters["groupsLoaded"])

	doc, err := store.Read(ctx, true)
	require.NoError(t, err)
	require.Len(t, doc.Sales, 1)
	sale := doc.Sales[0]
	assert.Equal(t, providerTCGPlayerDirect, sale.Provider)
	assert.Equal(t, 655.12, sale.PriceUSD)
	assert.Contains(t, doc.Sync.LastSalesProviders, providerTCGPlayerDirect)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "umbreon vmax", normalizeName("Umbreon  VMAX"))
	assert.Equal(t, "pikachu ex 238", normalizeName(" Pikachu-ex #238! "))
	assert.Equal(t, "", normalizeName("---"))
}

func TestMakeID(t *testing.T) {
	assert.Equal(t, "set_ptcg-swsh7", makeID("set", "ptcg-SWSH7"))
	assert.Equal(t, "card_ptcg-sv8-238", makeID("card", "ptcg-sv8-238"))
	assert.Equal(t, "sale_a-b", makeID("sale", "A  b!!"))
}
