package sync

import (
	"strings"
	"time"

	"gemindex/internal/models"
)

func upsertSet(doc *models.Document, ls LiveSet) *models.SetRecord {
	now := time.Now()

	var existing *models.SetRecord
	for i := range doc.Sets {
		set := &doc.Sets[i]
		if set.ExternalID == ls.ExternalID || (set.Source == providerPokemonTCG && set.Code == ls.Code) {
			existing = set
			break
		}
	}

	if existing != nil {
		existing.Code = ls.Code
		existing.Name = ls.Name
		existing.Series = ls.Series
		existing.ReleaseDate = ls.ReleaseDate
		existing.PrintedTotal = ls.PrintedTotal
		existing.Total = ls.Total
		existing.SymbolURL = ls.SymbolURL
		existing.LogoURL = ls.LogoURL
		existing.ExternalID = ls.ExternalID
		existing.Source = providerPokemonTCG
		existing.LastSyncedAt = &now
		return existing
	}

	doc.Sets = append(doc.Sets, models.SetRecord{
		ID:           makeID("set", "ptcg-"+ls.Code),
		Code:         ls.Code,
		Name:         ls.Name,
		Series:       ls.Series,
		ReleaseDate:  ls.ReleaseDate,
		PrintedTotal: ls.PrintedTotal,
		Total:        ls.Total,
		SymbolURL:    ls.SymbolURL,
		LogoURL:      ls.LogoURL,
		Source:       providerPokemonTCG,
		ExternalID:   ls.ExternalID,
		LastSyncedAt: &now,
	})
	return &doc.Sets[len(doc.Sets)-1]
}

func upsertCard(doc *models.Document, setID string, lc LiveCard) *models.CardRecord {
	synced := lc.PriceAsOf
	if synced.IsZero() {
		synced = time.Now()
	}

	var existing *models.CardRecord
	for i := range doc.Cards {
		card := &doc.Cards[i]
		if card.ExternalID == lc.ExternalID ||
			(card.SetID == setID && card.CardNumber == lc.CardNumber && card.Name == lc.Name) {
			existing = card
			break
		}
	}

	if existing != nil {
		existing.SetID = setID
		existing.Name = lc.Name
		existing.CardNumber = lc.CardNumber
		existing.Rarity = lc.Rarity
		existing.ImageURL = lc.ImageURL
		existing.ImageLargeURL = lc.ImageLargeURL
		existing.Supertype = lc.Supertype
		existing.Subtypes = lc.Subtypes
		existing.TCGPlayerURL = lc.TCGPlayerURL
		existing.CardmarketURL = lc.CardmarketURL
		existing.ExternalID = lc.ExternalID
		existing.Source = providerPokemonTCG
		existing.LastSyncedAt = &synced
		return existing
	}

	doc.Cards = append(doc.Cards, models.CardRecord{
		ID:            makeID("card", "ptcg-"+lc.ExternalID),
		SetID:         setID,
		Name:          lc.Name,
		CardNumber:    lc.CardNumber,
		Rarity:        lc.Rarity,
		ImageURL:      lc.ImageURL,
		ImageLargeURL: lc.ImageLargeURL,
		Supertype:     lc.Supertype,
		Subtypes:      lc.Subtypes,
		TCGPlayerURL:  lc.TCGPlayerURL,
		CardmarketURL: lc.CardmarketURL,
		Source:        providerPokemonTCG,
		ExternalID:    lc.ExternalID,
		LastSyncedAt:  &synced,
	})
	return &doc.Cards[len(doc.Cards)-1]
}

// upsertSale updates the existing sale with the same providerRef, or
// appends. Sales without a providerRef are always appended.
func upsertSale(doc *models.Document, sale models.SaleRecord) {
	if sale.ProviderRef == "" {
		doc.Sales = append(doc.Sales, sale)
		return
	}

	for i := range doc.Sales {
		if doc.Sales[i].ProviderRef == sale.ProviderRef {
			doc.Sales[i].PriceUSD = sale.PriceUSD
			doc.Sales[i].SaleDate = sale.SaleDate
			doc.Sales[i].Source = sale.Source
			doc.Sales[i].Currency = sale.Currency
			doc.Sales[i].Provider = sale.Provider
			return
		}
	}

	doc.Sales = append(doc.Sales, sale)
}

// makeID builds stable slug identifiers such as "set_ptcg-swsh7".
func makeID(prefix, value string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(value) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	return prefix + "_" + slug
}
