package usecase

import (
	"context"
	"strings"
	"testing"

	"OptionPull/internal/domain/models"
	drepo "OptionPull/internal/domain/repository"
	"OptionPull/internal/repository"
)

const legacyExport = "\ufeffStrike,Type,Expiry,timestamp,open_interest,pchange_in_open_interest,p_change,total_traded_volume,implied_volatility,last_price,underlying_value\n" +
	"24000,CE,26-DEC-2024,2024-12-02 09:15:30,\"1,250\",4.5,-1.2,25000,14.5,310.4,24102.35\n" +
	"24000,PE,26-Dec-2024,2024-12-02 09:15:30,-,-,-,9999,15.1,201.5,24102.35\n" +
	"24100,XX,26-Dec-2024,2024-12-02 09:15:30,1,1,1,1,1,1,1\n"

func TestBackfillLegacyExportKeepFirst(t *testing.T) {
	store, err := repository.NewSnapshotStore(
		repository.WithDriver("sqlite", ":memory:"),
		repository.WithConflictPolicy(repository.KeepFirst),
	)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	b := NewBackfill(store, nil, "NIFTY", 1, nil)
	rep, err := b.Import(ctx, strings.NewReader(legacyExport))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if rep.Rows != 3 || rep.Imported != 2 || rep.Existing != 0 || rep.Rejected != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}

	// a second import with a changed price must not overwrite the first
	changed := strings.Replace(legacyExport, "310.4", "999", 1)
	rep, err = b.Import(ctx, strings.NewReader(changed))
	if err != nil {
		t.Fatalf("reimport: %v", err)
	}
	if rep.Imported != 0 || rep.Existing != 2 {
		t.Fatalf("kept rows must not count as imported: %+v", rep)
	}

	rows, err := store.Query(ctx, drepo.ObservationFilter{Symbol: "NIFTY", OptionType: models.Call})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one call row, got %d", len(rows))
	}
	got := rows[0]
	if got.LastPrice == nil || *got.LastPrice != 310.4 {
		t.Fatalf("keep_first import overwrote the existing row: %v", got.LastPrice)
	}
	if got.OpenInterest == nil || *got.OpenInterest != 1250 {
		t.Fatalf("grouped number not parsed: %v", got.OpenInterest)
	}
	if got.PctChangeOpenInterest == nil || *got.PctChangeOpenInterest != 4.5 {
		t.Fatalf("legacy column not mapped: %v", got.PctChangeOpenInterest)
	}
	if !got.ExpiryDate.Equal(cycleExpiry) || !got.ObservedAt.Equal(cycleObserved) {
		t.Fatalf("unexpected key %s", got.ContractKey.String())
	}
	if !got.Analytics.Empty() {
		t.Fatalf("import without a pricer leaves analytics null")
	}
}

func TestBackfillWithPricer(t *testing.T) {
	store := newMemStore()
	b := NewBackfill(store, testEngine(), "NIFTY", 0, nil)

	rep, err := b.Import(context.Background(), strings.NewReader(legacyExport))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if rep.Pricing.Priced != 1 || rep.Pricing.BelowThreshold != 1 {
		t.Fatalf("unexpected pricing stats %+v", rep.Pricing)
	}
	for _, o := range store.rows {
		if (o.Volume() > 10000) == o.Analytics.Empty() {
			t.Fatalf("volume %v: analytics empty=%v", o.Volume(), o.Analytics.Empty())
		}
	}
}

func TestBackfillMissingColumn(t *testing.T) {
	b := NewBackfill(newMemStore(), nil, "NIFTY", 0, nil)
	_, err := b.Import(context.Background(), strings.NewReader("strike_price,option_type,expiry_date\n24000,CE,26-Dec-2024\n"))
	if err == nil || !strings.Contains(err.Error(), "observed_at") {
		t.Fatalf("expected missing column error, got %v", err)
	}
}
