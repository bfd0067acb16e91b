package ledger

import (
	"testing"
	"time"

	"github.com/gr8r/credits/id"
	"github.com/gr8r/credits/types"
)

func creditLine(amount types.Amount, createdAt time.Time, expiresAt *time.Time) *Transaction {
	return &Transaction{
		Entity:    types.Entity{CreatedAt: createdAt, UpdatedAt: createdAt},
		ID:        id.NewTransactionID(),
		Kind:      KindCredit,
		Amount:    amount,
		ExpiresAt: expiresAt,
	}
}

func TestPlanConsumptionOldestFirst(t *testing.T) {
	now := time.Now().UTC()
	older := creditLine(types.Whole(30), now.Add(-2*time.Hour), nil)
	newer := creditLine(types.Whole(50), now.Add(-1*time.Hour), nil)

	links, short := PlanConsumption([]*Transaction{newer, older}, nil, types.Whole(40), now)
	if !short.IsZero() {
		t.Fatalf("shortfall: got %s, want 0", short)
	}
	if len(links) != 2 {
		t.Fatalf("links: got %d, want 2", len(links))
	}
	if links[0].SourceID != older.ID || links[0].Amount != types.Whole(30) {
		t.Errorf("first link should drain the older line: got %+v", links[0])
	}
	if links[1].SourceID != newer.ID || links[1].Amount != types.Whole(10) {
		t.Errorf("second link should take the rest from the newer line: got %+v", links[1])
	}
}

func TestPlanConsumptionSkipsExpired(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Second)
	expired := creditLine(types.Whole(100), now.Add(-3*time.Hour), &past)
	live := creditLine(types.Whole(20), now.Add(-1*time.Hour), nil)

	links, short := PlanConsumption([]*Transaction{expired, live}, nil, types.Whole(20), now)
	if !short.IsZero() {
		t.Fatalf("shortfall: got %s, want 0", short)
	}
	if len(links) != 1 || links[0].SourceID != live.ID {
		t.Fatalf("expired line must not be consumed: got %+v", links)
	}
}

func TestPlanConsumptionShortfall(t *testing.T) {
	now := time.Now().UTC()
	line := creditLine(types.Whole(30), now.Add(-time.Hour), nil)

	links, short := PlanConsumption([]*Transaction{line}, nil, types.Whole(50), now)
	if short != types.Whole(20) {
		t.Fatalf("shortfall: got %s, want %s", short, types.Whole(20))
	}
	if len(links) != 1 || links[0].Amount != types.Whole(30) {
		t.Fatalf("partial allocation expected before the shortfall: got %+v", links)
	}
}

func TestPlanConsumptionHonorsPriorConsumption(t *testing.T) {
	now := time.Now().UTC()
	line := creditLine(types.Whole(50), now.Add(-time.Hour), nil)
	debit := &Transaction{
		ID:    id.NewTransactionID(),
		Kind:  KindDebit,
		Links: []Link{{SourceID: line.ID, Amount: types.Whole(30)}},
	}

	consumed := ConsumedByLine([]*Transaction{debit})
	links, short := PlanConsumption([]*Transaction{line}, consumed, types.Whole(30), now)
	if short != types.Whole(10) {
		t.Fatalf("shortfall: got %s, want %s", short, types.Whole(10))
	}
	if len(links) != 1 || links[0].Amount != types.Whole(20) {
		t.Fatalf("only the unconsumed remainder is drawable: got %+v", links)
	}
}

func TestAvailableFromLines(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	live := creditLine(types.Whole(50), now.Add(-3*time.Hour), nil)
	expiring := creditLine(types.Whole(30), now.Add(-2*time.Hour), &future)
	expired := creditLine(types.Whole(100), now.Add(-1*time.Hour), &past)

	consumed := map[string]types.Amount{live.ID.String(): types.Whole(10)}
	got := AvailableFromLines([]*Transaction{live, expiring, expired}, consumed, now)
	if got != types.Whole(70) {
		t.Fatalf("available: got %s, want %s", got, types.Whole(70))
	}
}

func TestSortLinesTiebreaksOnID(t *testing.T) {
	at := time.Now().UTC()
	a := creditLine(types.Whole(1), at, nil)
	b := creditLine(types.Whole(2), at, nil)

	lines := []*Transaction{b, a}
	SortLines(lines)
	if lines[0].ID.String() > lines[1].ID.String() {
		t.Fatal("equal timestamps must sort by ID")
	}
}

func TestTransactionSigned(t *testing.T) {
	credit := &Transaction{Kind: KindCredit, Amount: types.Whole(10)}
	debit := &Transaction{Kind: KindDebit, Amount: types.Whole(10)}
	if credit.Signed() != types.Whole(10) {
		t.Errorf("credit signed: got %s", credit.Signed())
	}
	if debit.Signed() != types.Whole(10).Neg() {
		t.Errorf("debit signed: got %s", debit.Signed())
	}
}
