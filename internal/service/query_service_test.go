package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/repository"
)

func TestLedgerQueryIsOrderedAndRestartable(t *testing.T) {
	env := setupEngineTest(t, nil)
	ctx := context.Background()
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		_, err := env.engine.RecordSale(ctx, RecordSaleInput{
			MemberID:   b.ID,
			Amount:     decimal.NewFromInt(int64(100 + i)),
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("record sale failed: %v", err)
		}
	}

	ledger := NewLedger(repository.NewLedgerRepository(env.db), env.clock.Now)
	seq := ledger.Query(ctx, a.ID, LedgerFilter{
		Kinds:    []string{constants.LedgerKindCommissionCredit},
		PageSize: 3,
	})
	first, err := Collect(seq, 0)
	if err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	if len(first) != 7 {
		t.Fatalf("expected 7 credits, got %d", len(first))
	}
	for i := 1; i < len(first); i++ {
		if first[i].OccurredAt.After(first[i-1].OccurredAt) {
			t.Fatalf("entries not ordered by time desc at %d", i)
		}
	}
	assertMoney(t, "newest credit", first[0].Amount, "10.60")

	second, err := Collect(seq, 0)
	if err != nil {
		t.Fatalf("second collect failed: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("sequence should be restartable")
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("restart yielded a different order at %d", i)
		}
	}

	window, err := Collect(ledger.Query(ctx, a.ID, LedgerFilter{
		From:  base.Add(2 * time.Hour),
		To:    base.Add(5 * time.Hour),
		Kinds: []string{constants.LedgerKindCommissionCredit},
	}), 0)
	if err != nil {
		t.Fatalf("collect window failed: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("expected 3 entries in window, got %d", len(window))
	}

	limited, err := env.query.History(ctx, a.ID, LedgerFilter{}, 2)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(limited))
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := Collect(ledger.Query(cancelled, a.ID, LedgerFilter{}), 0); err == nil {
		t.Fatalf("cancelled context should stop the sequence")
	}
}

func TestLedgerAppendRejectsInvalidEntries(t *testing.T) {
	env := setupEngineTest(t, nil)
	a := env.register(t, "alice", nil)
	ledger := NewLedger(repository.NewLedgerRepository(env.db), env.clock.Now)

	cases := []*models.LedgerEntry{
		nil,
		{Kind: "bonus", MemberID: a.ID, Amount: models.MustMoney("1")},
		{Kind: constants.LedgerKindSale, MemberID: a.ID, Amount: models.MustMoney("-1")},
		{Kind: constants.LedgerKindWithdrawal, MemberID: a.ID, Amount: models.MustMoney("60"), Status: constants.WithdrawalStatusCompleted},
	}
	for i, entry := range cases {
		if _, err := ledger.Append(entry); err == nil {
			t.Fatalf("case %d: expected append to fail", i)
		}
	}
}

func TestQueryDownlineAndTeamSize(t *testing.T) {
	env := setupEngineTest(t, nil)
	ctx := context.Background()
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	c := env.register(t, "carol", a)
	d := env.register(t, "dave", b)
	env.register(t, "erin", d)
	env.register(t, "frank", c)

	size, err := env.query.TeamSize(ctx, a.ID)
	if err != nil {
		t.Fatalf("team size failed: %v", err)
	}
	if size != 5 {
		t.Fatalf("expected team size 5, got %d", size)
	}

	page, err := env.query.Downline(ctx, a.ID, DownlineQuery{Page: 1, PageSize: 3})
	if err != nil {
		t.Fatalf("downline failed: %v", err)
	}
	if page.Total != 5 || len(page.Items) != 3 {
		t.Fatalf("unexpected page: total=%d items=%d", page.Total, len(page.Items))
	}
	if page.Items[0].Level != 1 || page.Items[2].Level != 2 {
		t.Fatalf("downline should be ordered by level: %+v", page.Items)
	}
	if page.LevelCounts[1] != 2 || page.LevelCounts[2] != 2 || page.LevelCounts[3] != 1 {
		t.Fatalf("unexpected level counts: %+v", page.LevelCounts)
	}

	levelTwo, err := env.query.Downline(ctx, a.ID, DownlineQuery{Level: 2})
	if err != nil {
		t.Fatalf("downline level failed: %v", err)
	}
	if levelTwo.Total != 2 {
		t.Fatalf("expected two level 2 members, got %d", levelTwo.Total)
	}

	beyond, err := env.query.Downline(ctx, a.ID, DownlineQuery{Page: 9, PageSize: 3})
	if err != nil {
		t.Fatalf("downline beyond failed: %v", err)
	}
	if len(beyond.Items) != 0 {
		t.Fatalf("page beyond range should be empty")
	}
}

func TestQueryLeaderboardBreaksTiesByID(t *testing.T) {
	env := setupEngineTest(t, nil)
	ctx := context.Background()
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", nil)
	c := env.register(t, "carol", nil)
	buyerA := env.register(t, "buyer_a", a)
	buyerB := env.register(t, "buyer_b", b)
	buyerC := env.register(t, "buyer_c", c)
	env.sale(t, buyerB, "500")
	env.sale(t, buyerA, "500")
	env.sale(t, buyerC, "900")

	items, err := env.query.Leaderboard(ctx, 3)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	wantOrder := []uint{c.ID, a.ID, b.ID}
	for i, id := range wantOrder {
		if items[i].MemberID != id || items[i].Position != i+1 {
			t.Fatalf("position %d: want member %d got %+v", i+1, id, items[i])
		}
	}
}

func TestQueryEarningsBreakdownByLevel(t *testing.T) {
	env := setupEngineTest(t, nil)
	ctx := context.Background()
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	c := env.register(t, "carol", b)
	env.sale(t, b, "100")
	env.sale(t, c, "200")
	env.sale(t, c, "300")

	breakdown, err := env.query.EarningsBreakdown(ctx, a.ID)
	if err != nil {
		t.Fatalf("breakdown failed: %v", err)
	}
	byLevel := map[int]LevelEarnings{}
	for _, row := range breakdown.ByLevel {
		byLevel[row.Level] = row
	}
	if byLevel[1].Count != 1 || !byLevel[1].Amount.Decimal.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected level 1 row: %+v", byLevel[1])
	}
	if byLevel[2].Count != 2 || !byLevel[2].Amount.Decimal.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("unexpected level 2 row: %+v", byLevel[2])
	}
	assertMoney(t, "total", breakdown.Total, "35.00")
	assertMoney(t, "sale source", breakdown.BySource[constants.CreditSourceSale], "35.00")
	assertMoney(t, "stored earnings", env.reload(t, a).TotalEarnings, "35.00")

	if _, err := env.query.EarningsBreakdown(ctx, 999); err == nil {
		t.Fatalf("expected unknown member error")
	}
}

func TestQueryDashboardAndAdminOverview(t *testing.T) {
	env := setupEngineTest(t, nil)
	ctx := context.Background()
	leader := env.register(t, "leader", nil)
	var last *models.Member
	for i := 0; i < 6; i++ {
		last = env.register(t, fmt.Sprintf("recruit_%d", i), leader)
	}
	env.sale(t, last, "1000")
	if _, err := env.engine.RequestWithdrawal(ctx, RequestWithdrawalInput{
		MemberID: leader.ID,
		Amount:   decimal.NewFromInt(60),
		Method:   constants.WithdrawMethodBank,
		Details:  payoutDetails(constants.WithdrawMethodBank),
	}); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	dashboard, err := env.query.Dashboard(ctx, leader.ID)
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if dashboard.TeamSize != 6 || dashboard.DirectReferrals != 6 {
		t.Fatalf("unexpected team numbers: %+v", dashboard)
	}
	if dashboard.RankProgress.Next != constants.RankSilver || dashboard.RankProgress.Remaining != 4 {
		t.Fatalf("unexpected rank progress: %+v", dashboard.RankProgress)
	}
	if dashboard.RecruiterTitle != "Active Recruiter" {
		t.Fatalf("six recruits should earn a recruiter title")
	}
	assertMoney(t, "pending payout", dashboard.PendingPayout, "60.00")
	assertMoney(t, "balance", dashboard.Member.Balance, "40.00")
	if len(dashboard.RecentEarnings) != 1 {
		t.Fatalf("expected one recent earning, got %d", len(dashboard.RecentEarnings))
	}

	overview, err := env.query.AdminOverview(ctx)
	if err != nil {
		t.Fatalf("overview failed: %v", err)
	}
	if overview.TotalUsers != 7 || overview.ActiveUsers != 7 || overview.TodayJoins != 7 {
		t.Fatalf("unexpected member counts: %+v", overview)
	}
	assertMoney(t, "total earnings", overview.TotalEarnings, "100.00")
	assertMoney(t, "pending withdrawals", overview.PendingWithdrawals, "60.00")
	assertMoney(t, "total balance", overview.TotalBalance, "40.00")
	assertMoney(t, "today sales", overview.TodaySales, "1000.00")
	assertMoney(t, "today earnings", overview.TodayEarnings, "100.00")
}

type memoryQueryCache struct {
	mu    sync.Mutex
	items map[string][]byte
	hits  int
}

func (c *memoryQueryCache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.items[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(raw, dest)
}

func (c *memoryQueryCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.items[key] = raw
	return nil
}

func (c *memoryQueryCache) InvalidateAll(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = map[string][]byte{}
}

func TestQueryCacheServesUntilEngineInvalidates(t *testing.T) {
	env := setupEngineTest(t, nil)
	ctx := context.Background()
	cache := &memoryQueryCache{items: map[string][]byte{}}
	env.query.cache = cache
	env.query.cacheTTL = time.Minute
	env.engine.cache = cache

	a := env.register(t, "alice", nil)
	env.register(t, "bob", a)
	if size, err := env.query.TeamSize(ctx, a.ID); err != nil || size != 1 {
		t.Fatalf("team size want 1 got %d (%v)", size, err)
	}
	if size, err := env.query.TeamSize(ctx, a.ID); err != nil || size != 1 {
		t.Fatalf("cached team size want 1 got %d (%v)", size, err)
	}
	if cache.hits != 1 {
		t.Fatalf("expected one cache hit, got %d", cache.hits)
	}

	env.register(t, "carol", a)
	if size, err := env.query.TeamSize(ctx, a.ID); err != nil || size != 2 {
		t.Fatalf("team size after invalidation want 2 got %d (%v)", size, err)
	}
}
