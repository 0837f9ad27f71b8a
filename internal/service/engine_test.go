package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/models"
	"github.com/tiernet/internal/plan"
	"github.com/tiernet/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type engineTestEnv struct {
	db       *gorm.DB
	clock    *testClock
	settings *SettingService
	engine   *Engine
	query    *QueryService
	replay   *ReplayService
}

func setupEngineTest(t *testing.T, mutate func(p *plan.Plan)) *engineTestEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:engine_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	memberRepo := repository.NewMemberRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	settings := NewSettingService(repository.NewSettingRepository(db), plan.Default())
	if mutate != nil {
		p := plan.Default()
		mutate(&p)
		if _, err := settings.UpdatePlan(p); err != nil {
			t.Fatalf("update plan failed: %v", err)
		}
	}

	clock := &testClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	return &engineTestEnv{
		db:       db,
		clock:    clock,
		settings: settings,
		engine:   NewEngine(db, memberRepo, ledgerRepo, settings, EngineOptions{Now: clock.Now}),
		query:    NewQueryService(db, memberRepo, ledgerRepo, settings, QueryOptions{Now: clock.Now}),
		replay:   NewReplayService(db, memberRepo, ledgerRepo, settings),
	}
}

func threeLevelPlan(p *plan.Plan) {
	p.Commission = plan.CommissionTable{
		{Level: 1, Rate: decimal.RequireFromString("0.10")},
		{Level: 2, Rate: decimal.RequireFromString("0.05")},
		{Level: 3, Rate: decimal.RequireFromString("0.03")},
	}
}

func (env *engineTestEnv) register(t *testing.T, username string, sponsor *models.Member) *models.Member {
	t.Helper()
	input := RegisterMemberInput{
		Username: username,
		FullName: username,
		Email:    username + "@example.com",
	}
	if sponsor != nil {
		input.SponsorID = &sponsor.ID
	}
	member, err := env.engine.RegisterMember(context.Background(), input)
	if err != nil {
		t.Fatalf("register %s failed: %v", username, err)
	}
	return member
}

func (env *engineTestEnv) sale(t *testing.T, member *models.Member, amount string) *SaleResult {
	t.Helper()
	result, err := env.engine.RecordSale(context.Background(), RecordSaleInput{
		MemberID: member.ID,
		Amount:   decimal.RequireFromString(amount),
	})
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	return result
}

func (env *engineTestEnv) reload(t *testing.T, member *models.Member) *models.Member {
	t.Helper()
	fresh, err := env.query.GetMember(context.Background(), member.ID)
	if err != nil {
		t.Fatalf("reload member failed: %v", err)
	}
	return fresh
}

func (env *engineTestEnv) countEntries(t *testing.T, kind string) int64 {
	t.Helper()
	var count int64
	if err := env.db.Model(&models.LedgerEntry{}).Where("kind = ?", kind).Count(&count).Error; err != nil {
		t.Fatalf("count entries failed: %v", err)
	}
	return count
}

func payoutDetails(method string) models.JSON {
	switch method {
	case constants.WithdrawMethodBank:
		return models.JSON{"account_number": "000123456789", "bank_name": "First Test Bank", "routing_number": "021000021"}
	case constants.WithdrawMethodPaypal:
		return models.JSON{"paypal_email": "payee@example.com"}
	case constants.WithdrawMethodCrypto:
		return models.JSON{"wallet_address": "bc1qexampleaddress000000000"}
	default:
		return nil
	}
}

func assertMoney(t *testing.T, label string, got models.Money, want string) {
	t.Helper()
	if !got.Decimal.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: want %s got %s", label, want, got.String())
	}
}

func TestRecordSaleCreditsSponsorChainByLevel(t *testing.T) {
	env := setupEngineTest(t, threeLevelPlan)
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	c := env.register(t, "carol", b)

	result := env.sale(t, c, "100")
	if len(result.Credits) != 2 {
		t.Fatalf("expected 2 credits, got %d", len(result.Credits))
	}
	first, second := result.Credits[0], result.Credits[1]
	if first.MemberID != b.ID || derefInt(first.Level) != 1 {
		t.Fatalf("unexpected level 1 credit: %+v", first)
	}
	assertMoney(t, "level 1 credit", first.Amount, "10.00")
	if second.MemberID != a.ID || derefInt(second.Level) != 2 {
		t.Fatalf("unexpected level 2 credit: %+v", second)
	}
	assertMoney(t, "level 2 credit", second.Amount, "5.00")
	for _, credit := range result.Credits {
		if credit.Kind != constants.LedgerKindCommissionCredit {
			t.Fatalf("unexpected credit kind: %s", credit.Kind)
		}
		if credit.RelatedMemberID == nil || *credit.RelatedMemberID != c.ID {
			t.Fatalf("credit should reference buyer %d", c.ID)
		}
		if credit.SourceEntryID == nil || *credit.SourceEntryID != result.Sale.ID {
			t.Fatalf("credit should reference sale %d", result.Sale.ID)
		}
	}

	b = env.reload(t, b)
	assertMoney(t, "bob balance", b.Balance, "10.00")
	assertMoney(t, "bob earnings", b.TotalEarnings, "10.00")
	a = env.reload(t, a)
	assertMoney(t, "alice balance", a.Balance, "5.00")
	c = env.reload(t, c)
	assertMoney(t, "carol balance", c.Balance, "0")
}

func TestRecordSaleRoundsHalfUpAndStaysWithinTable(t *testing.T) {
	env := setupEngineTest(t, threeLevelPlan)
	a := env.register(t, "root", nil)
	b := env.register(t, "mid", a)
	c := env.register(t, "leaf", b)
	d := env.register(t, "buyer", c)

	result := env.sale(t, d, "0.15")
	limit := decimal.RequireFromString("0.15").Mul(decimal.RequireFromString("0.18"))
	if sumEntries(result.Credits).GreaterThan(limit) {
		t.Fatalf("credits %s exceed table maximum %s", sumEntries(result.Credits), limit)
	}

	result = env.sale(t, d, "12.45")
	// 12.45 * 0.10 = 1.245 -> 1.25，三级合计 2.24 未超上限
	assertMoney(t, "level 1 credit", result.Credits[0].Amount, "1.25")
	assertMoney(t, "level 3 credit", result.Credits[2].Amount, "0.37")
}

func TestRecordSaleForfeitsInactiveAncestorShare(t *testing.T) {
	env := setupEngineTest(t, threeLevelPlan)
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	c := env.register(t, "carol", b)
	if _, err := env.engine.SetMemberActive(context.Background(), b.ID, false); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	result := env.sale(t, c, "100")
	if len(result.Credits) != 1 {
		t.Fatalf("expected only the active ancestor to be credited, got %d", len(result.Credits))
	}
	if result.Credits[0].MemberID != a.ID || derefInt(result.Credits[0].Level) != 2 {
		t.Fatalf("alice should keep her level 2 share: %+v", result.Credits[0])
	}
	assertMoney(t, "alice credit", result.Credits[0].Amount, "5.00")
	assertMoney(t, "bob balance", env.reload(t, b).Balance, "0")
}

func TestRecordSaleCompressPolicySkipsInactiveLevel(t *testing.T) {
	env := setupEngineTest(t, func(p *plan.Plan) {
		threeLevelPlan(p)
		p.InactivePolicy = constants.InactivePolicyCompress
	})
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	c := env.register(t, "carol", b)
	if _, err := env.engine.SetMemberActive(context.Background(), b.ID, false); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	result := env.sale(t, c, "100")
	if len(result.Credits) != 1 || result.Credits[0].MemberID != a.ID {
		t.Fatalf("unexpected credits: %+v", result.Credits)
	}
	if derefInt(result.Credits[0].Level) != 1 {
		t.Fatalf("alice should move up to level 1, got %d", derefInt(result.Credits[0].Level))
	}
	assertMoney(t, "alice credit", result.Credits[0].Amount, "10.00")
}

func TestRecordSaleShortChainPaysExistingLevelsOnly(t *testing.T) {
	env := setupEngineTest(t, nil)
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)

	result := env.sale(t, b, "200")
	if len(result.Credits) != 1 {
		t.Fatalf("expected single credit, got %d", len(result.Credits))
	}
	assertMoney(t, "alice credit", result.Credits[0].Amount, "20.00")

	rootSale := env.sale(t, a, "50")
	if len(rootSale.Credits) != 0 {
		t.Fatalf("root sale should not credit anyone")
	}
}

func TestRecordSaleRejectsInvalidAmount(t *testing.T) {
	env := setupEngineTest(t, nil)
	a := env.register(t, "alice", nil)

	for _, amount := range []string{"0", "-5", "10.001"} {
		_, err := env.engine.RecordSale(context.Background(), RecordSaleInput{MemberID: a.ID, Amount: decimal.RequireFromString(amount)})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
		var fe *FieldError
		if !errors.As(err, &fe) || fe.Field != "amount" {
			t.Fatalf("amount %s: expected field error on amount, got %v", amount, err)
		}
	}
	_, err := env.engine.RecordSale(context.Background(), RecordSaleInput{MemberID: 999, Amount: decimal.NewFromInt(10)})
	if !errors.Is(err, ErrUnknownMember) {
		t.Fatalf("expected ErrUnknownMember, got %v", err)
	}
	if env.countEntries(t, constants.LedgerKindSale) != 0 {
		t.Fatalf("rejected sales must not be recorded")
	}
}

func TestRecordSaleRollsBackWhenWalkFailsMidway(t *testing.T) {
	env := setupEngineTest(t, threeLevelPlan)
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	c := env.register(t, "carol", b)

	err := env.db.Callback().Create().Before("gorm:create").Register("test:fail_level_two", func(tx *gorm.DB) {
		entry, ok := tx.Statement.Dest.(*models.LedgerEntry)
		if ok && entry.Kind == constants.LedgerKindCommissionCredit && derefInt(entry.Level) == 2 {
			tx.AddError(errors.New("disk full"))
		}
	})
	if err != nil {
		t.Fatalf("register callback failed: %v", err)
	}

	_, err = env.engine.RecordSale(context.Background(), RecordSaleInput{MemberID: c.ID, Amount: decimal.NewFromInt(100)})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if env.countEntries(t, constants.LedgerKindSale) != 0 {
		t.Fatalf("sale entry should be rolled back")
	}
	if env.countEntries(t, constants.LedgerKindCommissionCredit) != 0 {
		t.Fatalf("partial credits should be rolled back")
	}
	assertMoney(t, "bob balance", env.reload(t, b).Balance, "0")
	assertMoney(t, "bob earnings", env.reload(t, b).TotalEarnings, "0")
}

func TestConcurrentSalesDoNotLoseCredits(t *testing.T) {
	env := setupEngineTest(t, threeLevelPlan)
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	buyers := []*models.Member{env.register(t, "carol", b), env.register(t, "dave", b)}

	const perBuyer = 10
	var wg sync.WaitGroup
	errs := make(chan error, perBuyer*len(buyers))
	for _, buyer := range buyers {
		for i := 0; i < perBuyer; i++ {
			wg.Add(1)
			go func(id uint) {
				defer wg.Done()
				_, err := env.engine.RecordSale(context.Background(), RecordSaleInput{MemberID: id, Amount: decimal.NewFromInt(10)})
				errs <- err
			}(buyer.ID)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent sale failed: %v", err)
		}
	}

	assertMoney(t, "bob balance", env.reload(t, b).Balance, "20.00")
	assertMoney(t, "alice balance", env.reload(t, a).Balance, "10.00")
}

func TestRegisterMemberValidatesSponsorAndDuplicates(t *testing.T) {
	env := setupEngineTest(t, nil)
	a := env.register(t, "alice", nil)

	missing := uint(404)
	_, err := env.engine.RegisterMember(context.Background(), RegisterMemberInput{
		SponsorID: &missing,
		Username:  "ghost",
		Email:     "ghost@example.com",
	})
	if !errors.Is(err, ErrUnknownSponsor) {
		t.Fatalf("expected ErrUnknownSponsor, got %v", err)
	}

	_, err = env.engine.RegisterMember(context.Background(), RegisterMemberInput{
		SponsorUsername: "nobody",
		Username:        "ghost",
		Email:           "ghost@example.com",
	})
	if !errors.Is(err, ErrUnknownSponsor) {
		t.Fatalf("expected ErrUnknownSponsor for username, got %v", err)
	}

	_, err = env.engine.RegisterMember(context.Background(), RegisterMemberInput{Username: "Alice", Email: "other@example.com"})
	if !errors.Is(err, ErrDuplicateMember) {
		t.Fatalf("expected ErrDuplicateMember, got %v", err)
	}

	_, err = env.engine.RegisterMember(context.Background(), RegisterMemberInput{Username: "x", Email: "not-an-email"})
	var fe *FieldError
	if !errors.As(err, &fe) || !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected field-level invalid input, got %v", err)
	}

	bob, err := env.engine.RegisterMember(context.Background(), RegisterMemberInput{
		SponsorUsername: "alice",
		Username:        "bob",
		Email:           "bob@example.com",
	})
	if err != nil {
		t.Fatalf("register by sponsor username failed: %v", err)
	}
	if bob.SponsorID == nil || *bob.SponsorID != a.ID {
		t.Fatalf("bob should be sponsored by alice")
	}
	if env.countEntries(t, constants.LedgerKindJoin) != 2 {
		t.Fatalf("expected two join entries")
	}
}

func TestReferralBonusCreditsDirectSponsor(t *testing.T) {
	env := setupEngineTest(t, func(p *plan.Plan) {
		p.ReferralBonus = decimal.RequireFromString("7.50")
	})
	a := env.register(t, "alice", nil)
	env.register(t, "bob", a)

	a = env.reload(t, a)
	assertMoney(t, "alice balance", a.Balance, "7.50")
	breakdown, err := env.query.EarningsBreakdown(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("breakdown failed: %v", err)
	}
	assertMoney(t, "join source", breakdown.BySource[constants.CreditSourceJoin], "7.50")
}

func TestRankPromotesOnTenthDirectReferral(t *testing.T) {
	env := setupEngineTest(t, nil)
	sponsor := env.register(t, "leader", nil)
	if sponsor.Rank != constants.RankBronze {
		t.Fatalf("new member should be Bronze, got %s", sponsor.Rank)
	}

	for i := 1; i <= 10; i++ {
		env.register(t, fmt.Sprintf("recruit_%02d", i), sponsor)
		current := env.reload(t, sponsor)
		if i < 10 && current.Rank != constants.RankBronze {
			t.Fatalf("after %d referrals expected Bronze, got %s", i, current.Rank)
		}
		if i == 10 && current.Rank != constants.RankSilver {
			t.Fatalf("after 10 referrals expected Silver, got %s", current.Rank)
		}
		if current.DirectReferrals != i {
			t.Fatalf("direct referrals want %d got %d", i, current.DirectReferrals)
		}
	}
}

func TestRankDoesNotDemoteAfterLosingReferral(t *testing.T) {
	env := setupEngineTest(t, nil)
	sponsor := env.register(t, "leader", nil)
	other := env.register(t, "other", nil)
	var last *models.Member
	for i := 1; i <= 10; i++ {
		last = env.register(t, fmt.Sprintf("recruit_%02d", i), sponsor)
	}

	if _, err := env.engine.ChangeSponsor(context.Background(), last.ID, &other.ID, "admin:1"); err != nil {
		t.Fatalf("change sponsor failed: %v", err)
	}
	current := env.reload(t, sponsor)
	if current.DirectReferrals != 9 {
		t.Fatalf("direct referrals should drop to 9, got %d", current.DirectReferrals)
	}
	if current.Rank != constants.RankSilver {
		t.Fatalf("rank must not demote, got %s", current.Rank)
	}
}

func TestChangeSponsorRejectsCycle(t *testing.T) {
	env := setupEngineTest(t, nil)
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	c := env.register(t, "carol", b)

	if _, err := env.engine.ChangeSponsor(context.Background(), a.ID, &c.ID, "admin:1"); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if _, err := env.engine.ChangeSponsor(context.Background(), b.ID, &b.ID, "admin:1"); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle for self sponsor, got %v", err)
	}
	if env.countEntries(t, constants.LedgerKindSponsorChange) != 0 {
		t.Fatalf("rejected changes must not be recorded")
	}

	moved, err := env.engine.ChangeSponsor(context.Background(), c.ID, &a.ID, "admin:1")
	if err != nil {
		t.Fatalf("change sponsor failed: %v", err)
	}
	if moved.SponsorID == nil || *moved.SponsorID != a.ID {
		t.Fatalf("carol should now be under alice")
	}
	if got := env.reload(t, b).DirectReferrals; got != 0 {
		t.Fatalf("bob direct referrals want 0 got %d", got)
	}
}

func TestRequestWithdrawalInsufficientBalanceCreatesNoEntry(t *testing.T) {
	env := setupEngineTest(t, nil)
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	env.sale(t, b, "1000")
	assertMoney(t, "alice balance", env.reload(t, a).Balance, "100.00")

	_, err := env.engine.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		MemberID: a.ID,
		Amount:   decimal.RequireFromString("150.00"),
		Method:   constants.WithdrawMethodBank,
		Details:  payoutDetails(constants.WithdrawMethodBank),
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if env.countEntries(t, constants.LedgerKindWithdrawal) != 0 {
		t.Fatalf("rejected withdrawal must not create an entry")
	}
	assertMoney(t, "alice balance", env.reload(t, a).Balance, "100.00")
}

func TestRequestWithdrawalPolicyChecks(t *testing.T) {
	env := setupEngineTest(t, nil)
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	env.sale(t, b, "20000")

	requestWith := func(amount, method string, details models.JSON) (*models.LedgerEntry, error) {
		return env.engine.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
			MemberID: a.ID,
			Amount:   decimal.RequireFromString(amount),
			Method:   method,
			Details:  details,
		})
	}
	request := func(amount, method string) (*models.LedgerEntry, error) {
		return requestWith(amount, method, payoutDetails(strings.ToLower(method)))
	}

	if _, err := request("40.00", constants.WithdrawMethodBank); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if _, err := request("100.00", "cheque"); !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("expected ErrInvalidMethod, got %v", err)
	}

	detailCases := []struct {
		method  string
		details models.JSON
		field   string
	}{
		{constants.WithdrawMethodCrypto, models.JSON{}, "details.wallet_address"},
		{constants.WithdrawMethodCrypto, models.JSON{"wallet_address": "   "}, "details.wallet_address"},
		{constants.WithdrawMethodBank, models.JSON{"account_number": "000123456789", "bank_name": "First Test Bank"}, "details.routing_number"},
		{constants.WithdrawMethodPaypal, models.JSON{"paypal_email": "not-an-email"}, "details.paypal_email"},
		{constants.WithdrawMethodPaypal, models.JSON{"paypal_email": 42}, "details"},
	}
	for _, tc := range detailCases {
		_, err := requestWith("60.00", tc.method, tc.details)
		var fe *FieldError
		if !errors.Is(err, ErrInvalidInput) || !errors.As(err, &fe) || fe.Field != tc.field {
			t.Fatalf("%s %v: expected field error on %s, got %v", tc.method, tc.details, tc.field, err)
		}
	}
	if env.countEntries(t, constants.LedgerKindWithdrawal) != 0 {
		t.Fatalf("rejected details must not create an entry")
	}
	assertMoney(t, "balance untouched", env.reload(t, a).Balance, "2000.00")

	first, err := request("600.00", "Bank")
	if err != nil {
		t.Fatalf("first withdrawal failed: %v", err)
	}
	if first.Status != constants.WithdrawalStatusPending {
		t.Fatalf("new withdrawal should be pending, got %s", first.Status)
	}
	assertMoney(t, "fee", first.Fee, "2.50")
	assertMoney(t, "net", first.NetAmount, "597.50")
	if first.Meta.String("routing_number") != "021000021" {
		t.Fatalf("bank details should be kept in meta, got %v", first.Meta)
	}

	if _, err := request("500.00", constants.WithdrawMethodPaypal); !errors.Is(err, ErrAboveDailyLimit) {
		t.Fatalf("expected ErrAboveDailyLimit, got %v", err)
	}

	if _, err := env.engine.CancelWithdrawal(context.Background(), a.ID, first.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := request("500.00", constants.WithdrawMethodPaypal); err != nil {
		t.Fatalf("cancelled withdrawal should free the daily limit: %v", err)
	}

	env.clock.Advance(24 * time.Hour)
	mixed := models.JSON{"wallet_address": "  bc1qtrimmed0000  ", "bank_name": "ignored", "notes": "weekly"}
	crypto, err := requestWith("600.00", constants.WithdrawMethodCrypto, mixed)
	if err != nil {
		t.Fatalf("next day withdrawal failed: %v", err)
	}
	if crypto.Meta.String("wallet_address") != "bc1qtrimmed0000" || crypto.Meta.String("notes") != "weekly" {
		t.Fatalf("crypto details should be trimmed, got %v", crypto.Meta)
	}
	if _, ok := crypto.Meta["bank_name"]; ok {
		t.Fatalf("fields of other methods must be dropped, got %v", crypto.Meta)
	}
}

func TestRequestWithdrawalRequiresActiveMember(t *testing.T) {
	env := setupEngineTest(t, nil)
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	env.sale(t, b, "1000")
	if _, err := env.engine.SetMemberActive(context.Background(), a.ID, false); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	_, err := env.engine.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		MemberID: a.ID,
		Amount:   decimal.NewFromInt(60),
		Method:   constants.WithdrawMethodBank,
		Details:  payoutDetails(constants.WithdrawMethodBank),
	})
	if !errors.Is(err, ErrMemberInactive) {
		t.Fatalf("expected ErrMemberInactive, got %v", err)
	}
}

func TestWithdrawalTransitionGraphIsExact(t *testing.T) {
	allowed := map[[2]string]bool{
		{constants.WithdrawalStatusPending, constants.WithdrawalStatusProcessing}:   true,
		{constants.WithdrawalStatusPending, constants.WithdrawalStatusFailed}:       true,
		{constants.WithdrawalStatusPending, constants.WithdrawalStatusCancelled}:    true,
		{constants.WithdrawalStatusProcessing, constants.WithdrawalStatusCompleted}: true,
		{constants.WithdrawalStatusProcessing, constants.WithdrawalStatusFailed}:    true,
	}
	statuses := append([]string{""}, WithdrawalStatuses()...)
	for _, from := range statuses {
		for _, to := range statuses {
			if got := CanTransitionWithdrawal(from, to); got != allowed[[2]string{from, to}] {
				t.Fatalf("transition %q -> %q: want %v got %v", from, to, allowed[[2]string{from, to}], got)
			}
		}
	}
}

func TestWithdrawalLifecycleUpdatesBalances(t *testing.T) {
	env := setupEngineTest(t, nil)
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	env.sale(t, b, "3000")
	ctx := context.Background()

	request := func(amount string) *models.LedgerEntry {
		entry, err := env.engine.RequestWithdrawal(ctx, RequestWithdrawalInput{
			MemberID: a.ID,
			Amount:   decimal.RequireFromString(amount),
			Method:   constants.WithdrawMethodBank,
			Details:  payoutDetails(constants.WithdrawMethodBank),
		})
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		return entry
	}

	paid := request("100.00")
	assertMoney(t, "balance after request", env.reload(t, a).Balance, "200.00")

	if _, err := env.engine.CompleteWithdrawal(ctx, paid.ID, "admin:1", "ref"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> completed should be rejected, got %v", err)
	}
	if _, err := env.engine.CancelWithdrawal(ctx, b.ID, paid.ID); !errors.Is(err, ErrWithdrawalForbidden) {
		t.Fatalf("cancel by another member should be forbidden, got %v", err)
	}
	if _, err := env.engine.StartWithdrawalProcessing(ctx, paid.ID, "admin:1"); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if _, err := env.engine.CancelWithdrawal(ctx, a.ID, paid.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("processing withdrawal must not be cancellable, got %v", err)
	}
	done, err := env.engine.CompleteWithdrawal(ctx, paid.ID, "admin:1", "bank-ref-1")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if done.Status != constants.WithdrawalStatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if _, err := env.engine.FailWithdrawal(ctx, paid.ID, "admin:1", "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed withdrawal must be terminal, got %v", err)
	}

	member := env.reload(t, a)
	assertMoney(t, "balance after complete", member.Balance, "200.00")
	assertMoney(t, "withdrawn after complete", member.TotalWithdrawn, "100.00")

	rejected := request("80.00")
	failed, err := env.engine.FailWithdrawal(ctx, rejected.ID, "admin:1", "invalid account")
	if err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if failed.Meta.String("failed_reason") != "invalid account" {
		t.Fatalf("fail reason should be kept in meta: %+v", failed.Meta)
	}
	member = env.reload(t, a)
	assertMoney(t, "balance after fail", member.Balance, "200.00")
	assertMoney(t, "withdrawn after fail", member.TotalWithdrawn, "100.00")

	transitions, err := env.query.WithdrawalTransitions(ctx, paid.ID)
	if err != nil {
		t.Fatalf("list transitions failed: %v", err)
	}
	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(transitions))
	}

	if _, err := env.engine.CancelWithdrawal(ctx, a.ID, 9999); !errors.Is(err, ErrWithdrawalNotFound) {
		t.Fatalf("expected ErrWithdrawalNotFound, got %v", err)
	}
}

type recordingPayouts struct {
	entries []uint
}

func (r *recordingPayouts) Enabled() bool { return true }

func (r *recordingPayouts) EnqueueWithdrawalPayout(entryID uint) error {
	r.entries = append(r.entries, entryID)
	return nil
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) InvalidateAll(context.Context) { c.calls++ }

func TestEngineSchedulesPayoutAndInvalidatesCache(t *testing.T) {
	env := setupEngineTest(t, nil)
	payouts := &recordingPayouts{}
	invalidator := &countingInvalidator{}
	env.engine.payouts = payouts
	env.engine.cache = invalidator

	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	env.sale(t, b, "1000")
	entry, err := env.engine.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		MemberID: a.ID,
		Amount:   decimal.NewFromInt(60),
		Method:   constants.WithdrawMethodPaypal,
		Details:  payoutDetails(constants.WithdrawMethodPaypal),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if _, err := env.engine.StartWithdrawalProcessing(context.Background(), entry.ID, "admin:1"); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(payouts.entries) != 1 || payouts.entries[0] != entry.ID {
		t.Fatalf("expected payout enqueued for %d, got %v", entry.ID, payouts.entries)
	}
	if invalidator.calls != 5 {
		t.Fatalf("expected cache invalidation per successful command, got %d", invalidator.calls)
	}

	if _, err := env.engine.RecordSale(context.Background(), RecordSaleInput{MemberID: b.ID}); err == nil {
		t.Fatalf("expected validation error")
	}
	if invalidator.calls != 5 {
		t.Fatalf("rejected commands must not invalidate cache")
	}
}

func TestAccountingIdentityHoldsAcrossOperations(t *testing.T) {
	env := setupEngineTest(t, nil)
	ctx := context.Background()
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	c := env.register(t, "carol", b)
	d := env.register(t, "dave", c)
	env.sale(t, d, "5000")
	env.sale(t, c, "1234.56")
	env.sale(t, b, "99.99")

	if _, err := env.engine.RequestWithdrawal(ctx, RequestWithdrawalInput{MemberID: c.ID, Amount: decimal.NewFromInt(200), Method: constants.WithdrawMethodBank, Details: payoutDetails(constants.WithdrawMethodBank)}); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	processing, err := env.engine.RequestWithdrawal(ctx, RequestWithdrawalInput{MemberID: b.ID, Amount: decimal.NewFromInt(100), Method: constants.WithdrawMethodPaypal, Details: payoutDetails(constants.WithdrawMethodPaypal)})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if _, err := env.engine.StartWithdrawalProcessing(ctx, processing.ID, "admin:1"); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	completed, err := env.engine.RequestWithdrawal(ctx, RequestWithdrawalInput{MemberID: b.ID, Amount: decimal.NewFromInt(150), Method: constants.WithdrawMethodCrypto, Details: payoutDetails(constants.WithdrawMethodCrypto)})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if _, err := env.engine.StartWithdrawalProcessing(ctx, completed.ID, "admin:1"); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if _, err := env.engine.CompleteWithdrawal(ctx, completed.ID, "admin:1", ""); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	for _, m := range []*models.Member{a, b, c, d} {
		member := env.reload(t, m)
		summary, err := env.query.WithdrawalSummary(ctx, member.ID)
		if err != nil {
			t.Fatalf("summary failed: %v", err)
		}
		want := member.TotalEarnings.Decimal.Sub(member.TotalWithdrawn.Decimal).Sub(summary.Pending.Decimal)
		if !member.Balance.Decimal.Equal(want) {
			t.Fatalf("member %s: balance %s != earnings - withdrawn - pending (%s)", member.Username, member.Balance, want)
		}
	}
}

func TestReplayIsDeterministicAndMatchesStoredState(t *testing.T) {
	env := setupEngineTest(t, nil)
	ctx := context.Background()
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	c := env.register(t, "carol", b)
	other := env.register(t, "olga", nil)
	for i := 0; i < 10; i++ {
		env.register(t, fmt.Sprintf("recruit_%02d", i), a)
	}
	env.sale(t, c, "800")
	env.sale(t, b, "333.33")
	if _, err := env.engine.ChangeSponsor(ctx, c.ID, &other.ID, "admin:1"); err != nil {
		t.Fatalf("change sponsor failed: %v", err)
	}
	env.sale(t, c, "120")
	entry, err := env.engine.RequestWithdrawal(ctx, RequestWithdrawalInput{MemberID: b.ID, Amount: decimal.NewFromInt(60), Method: constants.WithdrawMethodBank, Details: payoutDetails(constants.WithdrawMethodBank)})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if _, err := env.engine.FailWithdrawal(ctx, entry.ID, "admin:1", "rejected"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	first, err := env.replay.Replay(ctx)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	second, err := env.replay.Replay(ctx)
	if err != nil {
		t.Fatalf("second replay failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("replays produced different member sets")
	}
	for id, st := range first {
		other := second[id]
		if other == nil || !st.Balance.Equal(other.Balance) || st.Rank != other.Rank || !st.TotalEarnings.Equal(other.TotalEarnings) {
			t.Fatalf("replay of member %d is not deterministic", id)
		}
	}

	report, err := env.replay.Audit(ctx)
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected clean audit, got drifts %+v", report.Drifts)
	}
	if first[a.ID].Rank != constants.RankSilver {
		t.Fatalf("alice should replay as Silver, got %s", first[a.ID].Rank)
	}

	// 绕过引擎直接改余额，对账应发现差异
	if err := env.db.Model(&models.Member{}).Where("id = ?", b.ID).Update("balance", "999.00").Error; err != nil {
		t.Fatalf("tamper balance failed: %v", err)
	}
	report, err = env.replay.Audit(ctx)
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if report.Clean() {
		t.Fatalf("audit should detect tampered balance")
	}
}

func TestUpdatePlanAppliesToLaterSalesOnly(t *testing.T) {
	env := setupEngineTest(t, threeLevelPlan)
	invalidator := &countingInvalidator{}
	env.engine.cache = invalidator
	a := env.register(t, "alice", nil)
	b := env.register(t, "bob", a)
	c := env.register(t, "carol", b)
	env.sale(t, c, "100")

	next := plan.Default()
	next.Commission = plan.CommissionTable{{Level: 1, Rate: decimal.RequireFromString("0.20")}}
	if _, err := env.engine.UpdatePlan(context.Background(), next); err != nil {
		t.Fatalf("update plan failed: %v", err)
	}
	calls := invalidator.calls

	result := env.sale(t, c, "100")
	if len(result.Credits) != 1 {
		t.Fatalf("expected single level credit, got %d", len(result.Credits))
	}
	assertMoney(t, "level 1 credit", result.Credits[0].Amount, "20.00")
	a = env.reload(t, a)
	assertMoney(t, "alice keeps earlier credit", a.TotalEarnings, "5.00")

	bad := plan.Default()
	bad.Commission = plan.CommissionTable{{Level: 1, Rate: decimal.RequireFromString("1.50")}}
	if _, err := env.engine.UpdatePlan(context.Background(), bad); !errors.Is(err, ErrPlanInvalid) {
		t.Fatalf("expected ErrPlanInvalid, got %v", err)
	}
	if invalidator.calls != calls+1 {
		t.Fatalf("rejected plan update must not invalidate cache")
	}
}

func TestUpdatePlanRankChangePromotesAndReplaysClean(t *testing.T) {
	env := setupEngineTest(t, nil)
	ctx := context.Background()
	root := env.register(t, "root", nil)
	env.register(t, "alice", root)
	env.register(t, "bob", root)
	dave := env.register(t, "dave", nil)
	dora := env.register(t, "dora", dave)
	env.register(t, "dan", dave)
	// dave 曾有 2 个直推，改挂后只剩 1 个
	if _, err := env.engine.ChangeSponsor(ctx, dora.ID, &root.ID, "admin:1"); err != nil {
		t.Fatalf("change sponsor failed: %v", err)
	}

	next := plan.Default()
	next.Ranks[1].MinDirectReferrals = 2
	if _, err := env.engine.UpdatePlan(ctx, next); err != nil {
		t.Fatalf("update plan failed: %v", err)
	}
	if got := env.reload(t, root).Rank; got != constants.RankSilver {
		t.Fatalf("root should be promoted to Silver, got %s", got)
	}
	if got := env.reload(t, dave).Rank; got != constants.RankBronze {
		t.Fatalf("dave should stay Bronze, got %s", got)
	}
	if env.countEntries(t, constants.LedgerKindPlanChange) != 1 {
		t.Fatalf("rank change should append one plan_change entry")
	}

	report, err := env.replay.Audit(ctx)
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected clean audit after rank change, got %+v", report.Drifts)
	}

	commissionOnly := next
	commissionOnly.Commission = plan.CommissionTable{{Level: 1, Rate: decimal.RequireFromString("0.20")}}
	if _, err := env.engine.UpdatePlan(ctx, commissionOnly); err != nil {
		t.Fatalf("commission update failed: %v", err)
	}
	if env.countEntries(t, constants.LedgerKindPlanChange) != 1 {
		t.Fatalf("unchanged ladder must not append plan_change")
	}

	env.register(t, "dina", dave)
	if got := env.reload(t, dave).Rank; got != constants.RankSilver {
		t.Fatalf("dave should reach Silver under the new ladder, got %s", got)
	}
	report, err = env.replay.Audit(ctx)
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected clean audit, got %+v", report.Drifts)
	}
}
