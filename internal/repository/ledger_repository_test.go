package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/tiernet/internal/constants"
	"github.com/tiernet/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupLedgerRepositoryTest(t *testing.T) (*GormLedgerRepository, *GormMemberRepository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return NewLedgerRepository(db), NewMemberRepository(db), db
}

func createRepoMember(t *testing.T, repo *GormMemberRepository, username string, earnings string) *models.Member {
	t.Helper()
	member := &models.Member{
		Username:      username,
		Email:         username + "@example.com",
		JoinedAt:      time.Now().UTC(),
		Active:        true,
		Rank:          constants.RankBronze,
		TotalEarnings: models.MustMoney(earnings),
	}
	if err := repo.Create(member); err != nil {
		t.Fatalf("create member failed: %v", err)
	}
	return member
}

func TestLedgerRepositoryPageKeysetDescending(t *testing.T) {
	ledgerRepo, memberRepo, _ := setupLedgerRepositoryTest(t)
	member := createRepoMember(t, memberRepo, "pager", "0")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// 两条同一时间戳，验证 id 作为次级排序
	times := []time.Time{base, base.Add(time.Minute), base.Add(time.Minute), base.Add(2 * time.Minute)}
	for i, ts := range times {
		entry := &models.LedgerEntry{
			OccurredAt: ts,
			Kind:       constants.LedgerKindSale,
			Amount:     models.MustMoney(fmt.Sprintf("%d.00", i+1)),
			MemberID:   member.ID,
		}
		if err := ledgerRepo.Create(entry); err != nil {
			t.Fatalf("create entry failed: %v", err)
		}
	}

	first, err := ledgerRepo.Page(LedgerPageFilter{MemberID: member.ID, Limit: 2})
	if err != nil {
		t.Fatalf("page failed: %v", err)
	}
	if len(first) != 2 || first[0].Amount.String() != "4.00" || first[1].Amount.String() != "3.00" {
		t.Fatalf("unexpected first page: %+v", first)
	}
	last := first[len(first)-1]
	second, err := ledgerRepo.Page(LedgerPageFilter{MemberID: member.ID, Limit: 2, BeforeTime: last.OccurredAt, BeforeID: last.ID})
	if err != nil {
		t.Fatalf("page failed: %v", err)
	}
	if len(second) != 2 || second[0].Amount.String() != "2.00" || second[1].Amount.String() != "1.00" {
		t.Fatalf("unexpected second page: %+v", second)
	}
}

func TestLedgerRepositoryUpdateWithdrawalStatusIsConditional(t *testing.T) {
	ledgerRepo, memberRepo, _ := setupLedgerRepositoryTest(t)
	member := createRepoMember(t, memberRepo, "withdrawer", "0")
	entry := &models.LedgerEntry{
		OccurredAt: time.Now().UTC(),
		Kind:       constants.LedgerKindWithdrawal,
		Amount:     models.MustMoney("60"),
		MemberID:   member.ID,
		Status:     constants.WithdrawalStatusPending,
		Method:     constants.WithdrawMethodBank,
	}
	if err := ledgerRepo.Create(entry); err != nil {
		t.Fatalf("create entry failed: %v", err)
	}

	ok, err := ledgerRepo.UpdateWithdrawalStatus(entry.ID, constants.WithdrawalStatusPending, constants.WithdrawalStatusProcessing, nil, time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("first update should apply, ok=%v err=%v", ok, err)
	}
	ok, err = ledgerRepo.UpdateWithdrawalStatus(entry.ID, constants.WithdrawalStatusPending, constants.WithdrawalStatusCancelled, nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("second update failed: %v", err)
	}
	if ok {
		t.Fatalf("stale from-status must not update")
	}
	reloaded, err := ledgerRepo.GetByID(entry.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Status != constants.WithdrawalStatusProcessing {
		t.Fatalf("status want processing got %s", reloaded.Status)
	}
}

func TestMemberRepositoryTopByEarningsTieBreak(t *testing.T) {
	_, memberRepo, _ := setupLedgerRepositoryTest(t)
	a := createRepoMember(t, memberRepo, "a_member", "50.00")
	b := createRepoMember(t, memberRepo, "b_member", "80.00")
	c := createRepoMember(t, memberRepo, "c_member", "50.00")

	top, err := memberRepo.TopByEarnings(3)
	if err != nil {
		t.Fatalf("top failed: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("want 3 rows got %d", len(top))
	}
	if top[0].ID != b.ID || top[1].ID != a.ID || top[2].ID != c.ID {
		t.Fatalf("unexpected order: %d %d %d", top[0].ID, top[1].ID, top[2].ID)
	}
}

func TestSettingRepositoryUpsertOverwrites(t *testing.T) {
	_, _, db := setupLedgerRepositoryTest(t)
	repo := NewSettingRepository(db)
	if _, err := repo.Upsert("mlm_plan", models.JSON{"max_depth": 10}); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if _, err := repo.Upsert("mlm_plan", models.JSON{"max_depth": 20}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	setting, err := repo.GetByKey("mlm_plan")
	if err != nil || setting == nil {
		t.Fatalf("get setting failed: %v", err)
	}
	if fmt.Sprint(setting.ValueJSON["max_depth"]) != "20" {
		t.Fatalf("max_depth want 20 got %v", setting.ValueJSON["max_depth"])
	}
	if setting.UpdatedAt.IsZero() {
		t.Fatalf("updated_at should be recorded")
	}
}

func TestLedgerRepositoryListWithdrawalsByReference(t *testing.T) {
	ledgerRepo, memberRepo, _ := setupLedgerRepositoryTest(t)
	member := createRepoMember(t, memberRepo, "referenced", "0")
	for i, ref := range []string{"bank-001", "bank-002", ""} {
		entry := &models.LedgerEntry{
			OccurredAt: time.Now().UTC(),
			Kind:       constants.LedgerKindWithdrawal,
			Amount:     models.MustMoney(fmt.Sprintf("%d0.00", i+6)),
			MemberID:   member.ID,
			Status:     constants.WithdrawalStatusCompleted,
			Method:     constants.WithdrawMethodBank,
		}
		if ref != "" {
			entry.Meta = models.JSON{"completed_reason": ref}
		}
		if err := ledgerRepo.Create(entry); err != nil {
			t.Fatalf("create entry failed: %v", err)
		}
	}

	rows, total, err := ledgerRepo.ListWithdrawals(WithdrawalListFilter{Page: 1, PageSize: 10, Reference: "bank-002"})
	if err != nil {
		t.Fatalf("list withdrawals failed: %v", err)
	}
	if total != 1 || len(rows) != 1 || !rows[0].Amount.Equal(models.MustMoney("70.00")) {
		t.Fatalf("expected single bank-002 withdrawal, got total=%d rows=%+v", total, rows)
	}
}

func TestMemberRepositoryListKeyword(t *testing.T) {
	_, memberRepo, _ := setupLedgerRepositoryTest(t)
	createRepoMember(t, memberRepo, "alice", "0")
	createRepoMember(t, memberRepo, "bob", "0")
	createRepoMember(t, memberRepo, "alicia", "0")

	members, total, err := memberRepo.List(MemberListFilter{Page: 1, PageSize: 10, Keyword: "ali"})
	if err != nil {
		t.Fatalf("list members failed: %v", err)
	}
	if total != 2 || len(members) != 2 {
		t.Fatalf("expected 2 matches, got %d", total)
	}
	if members[0].Username != "alicia" {
		t.Fatalf("list should be id desc, got %s first", members[0].Username)
	}
}
