// internal/bank/bank_test.go
//
// 本檔為 bank 模組的單元與並發測試。
// 覆蓋：開戶、容量上限、存提款、餘額不可為負、刪除語意、列表快照，
// 以及「同帳戶序列化、不同帳戶互不阻塞」的鎖設計。
// 所有測試皆為 in-memory 執行，不依賴外部服務。

package bank

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// d 為小工具：將字串轉為 decimal，格式錯誤直接 panic（僅限測試常數）。
func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// mustCreate 開戶，失敗則讓測試立即失敗。
func mustCreate(t *testing.T, l *Ledger, initial string) string {
	t.Helper()
	info, err := l.CreateAccount(d(initial))
	if err != nil {
		t.Fatalf("CreateAccount(%s) err=%v", initial, err)
	}
	return info.ID
}

// balance 安全取出餘額。
func balance(t *testing.T, l *Ledger, id string) decimal.Decimal {
	t.Helper()
	b, err := l.Balance(id)
	if err != nil {
		t.Fatalf("Balance(%s) err=%v", id, err)
	}
	return b
}

// TestCreateAndList 驗證帳戶建立與列出：唯一 ID、初始餘額正確、依建立順序排列。
func TestCreateAndList(t *testing.T) {
	l := New()
	a1 := mustCreate(t, l, "1000")
	a2 := mustCreate(t, l, "500")
	if a1 == a2 || a1 == "" || a2 == "" {
		t.Fatalf("ids should be unique and non-empty: %q %q", a1, a2)
	}

	all := l.ListAccounts()
	if len(all) != 2 {
		t.Fatalf("List len=%d want=2", len(all))
	}
	if all[0].ID != a1 || all[1].ID != a2 {
		t.Fatalf("list order=%q,%q want %q,%q", all[0].ID, all[1].ID, a1, a2)
	}
	if !all[0].Balance.Equal(d("1000")) || !all[1].Balance.Equal(d("500")) {
		t.Fatalf("list balances=%s,%s", all[0].Balance, all[1].Balance)
	}
	if st := l.Stats(); st.Accounts != 2 || st.MaxAccounts != DefaultCapacity {
		t.Fatalf("stats=%+v", st)
	}
}

// TestCreateNegativeBalance 驗證開戶初始餘額不得為負；零元開戶合法。
func TestCreateNegativeBalance(t *testing.T) {
	l := New()
	if _, err := l.CreateAccount(d("-0.01")); !errors.Is(err, ErrBadAmount) {
		t.Fatalf("want ErrBadAmount, got %v", err)
	}
	if _, err := l.CreateAccount(decimal.Zero); err != nil {
		t.Fatalf("zero initial balance should be allowed: %v", err)
	}
}

// TestDepositWithdraw 測試存款與提款的正常路徑與錯誤條件。
func TestDepositWithdraw(t *testing.T) {
	l := New()
	id := mustCreate(t, l, "100")

	// ✅ 正常存提款
	if _, err := l.Deposit(id, d("50")); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Withdraw(id, d("30")); err != nil {
		t.Fatal(err)
	}
	if bal := balance(t, l, id); !bal.Equal(d("120")) {
		t.Fatalf("balance=%s want=120", bal)
	}

	// ❌ 錯誤金額：0 或負數
	for _, amt := range []string{"0", "-1"} {
		if _, err := l.Deposit(id, d(amt)); !errors.Is(err, ErrBadAmount) {
			t.Fatalf("deposit %s: expect ErrBadAmount, got %v", amt, err)
		}
		if _, err := l.Withdraw(id, d(amt)); !errors.Is(err, ErrBadAmount) {
			t.Fatalf("withdraw %s: expect ErrBadAmount, got %v", amt, err)
		}
	}

	// ❌ 餘額不足，餘額不變
	if _, err := l.Withdraw(id, d("120.01")); !errors.Is(err, ErrInsufficient) {
		t.Fatalf("expect ErrInsufficient, got %v", err)
	}
	if bal := balance(t, l, id); !bal.Equal(d("120")) {
		t.Fatalf("balance changed after failed withdraw: %s", bal)
	}

	// ✅ 剛好提領全部餘額
	if _, err := l.Withdraw(id, d("120")); err != nil {
		t.Fatal(err)
	}
	if bal := balance(t, l, id); !bal.IsZero() {
		t.Fatalf("balance=%s want=0", bal)
	}

	// ❌ 未知帳戶
	if _, err := l.Deposit("nope", d("1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expect ErrNotFound, got %v", err)
	}
	if _, err := l.Withdraw("nope", d("1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expect ErrNotFound, got %v", err)
	}
}

// TestReceipt 驗證收據欄位：帳戶、新餘額、金額、種類、提交時間。
func TestReceipt(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithClock(func() time.Time { return at }))
	id := mustCreate(t, l, "10")

	r, err := l.Deposit(id, d("2.50"))
	if err != nil {
		t.Fatal(err)
	}
	if r.AccountID != id || r.Kind != KindDeposit || !r.Amount.Equal(d("2.5")) ||
		!r.NewBalance.Equal(d("12.5")) || !r.Timestamp.Equal(at) {
		t.Fatalf("deposit receipt unexpected: %+v", r)
	}

	r, err = l.Withdraw(id, d("12.5"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindWithdraw || !r.NewBalance.IsZero() || !r.Amount.Equal(d("12.5")) {
		t.Fatalf("withdraw receipt unexpected: %+v", r)
	}

	info, err := l.Account(id)
	if err != nil {
		t.Fatal(err)
	}
	if !info.UpdatedAt.Equal(at) || !info.CreatedAt.Equal(at) {
		t.Fatalf("timestamps unexpected: %+v", info)
	}
}

// TestDecimalExactness 驗證十次 0.1 存款後恰為 1（無浮點誤差）。
func TestDecimalExactness(t *testing.T) {
	l := New()
	id := mustCreate(t, l, "0")
	for i := 0; i < 10; i++ {
		if _, err := l.Deposit(id, d("0.1")); err != nil {
			t.Fatal(err)
		}
	}
	if bal := balance(t, l, id); !bal.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("balance=%s want=1", bal)
	}
}

// TestMaxTransactionAmount 驗證單筆上限套用於存款、提款與開戶。
func TestMaxTransactionAmount(t *testing.T) {
	l := New(WithMaxTransactionAmount(d("100")))
	if _, err := l.CreateAccount(d("100.01")); !errors.Is(err, ErrBadAmount) {
		t.Fatalf("create over max: want ErrBadAmount, got %v", err)
	}
	id := mustCreate(t, l, "100")
	if _, err := l.Deposit(id, d("101")); !errors.Is(err, ErrBadAmount) {
		t.Fatalf("deposit over max: want ErrBadAmount, got %v", err)
	}
	if _, err := l.Deposit(id, d("100")); err != nil {
		t.Fatalf("deposit at max: %v", err)
	}
	if _, err := l.Withdraw(id, d("150")); !errors.Is(err, ErrBadAmount) {
		t.Fatalf("withdraw over max: want ErrBadAmount, got %v", err)
	}
	if bal := balance(t, l, id); !bal.Equal(d("200")) {
		t.Fatalf("balance=%s want=200", bal)
	}
}

// TestScenario 為容量 2 的完整情境。
func TestScenario(t *testing.T) {
	l := New(WithMaxAccounts(2))
	a := mustCreate(t, l, "100")
	b := mustCreate(t, l, "50")
	if _, err := l.CreateAccount(d("10")); !errors.Is(err, ErrCapacity) {
		t.Fatalf("third create: want ErrCapacity, got %v", err)
	}

	if _, err := l.Withdraw(a, d("150")); !errors.Is(err, ErrInsufficient) {
		t.Fatalf("withdraw 150: want ErrInsufficient, got %v", err)
	}
	if bal := balance(t, l, a); !bal.Equal(d("100")) {
		t.Fatalf("A=%s want 100", bal)
	}
	if _, err := l.Withdraw(a, d("40")); err != nil {
		t.Fatal(err)
	}
	if bal := balance(t, l, a); !bal.Equal(d("60")) {
		t.Fatalf("A=%s want 60", bal)
	}
	if _, err := l.Deposit(b, d("5")); err != nil {
		t.Fatal(err)
	}
	if bal := balance(t, l, b); !bal.Equal(d("55")) {
		t.Fatalf("B=%s want 55", bal)
	}

	if err := l.DeleteAccount(a); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Balance(a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("balance after delete: want ErrNotFound, got %v", err)
	}
	// 刪除後釋出容量
	if _, err := l.CreateAccount(d("10")); err != nil {
		t.Fatalf("create after delete: %v", err)
	}
}

// TestConcurrentCreateStorm 驗證並發開戶永遠不超過容量。
func TestConcurrentCreateStorm(t *testing.T) {
	const capacity = 50
	const workers = 400
	l := New(WithMaxAccounts(capacity))

	var ok, full atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := l.CreateAccount(decimal.NewFromInt(1))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrCapacity):
				full.Add(1)
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != capacity || full.Load() != workers-capacity {
		t.Fatalf("ok=%d full=%d want %d/%d", ok.Load(), full.Load(), capacity, workers-capacity)
	}
	all := l.ListAccounts()
	if len(all) != capacity {
		t.Fatalf("live accounts=%d want %d", len(all), capacity)
	}
	seen := make(map[string]bool, len(all))
	for _, a := range all {
		if seen[a.ID] {
			t.Fatalf("duplicate id %s", a.ID)
		}
		seen[a.ID] = true
	}
}

// TestConcurrentMixedSerializable 驗證同帳戶並發存提款的可序列化性：
// 最終餘額 = 初始 + 成功異動總和，且過程中觀察到的餘額永不為負。
func TestConcurrentMixedSerializable(t *testing.T) {
	l := New()
	id := mustCreate(t, l, "100")

	const n = 300
	var deposited, withdrawn atomic.Int64
	var wg sync.WaitGroup
	stop := make(chan struct{})

	// 觀察者：持續讀取餘額，確認從未為負
	var observer sync.WaitGroup
	observer.Add(1)
	go func() {
		defer observer.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if bal, err := l.Balance(id); err != nil || bal.IsNegative() {
				t.Errorf("observed balance=%s err=%v", bal, err)
				return
			}
		}
	}()

	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := l.Deposit(id, decimal.NewFromInt(2)); err != nil {
				t.Errorf("deposit: %v", err)
				return
			}
			deposited.Add(2)
		}()
		go func() {
			defer wg.Done()
			_, err := l.Withdraw(id, decimal.NewFromInt(3))
			switch {
			case err == nil:
				withdrawn.Add(3)
			case errors.Is(err, ErrInsufficient):
			default:
				t.Errorf("withdraw: %v", err)
			}
		}()
	}
	wg.Wait()
	close(stop)
	observer.Wait()

	want := decimal.NewFromInt(100 + deposited.Load() - withdrawn.Load())
	if bal := balance(t, l, id); !bal.Equal(want) {
		t.Fatalf("balance=%s want=%s (deposited=%d withdrawn=%d)", bal, want, deposited.Load(), withdrawn.Load())
	}
}

// TestDistinctAccountsDoNotBlock 驗證帳戶 A 被占用時，帳戶 B 的操作不受影響；
// A 本身的操作則必須等待。
func TestDistinctAccountsDoNotBlock(t *testing.T) {
	l := New()
	a := mustCreate(t, l, "100")
	b := mustCreate(t, l, "100")

	acct, err := l.store.Get(a)
	if err != nil {
		t.Fatal(err)
	}
	acct.mu.Lock() // 模擬 A 上一個很慢的異動

	aDone := make(chan error, 1)
	go func() {
		_, err := l.Deposit(a, d("1"))
		aDone <- err
	}()

	bDone := make(chan error, 1)
	go func() {
		_, err := l.Withdraw(b, d("10"))
		bDone <- err
	}()
	select {
	case err := <-bDone:
		if err != nil {
			t.Fatalf("B withdraw: %v", err)
		}
	case <-time.After(2 * time.Second):
		acct.mu.Unlock()
		t.Fatal("operation on B blocked by A")
	}

	// 結構操作也不應被 A 的帳戶鎖阻塞
	if _, err := l.CreateAccount(d("1")); err != nil {
		t.Fatalf("create while A busy: %v", err)
	}

	select {
	case err := <-aDone:
		t.Fatalf("A deposit finished while guard held (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	acct.mu.Unlock()
	if err := <-aDone; err != nil {
		t.Fatalf("A deposit: %v", err)
	}
	if bal := balance(t, l, a); !bal.Equal(d("101")) {
		t.Fatalf("A=%s want 101", bal)
	}
}

// TestDeleteWaitsForInFlight 驗證刪除時：
//   - map 項目立即移除，新的查詢得到 ErrNotFound；
//   - Delete 等待進行中的帳戶鎖釋放後才完成。
func TestDeleteWaitsForInFlight(t *testing.T) {
	l := New()
	id := mustCreate(t, l, "100")
	acct, err := l.store.Get(id)
	if err != nil {
		t.Fatal(err)
	}

	acct.mu.Lock() // 模擬進行中的異動
	done := make(chan error, 1)
	go func() { done <- l.DeleteAccount(id) }()

	deadline := time.Now().Add(2 * time.Second)
	for l.store.Len() != 0 {
		if time.Now().After(deadline) {
			acct.mu.Unlock()
			t.Fatal("entry not removed from store")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := l.Deposit(id, d("1")); !errors.Is(err, ErrNotFound) {
		acct.mu.Unlock()
		t.Fatalf("deposit after removal: want ErrNotFound, got %v", err)
	}
	select {
	case <-done:
		acct.mu.Unlock()
		t.Fatal("delete finalized while guard held")
	case <-time.After(50 * time.Millisecond):
	}

	acct.mu.Unlock()
	if err := <-done; err != nil {
		t.Fatalf("delete: %v", err)
	}
}

// TestStaleReferenceAfterDelete 驗證刪除前取得的參照，刪除後無法再讀寫。
func TestStaleReferenceAfterDelete(t *testing.T) {
	l := New()
	id := mustCreate(t, l, "100")
	acct, err := l.store.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.DeleteAccount(id); err != nil {
		t.Fatal(err)
	}
	if _, err := acct.ApplyDelta(d("1"), time.Now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ApplyDelta on deleted: want ErrNotFound, got %v", err)
	}
	if _, err := acct.Balance(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Balance on deleted: want ErrNotFound, got %v", err)
	}
	if err := l.DeleteAccount(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
}

// TestConcurrentDeleteAndDeposit 驗證刪除與存款並發時，每筆存款不是成功就是 ErrNotFound，
// 且刪除後的操作一律 ErrNotFound。
func TestConcurrentDeleteAndDeposit(t *testing.T) {
	l := New()
	id := mustCreate(t, l, "0")

	var wg sync.WaitGroup
	wg.Add(101)
	for i := 0; i < 100; i++ {
		go func() {
			defer wg.Done()
			if _, err := l.Deposit(id, d("1")); err != nil && !errors.Is(err, ErrNotFound) {
				t.Errorf("deposit: %v", err)
			}
		}()
	}
	go func() {
		defer wg.Done()
		if err := l.DeleteAccount(id); err != nil {
			t.Errorf("delete: %v", err)
		}
	}()
	wg.Wait()

	if _, err := l.Deposit(id, d("1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deposit after delete: want ErrNotFound, got %v", err)
	}
}

// TestListIdempotent 驗證無異動時連續兩次列表結果相同。
func TestListIdempotent(t *testing.T) {
	l := New()
	for i := 0; i < 20; i++ {
		mustCreate(t, l, fmt.Sprintf("%d.25", i))
	}
	first := l.ListAccounts()
	second := l.ListAccounts()
	if len(first) != len(second) {
		t.Fatalf("len %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || !first[i].Balance.Equal(second[i].Balance) {
			t.Fatalf("snapshot differs at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

// TestUniqueIDsWithCollidingGenerator 驗證 ID 產生器發生碰撞時會重新產生。
func TestUniqueIDsWithCollidingGenerator(t *testing.T) {
	ids := []string{"x", "x", "y"}
	var i int
	l := New(WithIDGenerator(func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}))
	a := mustCreate(t, l, "1")
	b := mustCreate(t, l, "1")
	if a != "x" || b != "y" {
		t.Fatalf("ids=%q,%q want x,y", a, b)
	}
}

// TestListDoesNotStallOtherAccounts 驗證列表等待某個忙碌帳戶時，
// 不會連帶阻塞其他帳戶的異動與結構操作。
func TestListDoesNotStallOtherAccounts(t *testing.T) {
	l := New()
	a := mustCreate(t, l, "100")
	b := mustCreate(t, l, "100")

	acct, err := l.store.Get(a)
	if err != nil {
		t.Fatal(err)
	}
	acct.mu.Lock() // 模擬 A 上一個很慢的異動

	listDone := make(chan []AccountInfo, 1)
	go func() { listDone <- l.ListAccounts() }()
	time.Sleep(20 * time.Millisecond) // 讓 List 卡在 A 的帳戶鎖

	bDone := make(chan error, 1)
	go func() {
		_, err := l.Deposit(b, d("1"))
		if err == nil {
			_, err = l.CreateAccount(d("1"))
		}
		bDone <- err
	}()
	select {
	case err := <-bDone:
		if err != nil {
			acct.mu.Unlock()
			t.Fatalf("B deposit / create: %v", err)
		}
	case <-time.After(2 * time.Second):
		acct.mu.Unlock()
		t.Fatal("operation on B blocked by in-flight list")
	}

	acct.mu.Unlock()
	select {
	case got := <-listDone:
		if len(got) < 2 || got[0].ID != a || got[1].ID != b {
			t.Fatalf("list=%+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("list did not return after guard released")
	}
}

// TestListSkipsClosedAccount 驗證已關閉的帳戶不會出現在列表中。
func TestListSkipsClosedAccount(t *testing.T) {
	l := New()
	a := mustCreate(t, l, "1")
	b := mustCreate(t, l, "2")
	acct, err := l.store.Get(a)
	if err != nil {
		t.Fatal(err)
	}
	acct.close() // 模擬刪除已從 map 外完成標記

	got := l.ListAccounts()
	if len(got) != 1 || got[0].ID != b {
		t.Fatalf("list=%+v want only %s", got, b)
	}
}

// TestCreateResultSurvivesConcurrentDelete 驗證開戶回傳的資料在插入前即已取得，
// 即使帳戶隨即被並發刪除，開戶本身仍然成功且回傳正確的初始餘額。
func TestCreateResultSurvivesConcurrentDelete(t *testing.T) {
	l := New()
	stop := make(chan struct{})
	var deleter sync.WaitGroup
	deleter.Add(1)
	go func() {
		defer deleter.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, info := range l.ListAccounts() {
				_ = l.DeleteAccount(info.ID)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			initial := decimal.NewFromInt(int64(i))
			info, err := l.CreateAccount(initial)
			if err != nil {
				t.Errorf("create %d: %v", i, err)
				return
			}
			if info.ID == "" || !info.Balance.Equal(initial) || !info.CreatedAt.Equal(info.UpdatedAt) {
				t.Errorf("create %d: info=%+v", i, info)
			}
		}(i)
	}
	wg.Wait()
	close(stop)
	deleter.Wait()
}
