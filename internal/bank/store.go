// internal/bank/store.go

// Store 擁有全部帳戶，並以「結構鎖」保護 map 的新增、刪除與列舉。
// 結構鎖只在 map 操作期間持有，任何餘額變更都在釋放結構鎖之後、
// 於個別帳戶鎖內進行，因此不同帳戶之間不會互相阻塞。

package bank

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCapacity 為未設定時的帳戶數上限。
const DefaultCapacity = 1000

// Store 為帳戶集合。
// - mu：結構鎖（RWMutex）。Get 取讀鎖；Create / Delete / List 取寫鎖。
// - seq：建立序號，只在寫鎖內遞增。
type Store struct {
	mu       sync.RWMutex
	capacity int
	seq      uint64
	accts    map[string]*Account
	newID    func() string
	now      func() time.Time
}

// NewStore 建立容量為 capacity 的空集合；capacity <= 0 時使用 DefaultCapacity。
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		accts:    make(map[string]*Account),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Capacity 回傳帳戶數上限。
func (s *Store) Capacity() int { return s.capacity }

// Len 回傳目前帳戶數。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accts)
}

// Create 以初始餘額建立帳戶；帳戶數已達上限時回傳 ErrCapacity。
// 寫鎖只涵蓋容量檢查與插入。回傳的 AccountInfo 於插入前取得，
// 不受之後的並發刪除影響。
func (s *Store) Create(initial decimal.Decimal) (AccountInfo, error) {
	if initial.IsNegative() {
		return AccountInfo{}, fmt.Errorf("%w: initial balance %s is negative", ErrBadAmount, initial)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.accts) >= s.capacity {
		return AccountInfo{}, fmt.Errorf("%w (%d)", ErrCapacity, s.capacity)
	}
	id := s.newID()
	for _, taken := s.accts[id]; taken; _, taken = s.accts[id] {
		id = s.newID()
	}
	s.seq++
	a := newAccount(id, s.seq, initial, s.now())
	info := a.infoLocked() // 尚未插入，其他 goroutine 看不到 a
	s.accts[id] = a
	return info, nil
}

// Get 依 ID 解析帳戶；不存在回傳 ErrNotFound。
// 讀鎖允許多個 Get 並行，但與 Create / Delete 互斥。
func (s *Store) Get(id string) (*Account, error) {
	s.mu.RLock()
	a, ok := s.accts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

// Delete 移除帳戶。
//  1. 寫鎖內移除 map 項目，之後的 Get 一律 ErrNotFound。
//  2. 釋放寫鎖後再取得該帳戶鎖並標記 closed：
//     正在進行中的 ApplyDelta 先完成；之前已解析、但尚未取得帳戶鎖的操作
//     會看到 closed 而回傳 ErrNotFound。
//
// 整個過程不會同時持有結構鎖與帳戶鎖。
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	a, ok := s.accts[id]
	if ok {
		delete(s.accts, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	a.close()
	return nil
}

// List 回傳所有帳戶的快照，依建立順序排列。
//  1. 寫鎖內複製帳戶指標：期間不會有新增或刪除，故成員集合為單一時間點。
//  2. 釋放寫鎖後，於各帳戶鎖內逐一讀取；已被刪除（closed）的帳戶略過。
//
// 結構鎖與帳戶鎖不會同時持有，某帳戶的慢操作不會經由 List 阻塞其他帳戶。
func (s *Store) List() []AccountInfo {
	s.mu.Lock()
	accts := make([]*Account, 0, len(s.accts))
	for _, a := range s.accts {
		accts = append(accts, a)
	}
	s.mu.Unlock()

	slices.SortFunc(accts, func(x, y *Account) int { return cmp.Compare(x.seq, y.seq) })
	out := make([]AccountInfo, 0, len(accts))
	for _, a := range accts {
		info, err := a.Info()
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out
}
