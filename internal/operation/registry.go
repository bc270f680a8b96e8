package operation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxTerminal は保持する終端エントリ数のデフォルト上限
const DefaultMaxTerminal = 256

// Registry は全ての操作をIDで追跡するレジストリ
// 全てのメソッドは複数ゴルーチンから安全に呼び出せる
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	maxTerminal int
}

// entry はレジストリ内部の操作エントリ
// キャンセルフラグは状態とは独立しており、ランナーが協調的に観測する
type entry struct {
	op              Operation
	cancelRequested bool
	cancelCh        chan struct{}
}

// NewRegistry は新しいRegistryを作成する
// maxTerminal が 0 以下の場合は DefaultMaxTerminal が使われる
func NewRegistry(maxTerminal int) *Registry {
	if maxTerminal <= 0 {
		maxTerminal = DefaultMaxTerminal
	}
	return &Registry{
		entries:     make(map[string]*entry),
		maxTerminal: maxTerminal,
	}
}

// Create は新しい操作を pending 状態で登録する
func (r *Registry) Create(kind Kind) Operation {
	r.mu.Lock()
	defer r.mu.Unlock()

	op := Operation{
		ID:        uuid.New().String(),
		Kind:      kind,
		State:     StatePending,
		CreatedAt: time.Now(),
	}

	r.entries[op.ID] = &entry{
		op:       op,
		cancelCh: make(chan struct{}),
	}

	return op
}

// Get は指定されたIDの操作のスナップショットを取得する
func (r *Registry) Get(id string) (Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[id]
	if !exists {
		return Operation{}, ErrNotFound
	}
	return e.op, nil
}

// List は全ての操作のスナップショットを作成時刻順で取得する（診断用）
func (r *Registry) List() []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ops := make([]Operation, 0, len(r.entries))
	for _, e := range r.entries {
		ops = append(ops, e.op)
	}

	sort.Slice(ops, func(i, j int) bool {
		return ops[i].CreatedAt.Before(ops[j].CreatedAt)
	})

	return ops
}

// MarkRunning は操作を pending から running に遷移させる
func (r *Registry) MarkRunning(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return ErrNotFound
	}
	if e.op.State.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if e.op.State != StatePending {
		return fmt.Errorf("pending 以外からの running 遷移: %s", e.op.State)
	}

	e.op.State = StateRunning
	return nil
}

// UpdateProgress は実行中の操作の進捗を更新する
// total が 0 の場合は既存の total を維持する
// lastPath が空の場合は既存のパスを維持する
func (r *Registry) UpdateProgress(id string, done, total int, lastPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return ErrNotFound
	}
	if e.op.State.IsTerminal() {
		return ErrAlreadyTerminal
	}

	if total == 0 {
		total = e.op.Progress.Total
	}

	// 進捗は単調非減少。減少や total 超過はランナーのバグ
	if done < e.op.Progress.Done {
		return fmt.Errorf("進捗の減少は許可されません: %d -> %d", e.op.Progress.Done, done)
	}
	if total > 0 && done > total {
		return fmt.Errorf("進捗が総数を超えています: %d / %d", done, total)
	}

	e.op.Progress.Done = done
	e.op.Progress.Total = total
	if lastPath != "" {
		e.op.LastArtifactPath = lastPath
	}

	return nil
}

// MarkDone は操作を done に遷移させる
func (r *Registry) MarkDone(id string) error {
	return r.terminate(id, StateDone, "")
}

// MarkError は操作を error に遷移させ、詳細を記録する
func (r *Registry) MarkError(id string, detail string) error {
	return r.terminate(id, StateError, detail)
}

// MarkCancelled は操作を cancelled に遷移させる
func (r *Registry) MarkCancelled(id string) error {
	return r.terminate(id, StateCancelled, "")
}

// terminate は終端状態への遷移を実行する
func (r *Registry) terminate(id string, state State, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return ErrNotFound
	}
	if e.op.State.IsTerminal() {
		return ErrAlreadyTerminal
	}

	e.op.State = state
	e.op.ErrorDetail = detail
	r.pruneLocked()

	return nil
}

// RequestCancel はキャンセルを要求する
// 状態遷移は行わず、フラグ設定とチャンネルクローズのみを行う
// 実際の cancelled への遷移はランナーが協調的に実行する
func (r *Registry) RequestCancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return ErrNotFound
	}
	if e.op.State.IsTerminal() {
		return ErrAlreadyTerminal
	}

	if !e.cancelRequested {
		e.cancelRequested = true
		close(e.cancelCh)
	}

	return nil
}

// IsCancelRequested はキャンセルが要求されているかを返す
func (r *Registry) IsCancelRequested(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[id]
	if !exists {
		return false
	}
	return e.cancelRequested
}

// CancelChan はキャンセル要求時にクローズされるチャンネルを返す
// ランナーが待機中にキャンセルを検知するために使用する
func (r *Registry) CancelChan(id string) <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[id]
	if !exists {
		// 存在しないIDにはクローズ済みチャンネルを返す
		// （待機が即座に解除される）
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return e.cancelCh
}

// pruneLocked は終端エントリが上限を超えた場合に古い順で削除する（ロック済み前提）
// 実行中・待機中のエントリは決して削除しない
func (r *Registry) pruneLocked() {
	var terminal []*entry
	for _, e := range r.entries {
		if e.op.State.IsTerminal() {
			terminal = append(terminal, e)
		}
	}

	if len(terminal) <= r.maxTerminal {
		return
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].op.CreatedAt.Before(terminal[j].op.CreatedAt)
	})

	for _, e := range terminal[:len(terminal)-r.maxTerminal] {
		delete(r.entries, e.op.ID)
	}
}
