package capture

import (
	"log"
	"sync"
)

// Guard は単一の物理カメラへの排他アクセスを制御する
// 取得は非ブロッキングであり、使用中の場合は待機せず失敗する
// （ユーザー操作を黙って遅延させないため）
type Guard struct {
	slot chan struct{}
}

// Token はカメラの排他所有権を表す
// 生存中のTokenは常に高々1つである
type Token struct {
	guard *Guard
	once  sync.Once
}

// NewGuard は新しいGuardを作成する
func NewGuard() *Guard {
	return &Guard{slot: make(chan struct{}, 1)}
}

// TryAcquire はカメラの所有権の取得を試みる
// 既に所有されている場合は待機せずfalseを返す
func (g *Guard) TryAcquire() (*Token, bool) {
	select {
	case g.slot <- struct{}{}:
		return &Token{guard: g}, true
	default:
		return nil, false
	}
}

// Release は所有権を解放する
// 同一トークンに対する2回目以降の呼び出しは何もしない
func (t *Token) Release() {
	t.once.Do(func() {
		select {
		case <-t.guard.slot:
		default:
			// 取得済みトークンの解放でここに来ることはない
			log.Println("警告: 保持されていないガードの解放が呼ばれました")
		}
	})
}

// IsFree はガードが解放されているかを返す（テスト・診断用）
func (g *Guard) IsFree() bool {
	return len(g.slot) == 0
}
