package driver

import (
	"context"
	"log"
)

// New は設定に応じたDriver実装を構築する
// 実装の選択はここで一度だけ行い、以降のビジネスロジックでは分岐しない
func New(ctx context.Context, simulate bool) (Driver, error) {
	if simulate {
		log.Println("シミュレータドライバを使用します")
		return NewSimulator(), nil
	}

	cam, err := NewPiCamera(ctx)
	if err != nil {
		return nil, err
	}

	log.Println("rpicamドライバを初期化しました")
	return cam, nil
}
