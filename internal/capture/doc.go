// Package capture カメラ操作の調停と実行を担う
//
// # 責務
// - 単一の物理カメラに対する排他アクセス制御（リソースガード）
// - 撮影操作（静止画・シーケンス・RAWバースト・動画・プレビュー）の受付判定
// - 長時間操作のバックグラウンド実行とキャンセル
// - フォーカス測定
//
// # 仕様
// - カメラに触れる操作は必ずガードのトークンを取得してから実行する
// - 長時間操作（シーケンス・RAWバースト・動画・プレビュー）は相互排他であり、
//   実行中に別の操作を開始しようとすると Busy で即座に拒否される（待機しない）
// - シーケンス・RAWバーストはフレーム間でガードを解放し、停止はキャンセル扱い
// - 動画は録画期間中ガードを保持し続け、停止は正常終了（done）
// - プレビューはフレームごとにガードを取得し、停止は正常終了（done）
// - キャンセルは協調的に行われる。実行中のハードウェア撮影は完了を待つ
// - 実行中の操作内で起きたドライバ・ストレージ障害は操作の error 状態として
//   記録され、ステータスポーリングで発見される（呼び出し元には投げない）
package capture
