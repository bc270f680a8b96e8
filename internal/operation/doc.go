// Package operation 長時間実行されるカメラ操作の追跡を担う
//
// # 責務
// - 操作（シーケンス・RAWバースト・動画・プレビュー）の識別子管理
// - 操作の状態機械（pending → running → done/error/cancelled）の強制
// - 進捗（done/total）と最新成果物パスの記録
// - 協調的キャンセルの要求フラグとキャンセル通知チャンネルの管理
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - バックグラウンドで実行される撮影操作を登録・照会したい
// - 実行中の操作にキャンセルを要求したい
// - 操作の進捗をステータスポーリングで参照したい
//
// # 仕様
// - 全ての変更は並行リーダーに対してアトミック（途中状態は観測されない）
// - 終端状態（done/error/cancelled）からの遷移は不可
// - done は単調非減少であり、total が既知の間は total を超えない
// - 実行中のエントリは削除されない。終端エントリのみ上限超過時に古い順で削除
package operation
