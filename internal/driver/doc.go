// Package driver カメラハードウェアへのアクセスを抽象化する
//
// # 責務
// - 撮影モード（露光・ゲイン・ホワイトバランス等）の設定
// - 単一フレームの取得（プレビュー・フォーカス測定用）
// - 静止画・RAWファイルの書き出し
// - 動画録画の実行（停止要求まで継続）
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - 実機（Raspberry Pi HQ Camera / rpicam-apps）で撮影したい
// - ハードウェアなしの環境で決定的なシミュレーション撮影をしたい
//
// # 仕様
// - Driver インターフェースに対して2つの実装を提供する
//   - PiCamera: rpicam-still / rpicam-vid コマンド経由の実機制御
//   - Simulator: 決定的な合成フレームを生成するシミュレータ
// - 実装の選択は構築時に一度だけ行う（ビジネスロジック側での分岐は行わない）
// - 排他制御は呼び出し側（capture パッケージのガード）の責務
//
// # 前提要件（実機の場合）
//   - rpicam-apps: 静止画・動画撮影に使用
//     Raspberry Pi OS: sudo apt install rpicam-apps
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package driver
