// Package server は、HTTP APIとWebSocket通信を管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// プレビューストリーミング、テレメトリのWebSocket配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - 撮影・シーケンス・動画・RAWバースト・フォーカスAPIの処理
//   - ファイル・セッション・サムネイル・ZIP APIの処理
//   - MJPEGプレビューストリームの配信
//   - テレメトリのWebSocketプッシュ（1秒間隔）
//   - クライアント切断の検知と操作の停止
//
// 仕様:
//   - ルーティングはgin-gonic/ginを使用
//   - WebSocketはgorilla/websocketを使用
//   - グレースフルシャットダウンに対応（実行中操作の排出を含む）
//   - カメラが初期化できない環境ではデグレードモードで起動し、
//     カメラ系エンドポイントは503を返す
package server
