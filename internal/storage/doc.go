// Package storage 撮影データのファイル管理を担う
//
// # 責務
// - セッションフォルダの作成と一覧
// - 撮影成果物の一覧取得（種別分類・ソート・上限）
// - サムネイルの生成とキャッシュ
// - セッションのZIPアーカイブ作成とキャッシュ
// - 空き容量の確認
//
// # 仕様
// - データは <data_path>/sessions/<セッション名>/ 以下に保存される
// - サムネイルは <data_path>/.thumbs/ にキャッシュされ、元ファイルより
//   新しい場合のみ再利用される
// - ZIPは <data_path>/zips/ にキャッシュされ、同様にmtimeで判定される
// - ドットファイルは一覧・アーカイブの対象外
package storage
