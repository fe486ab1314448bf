// Package notify は新着記事のプッシュ通知の組み立てと送信を提供する。
// 配信ゲートウェイ（FCM）の呼び出しと、送信結果の失敗分類を含む。
package notify

import (
	"strings"

	"github.com/hitoshi/boardcast/internal/model"
)

// TitleSuffix は通知タイトルの掲示板名に続く固定文言。
const TitleSuffix = "새 공지사항이 등록되었습니다"

// データペイロードのキー。Webクライアントは通知クリック時にpostLinkを開く。
// feedSourceIdはboardIdと同じ値を持つ。
const (
	DataKeyBoardID      = "boardId"
	DataKeyFeedSourceID = "feedSourceId"
	DataKeyPostID       = "postId"
	DataKeyTitle        = "title"
	DataKeyLink         = "link"
	DataKeyPostLink     = "postLink"
)

// Message は端末1台分の送信リクエスト。
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
	// Link はWebプッシュのクリック遷移先。HTTPSでない場合は設定しない。
	Link string
}

// SendResult は送信リクエスト1件に対する結果。
type SendResult struct {
	Success   bool
	MessageID string
	Failure   model.FailureClass
	Err       error
}

// Title は掲示板の通知タイトルを返す。
func Title(src model.FeedSource) string {
	name := src.Name
	if name == "" {
		name = src.ID
	}
	return "[" + name + "] " + TitleSuffix
}

// BuildMessages はユーザーの端末ごとに送信リクエストを組み立てる。
// 戻り値の順序はdevicesの順序と一致する。
func BuildMessages(src model.FeedSource, post *model.Post, devices []model.Device) []Message {
	title := Title(src)
	data := map[string]string{
		DataKeyBoardID:      src.ID,
		DataKeyFeedSourceID: src.ID,
		DataKeyPostID:       post.ID,
		DataKeyTitle:        post.Title,
		DataKeyLink:         post.Link,
		DataKeyPostLink:     post.Link,
	}

	var link string
	if strings.HasPrefix(post.Link, "https://") {
		link = post.Link
	}

	messages := make([]Message, len(devices))
	for i, d := range devices {
		messages[i] = Message{
			Token: d.Token,
			Title: title,
			Body:  post.Title,
			Data:  data,
			Link:  link,
		}
	}
	return messages
}
