package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/hitoshi/boardcast/internal/model"
)

// maxMessagesPerCall はFCMのSendEachが1回で受け付ける最大メッセージ数。
const maxMessagesPerCall = 500

// Gateway はプッシュ配信ゲートウェイのインターフェース。
// 結果は入力と同じ順序で1件ずつ返す。呼び出し自体の失敗はerrorで返す。
type Gateway interface {
	SendBatch(ctx context.Context, messages []Message) ([]SendResult, error)
}

// fcmSender はmessaging.Clientのうち送信に使う部分。テストで差し替える。
type fcmSender interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

// FCMGateway はFirebase Cloud Messagingを使用したGateway実装。
type FCMGateway struct {
	client   fcmSender
	classify func(error) model.FailureClass
}

// NewFCMGateway はサービスアカウントの認証情報ファイルからFCMGatewayを生成する。
func NewFCMGateway(ctx context.Context, projectID, credentialsFile string) (*FCMGateway, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("Firebaseアプリの初期化に失敗しました: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("FCMクライアントの初期化に失敗しました: %w", err)
	}

	return newFCMGateway(client), nil
}

func newFCMGateway(client fcmSender) *FCMGateway {
	return &FCMGateway{client: client, classify: ClassifyFCMError}
}

// SendBatch はメッセージをSendEachでまとめて送信する。
// 上限を超える場合は分割して送信し、結果を入力順に連結する。
func (g *FCMGateway) SendBatch(ctx context.Context, messages []Message) ([]SendResult, error) {
	results := make([]SendResult, 0, len(messages))

	for start := 0; start < len(messages); start += maxMessagesPerCall {
		end := min(start+maxMessagesPerCall, len(messages))
		chunk := messages[start:end]

		fcmMessages := make([]*messaging.Message, len(chunk))
		for i, m := range chunk {
			fcmMessages[i] = toFCMMessage(m)
		}

		resp, err := g.client.SendEach(ctx, fcmMessages)
		if err != nil {
			return nil, fmt.Errorf("FCMへの送信に失敗しました: %w", err)
		}
		if resp == nil || len(resp.Responses) != len(chunk) {
			return nil, fmt.Errorf("FCMの応答件数が一致しません: want %d", len(chunk))
		}

		for _, r := range resp.Responses {
			if r.Success {
				results = append(results, SendResult{Success: true, MessageID: r.MessageID})
				continue
			}
			results = append(results, SendResult{Failure: g.classify(r.Error), Err: r.Error})
		}
	}

	return results, nil
}

func toFCMMessage(m Message) *messaging.Message {
	msg := &messaging.Message{
		Token: m.Token,
		Notification: &messaging.Notification{
			Title: m.Title,
			Body:  m.Body,
		},
		Data: m.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	if m.Link != "" {
		msg.Webpush = &messaging.WebpushConfig{
			FCMOptions: &messaging.WebpushFCMOptions{Link: m.Link},
		}
	}
	return msg
}

// ClassifyFCMError はFCMのエラーを失敗分類に変換する。
// 未知のエラーはFailureTransientとし、端末削除の対象にしない。
func ClassifyFCMError(err error) model.FailureClass {
	switch {
	case err == nil:
		return model.FailureNone
	case messaging.IsUnregistered(err):
		return model.FailureInvalidToken
	case messaging.IsInvalidArgument(err):
		return model.FailureInvalidArgument
	case messaging.IsSenderIDMismatch(err):
		return model.FailureSenderMismatch
	case messaging.IsQuotaExceeded(err):
		return model.FailureQuota
	case messaging.IsUnavailable(err):
		return model.FailureUnavailable
	case messaging.IsInternal(err):
		return model.FailureInternal
	default:
		return model.FailureTransient
	}
}
