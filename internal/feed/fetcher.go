// Package feed は掲示板フィードの取得と正規化を提供する。
package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/hitoshi/boardcast/internal/model"
)

// URLGuard はフィードURLの検証とHTTPクライアント生成のインターフェース。
// security.FetchGuardを抽象化してテストで差し替え可能にする。
type URLGuard interface {
	Check(rawURL string) error
	Client(timeout time.Duration) *http.Client
}

// Options はFetcherの設定。
type Options struct {
	Timeout     time.Duration
	MaxBodySize int64
	// RatePerSec は全ソース共通のリクエスト頻度上限。0以下の場合は無制限。
	RatePerSec float64
}

// Fetcher は1つの掲示板フィードを取得し、FeedItemの列に変換する。
// 結果はフィードの並び順（新しい順を想定）のまま返し、並べ替えない。
type Fetcher struct {
	guard       URLGuard
	client      *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(guard URLGuard, logger *slog.Logger, opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 5 * 1024 * 1024
	}

	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}

	return &Fetcher{
		guard:       guard,
		client:      guard.Client(opts.Timeout),
		limiter:     rate.NewLimiter(limit, 1),
		logger:      logger,
		timeout:     opts.Timeout,
		maxBodySize: opts.MaxBodySize,
	}
}

// Fetch はフィードを取得してパースする。
// itemが存在しないフィードは空スライスを返す（エラーではない）。
// 通信失敗は*model.FetchError、文書の解析失敗は*model.ParseErrorを返す。
func (f *Fetcher) Fetch(ctx context.Context, src model.FeedSource) ([]model.FeedItem, error) {
	start := time.Now()

	target, err := RequestURL(src)
	if err != nil {
		return nil, &model.FetchError{BoardID: src.ID, Err: err}
	}
	if err := f.guard.Check(target); err != nil {
		return nil, &model.FetchError{BoardID: src.ID, Err: fmt.Errorf("URL検証に失敗: %w", err)}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &model.FetchError{BoardID: src.ID, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &model.FetchError{BoardID: src.ID, Err: fmt.Errorf("リクエスト作成に失敗: %w", err)}
	}
	req.Header.Set("User-Agent", "Boardcast/1.0 Notice Crawler")
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &model.FetchError{BoardID: src.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.FetchError{BoardID: src.ID, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, &model.FetchError{BoardID: src.ID, Err: fmt.Errorf("レスポンス読み取りに失敗: %w", err)}
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &model.ParseError{BoardID: src.ID, Err: err}
	}

	items, dropped := convertItems(parsed.Items)
	if dropped > 0 {
		f.logger.Warn("linkのない記事を除外しました",
			slog.String("board_id", src.ID),
			slog.Int("dropped", dropped),
		)
	}

	f.logger.Debug("フィードを取得しました",
		slog.String("board_id", src.ID),
		slog.String("url", target),
		slog.Int("items", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return items, nil
}

// RequestURL はソースの取得URLを返す。
// RowLimitが設定されていてURLにrowパラメータがない場合は付与する。
func RequestURL(src model.FeedSource) (string, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return "", fmt.Errorf("invalid feed URL %q: %w", src.URL, err)
	}
	if src.RowLimit > 0 {
		q := u.Query()
		if q.Get("row") == "" {
			q.Set("row", strconv.Itoa(src.RowLimit))
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}

// convertItems はgofeedの記事をFeedItemに変換する。
// 同一性キーであるlinkを持たない記事は除外し、その件数を返す。
func convertItems(items []*gofeed.Item) ([]model.FeedItem, int) {
	converted := make([]model.FeedItem, 0, len(items))
	dropped := 0

	for _, item := range items {
		if item == nil {
			continue
		}

		link := StripCDATA(item.Link)
		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if link == "" {
			guid := StripCDATA(item.GUID)
			if strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://") {
				link = guid
			}
		}
		if link == "" {
			dropped++
			continue
		}

		converted = append(converted, model.FeedItem{
			Link:        link,
			Title:       NormalizeText(item.Title),
			Description: NormalizeText(item.Description),
			Author:      authorOf(item),
			PublishedAt: publishedAt(item),
		})
	}

	return converted, dropped
}

// authorOf は記事の作成者名を返す。空の場合はmodel.DefaultAuthor。
func authorOf(item *gofeed.Item) string {
	var name string
	if item.Author != nil {
		name = NormalizeText(item.Author.Name)
		if name == "" {
			name = NormalizeText(item.Author.Email)
		}
	}
	if name == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
		name = NormalizeText(item.Authors[0].Name)
	}
	if name == "" {
		return model.DefaultAuthor
	}
	return name
}

// publishedAt は公開日時を返す。解釈できない場合はnil。
func publishedAt(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		t := *item.PublishedParsed
		return &t
	}
	return ParseBoardDate(item.Published)
}
