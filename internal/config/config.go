package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/boardcast/internal/model"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Firebase Cloud Messaging
	FirebaseProjectID       string
	FirebaseCredentialsFile string

	// Boards
	Boards       []model.FeedSource
	FeedRowLimit int

	// Fetch
	FetchTimeout    time.Duration
	FetchMaxSize    int64
	FetchRatePerSec float64
	FetchAllowLocal bool

	// Store / Gateway
	StoreTimeout        time.Duration
	GatewayTimeout      time.Duration
	DispatchConcurrency int

	// Crawl
	CrawlMaxConcurrent int
	CrawlSchedule      string

	// Server
	ServerPort string
}

// defaultBoards は既定でポーリングする掲示板の一覧。
var defaultBoards = []model.FeedSource{
	{ID: "bachelor", Name: "학사", URL: "https://www.gachon.ac.kr/bbs/kor/475/rssList.do"},
	{ID: "scholarship", Name: "장학", URL: "https://www.gachon.ac.kr/bbs/kor/478/rssList.do"},
	{ID: "student", Name: "학생", URL: "https://www.gachon.ac.kr/bbs/kor/479/rssList.do"},
	{ID: "job", Name: "취업", URL: "https://www.gachon.ac.kr/bbs/kor/480/rssList.do"},
	{ID: "extracurricular", Name: "교외활동", URL: "https://www.gachon.ac.kr/bbs/kor/743/rssList.do"},
	{ID: "other", Name: "기타", URL: "https://www.gachon.ac.kr/bbs/kor/740/rssList.do"},
	{ID: "dormGlobal", Name: "글로벌 기숙사", URL: "https://www.gachon.ac.kr/bbs/dormitory/330/rssList.do"},
	{ID: "dormMedical", Name: "메디컬 기숙사", URL: "https://www.gachon.ac.kr/bbs/dormitory/334/rssList.do"},
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は*model.ConfigurationErrorを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.FirebaseProjectID = os.Getenv("FIREBASE_PROJECT_ID")
	if cfg.FirebaseProjectID == "" {
		missing = append(missing, "FIREBASE_PROJECT_ID")
	}

	cfg.FirebaseCredentialsFile = getEnvString("FIREBASE_CREDENTIALS_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	if cfg.FirebaseCredentialsFile == "" {
		missing = append(missing, "FIREBASE_CREDENTIALS_FILE")
	}

	if len(missing) > 0 {
		return nil, &model.ConfigurationError{Missing: missing}
	}

	// Optional fields with defaults
	cfg.FeedRowLimit = getEnvInt("FEED_ROW_LIMIT", 50)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchRatePerSec = getEnvFloat("FETCH_RATE_PER_SEC", 2)
	cfg.FetchAllowLocal = getEnvBool("FETCH_ALLOW_LOCAL", false)
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.GatewayTimeout = getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second)
	cfg.DispatchConcurrency = getEnvInt("DISPATCH_CONCURRENCY", 8)
	cfg.CrawlMaxConcurrent = getEnvInt("CRAWL_MAX_CONCURRENT", 3)
	cfg.CrawlSchedule = getEnvString("CRAWL_SCHEDULE", "*/10 * * * *")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	boards, err := parseBoards(os.Getenv("BOARDS"), cfg.FeedRowLimit)
	if err != nil {
		return nil, &model.ConfigurationError{Reason: err.Error()}
	}
	cfg.Boards = boards

	return cfg, nil
}

// parseBoards は "id|name|url;id|name|url" 形式の掲示板定義を解析する。
// 空文字列の場合は既定の掲示板一覧を返す。
func parseBoards(raw string, rowLimit int) ([]model.FeedSource, error) {
	if strings.TrimSpace(raw) == "" {
		boards := make([]model.FeedSource, len(defaultBoards))
		copy(boards, defaultBoards)
		for i := range boards {
			boards[i].RowLimit = rowLimit
		}
		return boards, nil
	}

	seen := make(map[string]bool)
	var boards []model.FeedSource
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("BOARDS entry %q must be id|name|url", entry)
		}
		id, name, rawURL := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])
		if id == "" || rawURL == "" {
			return nil, fmt.Errorf("BOARDS entry %q has empty id or url", entry)
		}
		u, err := url.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("BOARDS entry %q has malformed url", entry)
		}
		if seen[id] {
			return nil, fmt.Errorf("BOARDS has duplicate id %q", id)
		}
		seen[id] = true
		if name == "" {
			name = id
		}
		boards = append(boards, model.FeedSource{ID: id, Name: name, URL: rawURL, RowLimit: rowLimit})
	}

	if len(boards) == 0 {
		return nil, fmt.Errorf("BOARDS does not define any board")
	}
	return boards, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
