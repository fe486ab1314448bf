package post

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/boardcast/internal/model"
)

// mockPostRepo はテスト用のPostRepositoryモック。
type mockPostRepo struct {
	existsFunc func(ctx context.Context, boardID, link string) (bool, error)
	insertFunc func(ctx context.Context, p *model.Post) error
	inserted   []*model.Post
}

func (m *mockPostRepo) ExistsByLink(ctx context.Context, boardID, link string) (bool, error) {
	if m.existsFunc != nil {
		return m.existsFunc(ctx, boardID, link)
	}
	return false, nil
}

func (m *mockPostRepo) Insert(ctx context.Context, p *model.Post) error {
	if m.insertFunc != nil {
		if err := m.insertFunc(ctx, p); err != nil {
			return err
		}
	}
	m.inserted = append(m.inserted, p)
	return nil
}

func TestGate_IsNew(t *testing.T) {
	repo := &mockPostRepo{
		existsFunc: func(_ context.Context, boardID, link string) (bool, error) {
			return boardID == "job" && link == "https://x/seen", nil
		},
	}
	g := NewGate(repo, time.Second)

	tests := []struct {
		name    string
		boardID string
		link    string
		want    bool
	}{
		{"unseen link", "job", "https://x/new", true},
		{"seen link", "job", "https://x/seen", false},
		{"same link on other board", "bachelor", "https://x/seen", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.IsNew(context.Background(), tt.boardID, tt.link)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsNew = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGate_IsNew_QueryError_ReturnsStoreError(t *testing.T) {
	repo := &mockPostRepo{
		existsFunc: func(context.Context, string, string) (bool, error) {
			return false, fmt.Errorf("connection refused")
		},
	}
	g := NewGate(repo, time.Second)

	_, err := g.IsNew(context.Background(), "job", "https://x/1")
	var storeErr *model.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected *model.StoreError, got %v", err)
	}
	if storeErr.Op != model.StoreOpQuery {
		t.Errorf("Op = %q, want %q", storeErr.Op, model.StoreOpQuery)
	}
}

func TestGate_IsNew_AppliesTimeout(t *testing.T) {
	var hasDeadline bool
	repo := &mockPostRepo{
		existsFunc: func(ctx context.Context, _, _ string) (bool, error) {
			_, hasDeadline = ctx.Deadline()
			return false, nil
		},
	}

	if _, err := NewGate(repo, 50*time.Millisecond).IsNew(context.Background(), "job", "https://x/1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasDeadline {
		t.Error("問い合わせにはタイムアウトが設定されるべき")
	}
}

func TestWriter_Create_Success(t *testing.T) {
	repo := &mockPostRepo{}
	w := NewWriter(repo, time.Second)
	fixed := time.Date(2025, 3, 12, 7, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	item := model.FeedItem{Link: "https://x/1", Title: "Intern Hiring"}
	p, err := w.Create(context.Background(), "job", item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := uuid.Parse(p.ID); err != nil {
		t.Errorf("ID %q should be a UUID: %v", p.ID, err)
	}
	if p.BoardID != "job" || p.Link != "https://x/1" || p.Title != "Intern Hiring" {
		t.Errorf("unexpected post: %+v", p)
	}
	if p.Author != model.DefaultAuthor {
		t.Errorf("Author = %q, want %q", p.Author, model.DefaultAuthor)
	}
	if p.PublishedAt != nil {
		t.Errorf("PublishedAt = %v, want nil", p.PublishedAt)
	}
	if !p.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", p.CreatedAt, fixed)
	}
	if len(repo.inserted) != 1 {
		t.Errorf("Insert called %d times, want 1", len(repo.inserted))
	}
}

func TestWriter_Create_Duplicate_ReturnsErrDuplicatePost(t *testing.T) {
	repo := &mockPostRepo{
		insertFunc: func(context.Context, *model.Post) error {
			return fmt.Errorf("insert: %w", model.ErrDuplicatePost)
		},
	}

	_, err := NewWriter(repo, time.Second).Create(context.Background(), "job", model.FeedItem{Link: "https://x/1"})
	if !errors.Is(err, model.ErrDuplicatePost) {
		t.Fatalf("expected ErrDuplicatePost, got %v", err)
	}
	var storeErr *model.StoreError
	if errors.As(err, &storeErr) {
		t.Error("重複はStoreErrorとして扱わないこと")
	}
}

func TestWriter_Create_Failure_ReturnsStoreError(t *testing.T) {
	repo := &mockPostRepo{
		insertFunc: func(context.Context, *model.Post) error {
			return fmt.Errorf("connection reset")
		},
	}

	p, err := NewWriter(repo, time.Second).Create(context.Background(), "job", model.FeedItem{Link: "https://x/1"})
	if p != nil {
		t.Errorf("失敗時はnilを返すべき: %+v", p)
	}
	var storeErr *model.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected *model.StoreError, got %v", err)
	}
	if storeErr.Op != model.StoreOpWrite {
		t.Errorf("Op = %q, want %q", storeErr.Op, model.StoreOpWrite)
	}
}
