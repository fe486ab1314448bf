package repair

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/boardcast/internal/model"
)

// mockDeviceRepo はDeviceRepositoryのテスト用モック。
type mockDeviceRepo struct {
	deleteErrs map[string]error
	deleted    []string
}

func (m *mockDeviceRepo) ListByUserID(context.Context, string) ([]model.Device, error) {
	return nil, nil
}

func (m *mockDeviceRepo) Delete(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return m.deleteErrs[id]
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestRepair_InvalidToken_DeletesOnlyThatDevice(t *testing.T) {
	repo := &mockDeviceRepo{}
	var buf bytes.Buffer
	r := NewRepairer(repo, newTestLogger(&buf), time.Second)

	res := r.Repair(context.Background(), "u1", []model.DeliveryOutcome{
		{DeviceID: "d1", Success: true},
		{DeviceID: "d2", Failure: model.FailureInvalidToken, Err: errors.New("registration-token-not-registered")},
	})

	if len(repo.deleted) != 1 || repo.deleted[0] != "d2" {
		t.Errorf("deleted = %v, want [d2]", repo.deleted)
	}
	if res.Pruned != 1 {
		t.Errorf("Pruned = %d, want 1", res.Pruned)
	}
}

func TestRepair_NonPermanentFailures_LeaveDeviceIntact(t *testing.T) {
	repo := &mockDeviceRepo{}
	var buf bytes.Buffer
	r := NewRepairer(repo, newTestLogger(&buf), time.Second)

	classes := []model.FailureClass{
		model.FailureTransient,
		model.FailureInvalidArgument,
		model.FailureSenderMismatch,
		model.FailureQuota,
		model.FailureUnavailable,
		model.FailureInternal,
	}
	var outcomes []model.DeliveryOutcome
	for i, c := range classes {
		outcomes = append(outcomes, model.DeliveryOutcome{DeviceID: string(rune('a' + i)), Failure: c})
	}

	res := r.Repair(context.Background(), "u1", outcomes)

	if len(repo.deleted) != 0 {
		t.Errorf("deleted = %v, want none", repo.deleted)
	}
	if res.Kept != len(classes) {
		t.Errorf("Kept = %d, want %d", res.Kept, len(classes))
	}
	if !strings.Contains(buf.String(), `"failure":"quota_exceeded"`) {
		t.Errorf("失敗分類がログに記録されるべき: %s", buf.String())
	}
}

func TestRepair_SameDeviceTwice_DeletesOnce(t *testing.T) {
	repo := &mockDeviceRepo{}
	var buf bytes.Buffer
	r := NewRepairer(repo, newTestLogger(&buf), time.Second)

	r.Repair(context.Background(), "u1", []model.DeliveryOutcome{
		{DeviceID: "d1", Failure: model.FailureInvalidToken},
		{DeviceID: "d1", Failure: model.FailureInvalidToken},
	})

	if len(repo.deleted) != 1 {
		t.Errorf("Delete called %d times, want 1", len(repo.deleted))
	}
}

func TestRepair_DeleteFailure_ContinuesWithRemaining(t *testing.T) {
	repo := &mockDeviceRepo{deleteErrs: map[string]error{"d1": errors.New("connection reset")}}
	var buf bytes.Buffer
	r := NewRepairer(repo, newTestLogger(&buf), time.Second)

	res := r.Repair(context.Background(), "u1", []model.DeliveryOutcome{
		{DeviceID: "d1", Failure: model.FailureInvalidToken},
		{DeviceID: "d2", Failure: model.FailureInvalidToken},
	})

	if len(repo.deleted) != 2 {
		t.Fatalf("Delete called %d times, want 2", len(repo.deleted))
	}
	if res.Pruned != 1 || res.DeleteFailed != 1 {
		t.Errorf("result = %+v, want Pruned=1 DeleteFailed=1", res)
	}
	if !strings.Contains(buf.String(), "無効な端末の削除に失敗しました") {
		t.Errorf("削除失敗がログに記録されるべき: %s", buf.String())
	}
}

func TestRepair_AllSuccess_NoCalls(t *testing.T) {
	repo := &mockDeviceRepo{}
	var buf bytes.Buffer
	res := NewRepairer(repo, newTestLogger(&buf), time.Second).Repair(context.Background(), "u1", []model.DeliveryOutcome{
		{DeviceID: "d1", Success: true},
		{DeviceID: "d2", Success: true},
	})

	if len(repo.deleted) != 0 {
		t.Errorf("deleted = %v, want none", repo.deleted)
	}
	if res != (Result{}) {
		t.Errorf("result = %+v, want zero", res)
	}
}
