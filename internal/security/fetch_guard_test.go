package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchGuard_Client_SetsTimeoutAndTransport(t *testing.T) {
	guard := NewFetchGuard(GuardOptions{})
	client := guard.Client(5 * time.Second)

	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want %v", client.Timeout, 5*time.Second)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("safeurl のカスタムTransportが設定されているべき")
	}
}

// httptestサーバーは127.0.0.1で起動されるため、safeurlがブロックする。
func TestFetchGuard_Client_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewFetchGuard(GuardOptions{}).Client(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("ループバックへのリクエストはエラーになるべき")
	}
}

func TestFetchGuard_Client_AllowLocal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewFetchGuard(GuardOptions{AllowLocal: true}).Client(5 * time.Second)
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("AllowLocal ではローカル接続が許可されるべき: %v", err)
	}
	resp.Body.Close()
}

func TestFetchGuard_Check(t *testing.T) {
	guard := NewFetchGuard(GuardOptions{})

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://www.gachon.ac.kr/bbs/kor/480/rssList.do?row=50", false},
		{"http://blog.example.org/feed", false},
		{"", true},
		{"not-a-url", true},
		{"ftp://example.com/feed", true},
		{"file:///etc/passwd", true},
		{"http://10.0.0.1/feed", true},
		{"http://172.16.0.1/feed", true},
		{"http://192.168.1.100/feed", true},
		{"http://127.0.0.1/feed", true},
		{"http://localhost/feed", true},
		{"http://169.254.169.254/latest/meta-data/", true},
		{"http://[::1]/feed", true},
		{"http://0.0.0.0/feed", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := guard.Check(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("Check(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestFetchGuard_Check_AllowLocal(t *testing.T) {
	guard := NewFetchGuard(GuardOptions{AllowLocal: true})

	if err := guard.Check("http://127.0.0.1:8080/feed"); err != nil {
		t.Errorf("AllowLocal ではループバックを許可すべき: %v", err)
	}
	if err := guard.Check("ftp://127.0.0.1/feed"); err == nil {
		t.Error("AllowLocal でもスキームは検証すべき")
	}
}
