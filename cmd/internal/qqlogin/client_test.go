package qqlogin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHash33(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"abc", "108966"},
	}
	for _, tc := range cases {
		if got := hash33(tc.in); got != tc.want {
			t.Fatalf("hash33(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeUIN(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"o0012345678", "12345678"},
		{"12345", "12345"},
		{"o987654321", "987654321"},
		{"oabc", ""},
		{"  o12345 ", "12345"},
	}
	for _, tc := range cases {
		if got := normalizeUIN(tc.in); got != tc.want {
			t.Fatalf("normalizeUIN(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParsePollReply(t *testing.T) {
	cases := []struct {
		body string
		want State
	}{
		{`ptuiCB('66','0','','0','二维码未失效。','')`, StatePending},
		{`ptuiCB('67','0','','0','二维码认证中。','')`, StatePending},
		{`ptuiCB('65','0','','0','二维码已扫描。','')`, StateScanned},
		{`ptuiCB('10009','0','','0','二维码已失效。','')`, StateExpired},
		{`ptuiCB('10006','0','','0','二维码已失效。','')`, StateExpired},
		{`ptuiCB('0','0','https://ssl.ptlogin2.qq.com/check_sig?x=1','0','登录成功！','nick')`, StateSucceeded},
		{`garbage without callback`, StatePending},
		{`ptuiCB('31337','0','','0','???','')`, StatePending},
	}
	for _, tc := range cases {
		got := parsePollReply(tc.body)
		if got.state != tc.want {
			t.Fatalf("parsePollReply(%q).state = %v, want %v", tc.body, got.state, tc.want)
		}
	}
}

func TestParsePollReplyRedirect(t *testing.T) {
	body := `ptuiCB('0','0','https://ssl.ptlogin2.qq.com/check_sig?pttype=1','0','登录成功！','nick')`
	r := parsePollReply(body)
	if r.redirect != "https://ssl.ptlogin2.qq.com/check_sig?pttype=1" {
		t.Fatalf("redirect = %q", r.redirect)
	}
}

// TestClientFlow drives StartChallenge and Poll against a stub ptlogin2.
func TestClientFlow(t *testing.T) {
	var polls atomic.Int64

	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/xlogin", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "pt_login_sig", Value: "sig-value", Path: "/"})
	})
	mux.HandleFunc("/show", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "qrsig", Value: "test-qrsig", Path: "/"})
		_, _ = w.Write([]byte("png-bytes"))
	})
	mux.HandleFunc("/poll", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ptqrtoken") != hash33("test-qrsig") {
			t.Errorf("unexpected ptqrtoken %q", r.URL.Query().Get("ptqrtoken"))
		}
		switch polls.Add(1) {
		case 1:
			fmt.Fprint(w, `ptuiCB('66','0','','0','waiting','')`)
		case 2:
			fmt.Fprint(w, `ptuiCB('65','0','','0','scanned','')`)
		default:
			fmt.Fprintf(w, `ptuiCB('0','0','%s/check_sig?ok=1','0','success','nick')`, base)
		}
	})
	mux.HandleFunc("/check_sig", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "uin", Value: "o0012345678", Path: "/"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	base = srv.URL

	c := NewClient(nil, WithEndpoints(srv.URL+"/xlogin", srv.URL+"/show", srv.URL+"/poll"))

	ctx := context.Background()
	ch, err := c.StartChallenge(ctx)
	if err != nil {
		t.Fatalf("StartChallenge: %v", err)
	}
	if string(ch.QRPNG) != "png-bytes" {
		t.Fatalf("unexpected QR payload %q", ch.QRPNG)
	}

	if out := c.Poll(ctx, ch); out.State != StatePending {
		t.Fatalf("poll 1 state = %v", out.State)
	}
	if out := c.Poll(ctx, ch); out.State != StateScanned {
		t.Fatalf("poll 2 state = %v", out.State)
	}
	out := c.Poll(ctx, ch)
	if out.State != StateSucceeded {
		t.Fatalf("poll 3 state = %v (reason %q)", out.State, out.Reason)
	}
	if out.UIN != "12345678" {
		t.Fatalf("uin = %q, want 12345678", out.UIN)
	}
}

func TestStartChallengeMissingQRSig(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("no cookies here"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(nil, WithEndpoints(srv.URL+"/xlogin", srv.URL+"/show", srv.URL+"/poll"))
	if _, err := c.StartChallenge(context.Background()); err == nil {
		t.Fatal("expected error when qrsig cookie is absent")
	}
}
