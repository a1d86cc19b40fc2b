package kdp

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestParseCookieHeader(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want []http.Cookie
	}{
		{
			name: "two cookies",
			raw:  "session-id=abc; session-token=xyz",
			want: []http.Cookie{
				{Name: "session-id", Value: "abc"},
				{Name: "session-token", Value: "xyz"},
			},
		},
		{
			name: "single cookie no space",
			raw:  "sid=1",
			want: []http.Cookie{{Name: "sid", Value: "1"}},
		},
		{
			name: "value containing equals",
			raw:  "token=a=b=c",
			want: []http.Cookie{{Name: "token", Value: "a=b=c"}},
		},
		{
			name: "skips malformed parts",
			raw:  "good=1; malformed; =novalue; ",
			want: []http.Cookie{{Name: "good", Value: "1"}},
		},
		{
			name: "empty",
			raw:  "",
			want: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseCookieHeader(tc.raw)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d cookies, want %d", len(got), len(tc.want))
			}
			for i := range tc.want {
				if got[i].Name != tc.want[i].Name || got[i].Value != tc.want[i].Value {
					t.Errorf("cookie %d = %s=%s, want %s=%s",
						i, got[i].Name, got[i].Value, tc.want[i].Name, tc.want[i].Value)
				}
			}
		})
	}
}

func TestOriginTransportOnlyRewritesPortalHost(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "" || r.Header.Get("Origin") != "" {
			t.Error("non-portal request must not be rewritten")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer other.Close()

	base, err := url.Parse("https://portal.example")
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: newOriginTransport(base, nil)}

	resp, err := client.Get(other.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp.Body.Close()
}
