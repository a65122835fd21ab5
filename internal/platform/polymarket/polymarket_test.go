package polymarket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

const gammaPage = `[
  {
    "id": "501",
    "conditionId": "0xabc",
    "question": "Will it rain tomorrow?",
    "slug": "rain-tomorrow",
    "active": true,
    "closed": false,
    "outcomePrices": "[\"0.62\", \"0.38\"]",
    "clobTokenIds": "[\"111\", \"222\"]",
    "volume": "125000.5",
    "liquidity": 4200
  },
  {
    "id": "502",
    "question": "Broken prices",
    "active": "true",
    "outcomePrices": "not json",
    "volume": 10
  }
]`

func TestGammaFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			t.Errorf("path = %q, want /markets", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("order") != "volume" || q.Get("limit") != "2" || q.Get("ascending") != "false" {
			t.Errorf("query = %v", q)
		}
		_, _ = w.Write([]byte(gammaPage))
	}))
	defer srv.Close()

	got, err := NewGammaClient(srv.URL, time.Second).Fetch(context.Background(), 2, "volume")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Fetch() returned %d markets, want 2", len(got))
	}

	m := got[0]
	if m.ID != "501" || m.ConditionID != "0xabc" || m.Slug != "rain-tomorrow" {
		t.Errorf("identity = %+v", m)
	}
	if len(m.Prices) != 2 || m.Prices[0] != "0.62" || m.Prices[1] != "0.38" {
		t.Errorf("Prices = %v, want [0.62 0.38]", m.Prices)
	}
	if m.TokenIDs != [2]string{"111", "222"} {
		t.Errorf("TokenIDs = %v", m.TokenIDs)
	}
	if m.Volume != "125000.5" || m.Liquidity != "4200" {
		t.Errorf("Volume/Liquidity = %q/%q", m.Volume, m.Liquidity)
	}
	if !m.Active {
		t.Error("Active = false, want true")
	}

	// A malformed field fails only that field.
	if got[1].Prices != nil {
		t.Errorf("broken Prices = %v, want nil", got[1].Prices)
	}
	if !got[1].Active || got[1].Volume != "10" {
		t.Errorf("second market = %+v", got[1])
	}
}

func TestGammaFetchPaginates(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		offsets = append(offsets, q.Get("offset"))
		n, _ := strconv.Atoi(q.Get("limit"))
		if q.Get("offset") == "100" {
			n = 3 // short final page
		}
		w.Write([]byte("["))
		for i := 0; i < n; i++ {
			if i > 0 {
				w.Write([]byte(","))
			}
			w.Write([]byte(`{"id":"` + strconv.Itoa(i) + `"}`))
		}
		w.Write([]byte("]"))
	}))
	defer srv.Close()

	got, err := NewGammaClient(srv.URL, time.Second).Fetch(context.Background(), 150, "volume")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got) != 103 {
		t.Errorf("Fetch() = %d markets, want 103", len(got))
	}
	if len(offsets) != 2 || offsets[0] != "0" || offsets[1] != "100" {
		t.Errorf("offsets = %v, want [0 100]", offsets)
	}
}

func TestGammaFetchEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"9","active":false}]}`))
	}))
	defer srv.Close()

	got, err := NewGammaClient(srv.URL, time.Second).Fetch(context.Background(), 5, "volume")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "9" || got[0].Active {
		t.Errorf("Fetch() = %+v", got)
	}
}

func TestGammaFetchMapsStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusForbidden, domain.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewGammaClient(srv.URL, time.Second).Fetch(context.Background(), 5, "volume")
			if !errors.Is(err, tt.want) {
				t.Errorf("Fetch() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClobDepth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" || r.URL.Query().Get("token_id") != "111" {
			t.Errorf("request = %s", r.URL)
		}
		// Bids arrive worst first; only the best two levels should count.
		_, _ = w.Write([]byte(`{
			"asset_id": "111",
			"bids": [{"price":"0.25","size":"400"},{"price":"0.5","size":"100"},{"price":"0.75","size":"100"}],
			"asks": [{"price":"1","size":"10"},{"price":"0.875","size":"8"},{"price":"bad","size":"1"},
				         {"price":"NaN","size":"5"},{"price":"0.5","size":"+Inf"}]
		}`))
	}))
	defer srv.Close()

	bid, ask, err := NewClobClient(srv.URL, time.Second).Depth(context.Background(), "111", 2)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if bid != 125 {
		t.Errorf("bid depth = %v, want 125", bid)
	}
	if ask != 17 {
		t.Errorf("ask depth = %v, want 17", ask)
	}
}

func TestClobDepthRequiresToken(t *testing.T) {
	_, _, err := NewClobClient("http://unused", time.Second).Depth(context.Background(), "", 10)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Depth(\"\") error = %v, want ErrInvalidInput", err)
	}
}
