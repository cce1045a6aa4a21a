package bitmart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"exchangehub/config"
	"exchangehub/connector"
	"exchangehub/internal/errs"
	"exchangehub/internal/retry"
	"exchangehub/internal/transport"
	"exchangehub/models"
)

func newTestConnector(t *testing.T, h http.HandlerFunc) *Connector {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(
		config.Credentials{APIKey: "key", APISecret: "secret", Memo: "memo"},
		connector.Deps{Retry: retry.New(1, 0, nil), HTTPClient: srv.Client()},
		config.ExchangeConfig{BaseURL: srv.URL},
	)
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	conn := c.(*Connector)
	conn.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return conn
}

func reply(w http.ResponseWriter, data string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"code":1000,"message":"OK","trace":"t","data":%s}`, data)
}

func TestQuoteAndBook(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "BTC_USDT" {
			t.Errorf("symbol %q", r.URL.Query().Get("symbol"))
		}
		switch r.URL.Path {
		case "/spot/quotation/v3/ticker":
			reply(w, `{"symbol":"BTC_USDT","bid_px":"99","ask_px":"100"}`)
		case "/spot/quotation/v3/books":
			if r.URL.Query().Get("limit") != "50" {
				t.Errorf("limit %q", r.URL.Query().Get("limit"))
			}
			reply(w, `{"ts":"1700000000005","symbol":"BTC_USDT","asks":[["100","1"]],"bids":[["99","1"]]}`)
		default:
			http.NotFound(w, r)
		}
	})
	q, err := c.GetBestBidAsk(context.Background(), "BTC/USDT")
	if err != nil || q.Bid != 99 || q.Ask != 100 {
		t.Fatalf("quote %+v %v", q, err)
	}
	book, err := c.GetL2OrderBook(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if len(book.Asks) != 1 || book.Timestamp.UnixMilli() != 1700000000005 {
		t.Fatalf("book %+v", book)
	}
}

func TestMarketBuyIsSizedInQuote(t *testing.T) {
	var body map[string]string
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/spot/quotation/v3/ticker":
			reply(w, `{"symbol":"BTC_USDT","bid_px":"99","ask_px":"100"}`)
		case "/spot/v2/submit_order":
			raw, _ := io.ReadAll(r.Body)
			ts := r.Header.Get("X-BM-TIMESTAMP")
			if got, want := r.Header.Get("X-BM-SIGN"), transport.SignHex("secret", ts+"#memo#"+string(raw)); got != want {
				t.Errorf("sign %q want %q", got, want)
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Errorf("body: %v", err)
			}
			reply(w, `{"order_id":"1223181"}`)
		default:
			http.NotFound(w, r)
		}
	})
	h, err := c.PlaceOrder(context.Background(), "BTC/USDT", models.Buy, 0.5, models.Market, nil)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if h.OrderID != "1223181" {
		t.Fatalf("handle %+v", h)
	}
	if body["notional"] != "50" || body["type"] != "market" {
		t.Fatalf("body %v", body)
	}
	if _, ok := body["size"]; ok {
		t.Fatalf("market buy must not carry size")
	}
}

func TestOrderStatus(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/spot/v4/query/order" {
			http.NotFound(w, r)
			return
		}
		reply(w, `{"orderId":"1223181","state":"partially_filled","filledSize":"0.2","filledNotional":"20.2"}`)
	})
	st, err := c.GetOrderStatus(context.Background(), "1223181", "BTC/USDT")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != models.OrderPartiallyFilled || st.FilledQuantity != 0.2 {
		t.Fatalf("status %+v", st)
	}
	if diff := st.AvgFillPrice - 101; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("avg %v", st.AvgFillPrice)
	}
}

func TestCancelNotAccepted(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"result":false}`)
	})
	if _, err := c.CancelOrder(context.Background(), "1", "BTC/USDT"); !errors.Is(err, errs.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestMemoRequired(t *testing.T) {
	_, err := New(config.Credentials{APIKey: "k", APISecret: "s"}, connector.Deps{}, config.ExchangeConfig{})
	if !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestCodeError(t *testing.T) {
	if err := codeError(30013, "too many"); !errors.Is(err, errs.ErrRateLimited) {
		t.Errorf("30013: %v", err)
	}
	if err := codeError(30005, "bad sign"); !errors.Is(err, errs.ErrAuthFailed) {
		t.Errorf("30005: %v", err)
	}
	if err := codeError(50000, "other"); !errors.Is(err, errs.ErrUpstream) {
		t.Errorf("50000: %v", err)
	}
}
