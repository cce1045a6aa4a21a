package kucoin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
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
		config.Credentials{APIKey: "key", APISecret: "secret", Passphrase: "phrase"},
		connector.Deps{Retry: retry.New(1, 0, nil)},
		config.ExchangeConfig{BaseURL: srv.URL, FuturesBaseURL: srv.URL},
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
	fmt.Fprintf(w, `{"code":"200000","data":%s}`, data)
}

func TestQuoteAndBook(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "BTC-USDT" {
			t.Errorf("symbol %q", r.URL.Query().Get("symbol"))
		}
		switch r.URL.Path {
		case "/api/v1/market/orderbook/level1":
			reply(w, `{"sequence":"1","price":"99.5","size":"1","bestBid":"99","bestBidSize":"1","bestAsk":"100","bestAskSize":"1","time":1}`)
		case "/api/v1/market/orderbook/level2_100":
			reply(w, `{"sequence":"1","time":1700000000001,"bids":[["99","1"],["98","2"]],"asks":[["100","1"],["101","2"]]}`)
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
	if len(book.Bids) != 2 || book.Timestamp.UnixMilli() != 1700000000001 {
		t.Fatalf("book %+v", book)
	}
}

func TestFundingFromPerpetual(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/funding-rate/XBTUSDTM/current":
			reply(w, `{"symbol":"XBTUSDTM","granularity":28800000,"timePoint":1700000000000,"value":0.0001,"predictedValue":0.0002}`)
		case r.URL.Path == "/api/v1/contract/funding-rates":
			q := r.URL.Query()
			if q.Get("symbol") != "XBTUSDTM" || q.Get("to") != "1700000000000" || q.Get("from") == "" {
				t.Errorf("history query %s", r.URL.RawQuery)
			}
			reply(w, `[{"symbol":"XBTUSDTM","fundingRate":0.0003,"timepoint":1699999200000},{"symbol":"XBTUSDTM","fundingRate":0.0001,"timepoint":1699970400000}]`)
		default:
			http.NotFound(w, r)
		}
	})
	f, err := c.GetFundingRates(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("funding: %v", err)
	}
	if f.Current != 0.0001 || f.Predicted != 0.0002 || f.IntervalHours != 8 {
		t.Fatalf("funding %+v", f)
	}
	if len(f.Historical) != 2 || f.Historical[0] != 0.0001 || f.Historical[1] != 0.0003 {
		t.Fatalf("history not oldest first: %v", f.Historical)
	}
}

func TestFuturesSymbol(t *testing.T) {
	cases := map[string]string{
		"BTC-USDT": "XBTUSDTM",
		"ETH-USDT": "ETHUSDTM",
		"SOL-USDC": "SOLUSDCM",
	}
	for spot, want := range cases {
		if got := futuresSymbol(spot); got != want {
			t.Errorf("%s: got %s want %s", spot, got, want)
		}
	}
}

func TestPlaceOrderSignsRequest(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/orders") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		ts := r.Header.Get("KC-API-TIMESTAMP")
		if got, want := r.Header.Get("KC-API-SIGN"), transport.SignBase64("secret", ts+r.Method+r.URL.RequestURI()+string(raw)); got != want {
			t.Errorf("sign %q want %q", got, want)
		}
		if got, want := r.Header.Get("KC-API-PASSPHRASE"), transport.SignBase64("secret", "phrase"); got != want {
			t.Errorf("passphrase %q want %q", got, want)
		}
		if r.Header.Get("KC-API-KEY") != "key" || r.Header.Get("KC-API-KEY-VERSION") != "2" {
			t.Errorf("key headers %q %q", r.Header.Get("KC-API-KEY"), r.Header.Get("KC-API-KEY-VERSION"))
		}
		body := string(raw)
		for _, want := range []string{`"type":"limit"`, `"price":"100"`, `"symbol":"BTC-USDT"`, `"clientOid":"xh`} {
			if !strings.Contains(body, want) {
				t.Errorf("body %s missing %s", body, want)
			}
		}
		reply(w, `{"orderId":"5bd6e9286d99522a52e458de","clientOid":"x"}`)
	})
	price := 100.0
	h, err := c.PlaceOrder(context.Background(), "BTC/USDT", models.Buy, 0.1, models.Limit, &price)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if h.OrderID != "5bd6e9286d99522a52e458de" || !strings.HasPrefix(h.ClientOrderID, "xh") {
		t.Fatalf("handle %+v", h)
	}
}

func TestOrderStatusAndCancel(t *testing.T) {
	c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/orders/abc") || r.URL.Query().Get("symbol") != "BTC-USDT" {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			reply(w, `{"id":"abc","symbol":"BTC-USDT","active":false,"cancelExist":false,"dealSize":"2","dealFunds":"199"}`)
		case http.MethodDelete:
			reply(w, `{"orderId":"abc"}`)
		}
	})
	st, err := c.GetOrderStatus(context.Background(), "abc", "BTC/USDT")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != models.OrderFilled || st.AvgFillPrice != 99.5 {
		t.Fatalf("status %+v", st)
	}
	res, err := c.CancelOrder(context.Background(), "abc", "BTC/USDT")
	if err != nil || res.Status != string(models.OrderCanceled) {
		t.Fatalf("cancel %+v %v", res, err)
	}
}

func TestErrorCodes(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"400005", errs.ErrAuthFailed},
		{"429000", errs.ErrRateLimited},
		{"400007", errs.ErrForbidden},
		{"900001", errs.ErrUpstream},
	}
	for _, tc := range cases {
		var hits int32
		c := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"code":"%s","msg":"nope"}`, tc.code)
		})
		_, err := c.GetBestBidAsk(context.Background(), "BTC/USDT")
		if !errors.Is(err, tc.want) {
			t.Errorf("code %s: got %v", tc.code, err)
		}
		var ue *errs.UpstreamError
		if errors.As(err, &ue) && ue.Code != tc.code {
			t.Errorf("code %s: carried %q", tc.code, ue.Code)
		}
		if n := atomic.LoadInt32(&hits); n != 2 {
			t.Errorf("code %s: %d attempts, want 2", tc.code, n)
		}
	}
}

func TestClassifyKeepsContextErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := classify(ctx, context.Canceled); err != context.Canceled {
		t.Fatalf("got %v", err)
	}
	err := classify(context.Background(), errors.New("dial tcp: connection refused"))
	if !errors.Is(err, errs.ErrUpstream) {
		t.Fatalf("network failure not classified: %v", err)
	}
}

func TestOrderState(t *testing.T) {
	cases := []struct {
		active, cancelled bool
		filled            float64
		want              models.OrderState
	}{
		{true, false, 0, models.OrderNew},
		{true, false, 1, models.OrderPartiallyFilled},
		{false, true, 1, models.OrderCanceled},
		{false, false, 1, models.OrderFilled},
	}
	for i, tc := range cases {
		if got := orderState(tc.active, tc.cancelled, tc.filled); got != tc.want {
			t.Errorf("case %d: %s want %s", i, got, tc.want)
		}
	}
}
