package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{SecretKey: "sk_test_123", APIBaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient(Config{}); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("empty config: %v", err)
	}
	if _, err := NewClient(Config{SecretKey: "sk", APIBaseURL: "not a url"}); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("bad base url: %v", err)
	}
	client, err := NewClient(Config{SecretKey: "sk"})
	if err != nil {
		t.Fatalf("default base url: %v", err)
	}
	if client.cfg.APIBaseURL != defaultAPIBaseURL {
		t.Fatalf("base url = %s", client.cfg.APIBaseURL)
	}
}

func TestCreateRefund(t *testing.T) {
	var gotKey, gotAuth, gotCharge, gotAmount string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/refunds" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		_ = r.ParseForm()
		gotCharge = r.PostForm.Get("charge")
		gotAmount = r.PostForm.Get("amount")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"re_1","status":"succeeded","amount":9000,"charge":"ch_1"}`))
	})

	result, err := client.CreateRefund(context.Background(), RefundInput{
		ChargeRef:      "ch_1",
		AmountCents:    9000,
		IdempotencyKey: "refund-key-1",
	})
	if err != nil {
		t.Fatalf("CreateRefund: %v", err)
	}
	if result.RefundID != "re_1" || result.AmountCents != 9000 || result.ChargeRef != "ch_1" {
		t.Fatalf("result = %+v", result)
	}
	if gotKey != "refund-key-1" {
		t.Fatalf("idempotency key = %q", gotKey)
	}
	if gotAuth != "Bearer sk_test_123" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotCharge != "ch_1" || gotAmount != "9000" {
		t.Fatalf("form charge=%q amount=%q", gotCharge, gotAmount)
	}
}

func TestCreateRefundInputChecks(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	cases := []RefundInput{
		{AmountCents: 100, IdempotencyKey: "k"},
		{ChargeRef: "ch_1", AmountCents: 0, IdempotencyKey: "k"},
		{ChargeRef: "ch_1", AmountCents: 100},
	}
	for i, input := range cases {
		if _, err := client.CreateRefund(context.Background(), input); !errors.Is(err, ErrConfigInvalid) {
			t.Errorf("case %d: %v", i, err)
		}
	}
}

func TestCreateRefundRejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"Charge ch_1 has already been refunded.","code":"charge_already_refunded"}}`))
	})
	_, err := client.CreateRefund(context.Background(), RefundInput{
		ChargeRef: "ch_1", AmountCents: 100, IdempotencyKey: "k",
	})
	if !errors.Is(err, ErrRefundRejected) {
		t.Fatalf("want ErrRefundRejected, got %v", err)
	}
}

func TestCreateRefundServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	})
	_, err := client.CreateRefund(context.Background(), RefundInput{
		ChargeRef: "ch_1", AmountCents: 100, IdempotencyKey: "k",
	})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("want ErrRequestFailed, got %v", err)
	}
}

func TestGetCharge(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/charges/ch_9" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("expand[]") != "balance_transaction" {
			t.Errorf("expand = %q", r.URL.Query().Get("expand[]"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"ch_9","amount":12000,"paid":true,
			"receipt_url":"https://pay.example/receipt/ch_9",
			"balance_transaction":{"id":"txn_9","fee":373}
		}`))
	})

	result, err := client.GetCharge(context.Background(), "ch_9")
	if err != nil {
		t.Fatalf("GetCharge: %v", err)
	}
	if result.FeeCents != 373 || result.BalanceTxnRef != "txn_9" || !result.Paid {
		t.Fatalf("result = %+v", result)
	}
}

func TestGetChargeUnexpandedBalanceTxn(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ch_9","amount":12000,"paid":true,"balance_transaction":"txn_9"}`))
	})
	result, err := client.GetCharge(context.Background(), "ch_9")
	if err != nil {
		t.Fatalf("GetCharge: %v", err)
	}
	if result.BalanceTxnRef != "txn_9" || result.FeeCents != 0 {
		t.Fatalf("result = %+v", result)
	}
}

func TestGetChargeNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"No such charge"}}`))
	})
	if _, err := client.GetCharge(context.Background(), "ch_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestListLineItems(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions/cs_5/line_items" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[
			{"description":"Entry 10K","quantity":1,"amount_total":3500,"price":{"id":"price_entry"}},
			{"description":"Race T-shirt","quantity":2,"amount_total":4000,"price":{"id":"price_shirt"}}
		]}`))
	})

	items, err := client.ListLineItems(context.Background(), "cs_5")
	if err != nil {
		t.Fatalf("ListLineItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	if items[1].PriceRef != "price_shirt" || items[1].Quantity != 2 || items[1].AmountTotalCents != 4000 {
		t.Fatalf("item = %+v", items[1])
	}
}
