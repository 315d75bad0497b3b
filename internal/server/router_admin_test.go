package server

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/textswithmyex/backend/internal/activity"
	"github.com/textswithmyex/backend/internal/admin"
	"github.com/textswithmyex/backend/internal/ledger"
	"github.com/textswithmyex/backend/internal/payments"
)

func TestAdminEndpointsRejectMissingCredentials(t *testing.T) {
	fixture := newRouterFixture(t, routerOptions{adminSecret: testAdminSecret})

	recorder := performJSON(t, fixture.handler, http.MethodGet, "/api/admin/purchases", nil, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestAdminEndpointsFailClosedWhenDisabled(t *testing.T) {
	fixture := newRouterFixture(t, routerOptions{adminSecret: ""})

	recorder := performJSON(t, fixture.handler, http.MethodGet, "/api/admin/purchases", nil, func(r *http.Request) {
		r.Header.Set(admin.SecretHeader, "anything")
	})
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for disabled guard, got %d", recorder.Code)
	}

	recorder = performJSON(t, fixture.handler, http.MethodPost, "/api/admin/login",
		map[string]string{"secret": "anything"}, nil)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 login for disabled guard, got %d", recorder.Code)
	}
}

func TestAdminPurchasesListsLedgerWithDeliveryStats(t *testing.T) {
	fixture := newRouterFixture(t, routerOptions{adminSecret: testAdminSecret})
	ctx := context.Background()

	fixture.ledger.RecordPurchase(ctx, ledger.PurchaseRecord{TransactionID: "txn_a", TokenIssuedAt: 100})
	fixture.ledger.RecordPurchase(ctx, ledger.PurchaseRecord{TransactionID: "txn_b", TokenIssuedAt: 300})
	fixture.ledger.RecordReportDelivery(ctx, ledger.ReportDeliveryRecord{TransactionID: "txn_b", ReportID: "r1", DeliveredAt: 400})

	recorder := performJSON(t, fixture.handler, http.MethodGet, "/api/admin/purchases?limit=10", nil, func(r *http.Request) {
		r.Header.Set(admin.SecretHeader, testAdminSecret)
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	body := decodeBody(t, recorder)
	purchases, ok := body["purchases"].([]any)
	if !ok || len(purchases) != 2 {
		t.Fatalf("expected two purchases, got %v", body)
	}
	first, ok := purchases[0].(map[string]any)
	if !ok || first["transactionId"] != "txn_b" {
		t.Fatalf("expected most recent purchase first, got %v", purchases[0])
	}
	if first["deliveredCount"] != float64(1) || first["lastDeliveredAt"] != float64(400) {
		t.Fatalf("expected delivery stats on purchase, got %v", first)
	}
}

func TestAdminDeliveriesListsPerTransaction(t *testing.T) {
	fixture := newRouterFixture(t, routerOptions{adminSecret: testAdminSecret})
	ctx := context.Background()

	fixture.ledger.RecordReportDelivery(ctx, ledger.ReportDeliveryRecord{TransactionID: "txn_a", ReportID: "r1", DeliveredAt: 100})
	fixture.ledger.RecordReportDelivery(ctx, ledger.ReportDeliveryRecord{TransactionID: "txn_a", ReportID: "r2", DeliveredAt: 200})

	recorder := performJSON(t, fixture.handler, http.MethodGet, "/api/admin/purchases/txn_a?limit=10", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+testAdminSecret)
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	deliveries, ok := body["deliveries"].([]any)
	if !ok || len(deliveries) != 2 {
		t.Fatalf("expected two deliveries, got %v", body)
	}
	first, ok := deliveries[0].(map[string]any)
	if !ok || first["reportId"] != "r2" {
		t.Fatalf("expected most recent delivery first, got %v", deliveries[0])
	}
}

func TestAdminLoginIssuesUsableSessionCookie(t *testing.T) {
	fixture := newRouterFixture(t, routerOptions{adminSecret: testAdminSecret})

	recorder := performJSON(t, fixture.handler, http.MethodPost, "/api/admin/login",
		map[string]string{"secret": "wrong"}, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", recorder.Code)
	}

	recorder = performJSON(t, fixture.handler, http.MethodPost, "/api/admin/login",
		map[string]string{"secret": testAdminSecret}, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 login, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var session *http.Cookie
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == admin.SessionCookieName {
			session = cookie
		}
	}
	if session == nil || session.Value == "" {
		t.Fatalf("expected session cookie in login response")
	}

	authorized := performJSON(t, fixture.handler, http.MethodGet, "/api/admin/purchases", nil, func(r *http.Request) {
		r.AddCookie(session)
	})
	if authorized.Code != http.StatusOK {
		t.Fatalf("expected session cookie to authorize, got %d", authorized.Code)
	}
}

func TestAdminLogoutClearsSessionCookie(t *testing.T) {
	fixture := newRouterFixture(t, routerOptions{adminSecret: testAdminSecret})

	recorder := performJSON(t, fixture.handler, http.MethodPost, "/api/admin/logout", nil, func(r *http.Request) {
		r.Header.Set(admin.SecretHeader, testAdminSecret)
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	var cleared *http.Cookie
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == admin.SessionCookieName {
			cleared = cookie
		}
	}
	if cleared == nil || cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("expected expired empty session cookie, got %#v", cleared)
	}
}

func TestAdminTrafficIsRateLimited(t *testing.T) {
	limiter := admin.NewLimiter(admin.LimiterConfig{Limit: 2, Window: time.Minute})
	fixture := newRouterFixture(t, routerOptions{adminSecret: testAdminSecret, limiter: limiter})

	authorize := func(r *http.Request) {
		r.Header.Set(admin.SecretHeader, testAdminSecret)
		r.Header.Set("X-Forwarded-For", "203.0.113.9")
	}

	for attempt := 0; attempt < 2; attempt++ {
		recorder := performJSON(t, fixture.handler, http.MethodGet, "/api/admin/purchases", nil, authorize)
		if recorder.Code != http.StatusOK {
			t.Fatalf("request %d should pass, got %d", attempt+1, recorder.Code)
		}
	}

	recorder := performJSON(t, fixture.handler, http.MethodGet, "/api/admin/purchases", nil, authorize)
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", recorder.Code)
	}

	// The login bootstrap endpoint shares the limiter.
	recorder = performJSON(t, fixture.handler, http.MethodPost, "/api/admin/login",
		map[string]string{"secret": testAdminSecret}, func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", "203.0.113.9")
		})
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected login to be rate limited, got %d", recorder.Code)
	}
}

func TestAdminActivityListsRecordedEvents(t *testing.T) {
	fixture := newRouterFixture(t, routerOptions{
		adminSecret: testAdminSecret,
		transactions: map[string]payments.Transaction{
			"txn_1": {ID: "txn_1", Status: "completed"},
		},
	})

	confirm := performJSON(t, fixture.handler, http.MethodPost, "/api/payment/confirm",
		map[string]string{"transactionId": "txn_1"}, nil)
	if confirm.Code != http.StatusOK {
		t.Fatalf("expected confirm to succeed, got %d", confirm.Code)
	}

	recorder := performJSON(t, fixture.handler, http.MethodGet, "/api/admin/activity?limit=10", nil, func(r *http.Request) {
		r.Header.Set(admin.SecretHeader, testAdminSecret)
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	events, ok := body["events"].([]any)
	if !ok || len(events) != 1 {
		t.Fatalf("expected one activity event, got %v", body)
	}
	event, ok := events[0].(map[string]any)
	if !ok || event["kind"] != "token.issued" || event["transactionId"] != "txn_1" {
		t.Fatalf("unexpected event %v", events[0])
	}
}

func TestAdminActivityCarriesWebhookGrantTransaction(t *testing.T) {
	fixture := newRouterFixture(t, routerOptions{adminSecret: testAdminSecret})

	payload := []byte(`{"event_type":"transaction.completed","data":{"id":"txn_2"}}`)
	request := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(payload))
	request.Header.Set(payments.SignatureHeader, payments.SignWebhookPayload([]byte(testWebhookSecret), "1700000000", payload))
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected webhook to succeed, got %d: %s", recorder.Code, recorder.Body.String())
	}

	listed := performJSON(t, fixture.handler, http.MethodGet, "/api/admin/activity?limit=10", nil, func(r *http.Request) {
		r.Header.Set(admin.SecretHeader, testAdminSecret)
	})
	if listed.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listed.Code)
	}
	body := decodeBody(t, listed)
	events, ok := body["events"].([]any)
	if !ok || len(events) != 1 {
		t.Fatalf("expected one activity event, got %v", body)
	}
	event, ok := events[0].(map[string]any)
	if !ok || event["kind"] != "token.issued" || event["transactionId"] != "txn_2" {
		t.Fatalf("expected webhook grant event to carry its transaction, got %v", events[0])
	}
}

func TestAdminActivityStreamDeliversPublishedEvents(t *testing.T) {
	fixture := newRouterFixture(t, routerOptions{adminSecret: testAdminSecret})
	server := httptest.NewServer(fixture.handler)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/admin/activity/stream", nil)
	if err != nil {
		t.Fatalf("building stream request: %v", err)
	}
	request.Header.Set(admin.SecretHeader, testAdminSecret)

	// The subscription registers once the handler starts, so publish on a
	// short interval until the frame comes back.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fixture.activity.Dispatcher().Publish(activity.Event{Kind: activity.KindTokenIssued, TransactionID: "txn_stream"})
			}
		}
	}()

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	if contentType := response.Header.Get("Content-Type"); !strings.Contains(contentType, "text/event-stream") {
		t.Fatalf("expected event-stream content type, got %q", contentType)
	}

	scanner := bufio.NewScanner(response.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") && strings.Contains(line, "activity") {
			return
		}
	}
	t.Fatalf("stream closed without an activity frame")
}

func TestAdminMetricsServedBehindGuard(t *testing.T) {
	fixture := newRouterFixture(t, routerOptions{adminSecret: testAdminSecret})

	unauthorized := performJSON(t, fixture.handler, http.MethodGet, "/api/admin/metrics", nil, nil)
	if unauthorized.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", unauthorized.Code)
	}

	request := httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil)
	request.Header.Set(admin.SecretHeader, testAdminSecret)
	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "go_goroutines") {
		t.Fatalf("expected prometheus exposition output")
	}
}
