package e2e

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

const validShipping = `{"firstName":"Ada","lastName":"Lovelace","email":"ada@example.com","address":"1 Main St","city":"Portland","state":"OR","zipCode":"97201"}`

func validCard(number string) string {
	return `{"card":{"number":"` + number + `","expiry":"12/40","cvv":"123","name":"Ada Lovelace","zipCode":"97201"}}`
}

// checkoutAs performs an authenticated checkout request and decodes the body.
func checkoutAs(t *testing.T, ta *testApp, userID, method, path, body string, expected int) map[string]interface{} {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, userID, method, path, body)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	if resp.StatusCode != expected {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, expected, resp.StatusCode, readBody(t, resp))
	}
	return parseJSON(t, resp)
}

// startCheckout completes a design and opens a session with one tee.
func startCheckout(t *testing.T, ta *testApp, userID string) string {
	t.Helper()

	designID := submitDesign(t, ta, "")
	completeDesign(t, ta, designID)

	body := checkoutAs(t, ta, userID, http.MethodPost, "/api/checkout",
		`{"designId":"`+designID+`","items":[{"mockupId":"mockup-`+designID+`-tee","quantity":1,"size":"M","color":"Black"}]}`,
		http.StatusCreated)
	if body["step"] != "REVIEW" {
		t.Fatalf("expected REVIEW, got %v", body["step"])
	}
	id, _ := body["id"].(string)
	return id
}

// advanceToPayment walks a fresh session through review and shipping.
func advanceToPayment(t *testing.T, ta *testApp, userID, sessionID string) {
	t.Helper()
	base := "/api/checkout/" + sessionID
	checkoutAs(t, ta, userID, http.MethodPost, base+"/continue", "", http.StatusOK)
	body := checkoutAs(t, ta, userID, http.MethodPut, base+"/shipping", validShipping, http.StatusOK)
	if body["step"] != "PAYMENT" {
		t.Fatalf("expected PAYMENT after shipping, got %v", body["step"])
	}
}

func TestCheckout_FullFlow(t *testing.T) {
	ta := setupApp(t)
	sessionID := startCheckout(t, ta, "user-1")
	base := "/api/checkout/" + sessionID

	body := checkoutAs(t, ta, "user-1", http.MethodGet, base, "", http.StatusOK)
	totals := body["totals"].(map[string]interface{})
	if totals["subtotal"] != "25.99" || totals["shipping"] != "7.99" || totals["tax"] != "2.08" || totals["total"] != "36.06" {
		t.Errorf("unexpected totals %v", totals)
	}
	if totals["freeShipping"] != false {
		t.Error("expected paid shipping below the threshold")
	}

	advanceToPayment(t, ta, "user-1", sessionID)
	checkoutAs(t, ta, "user-1", http.MethodPut, base+"/terms", `{"agreeToTerms":true}`, http.StatusOK)

	body = checkoutAs(t, ta, "user-1", http.MethodPost, base+"/pay", validCard("4242 4242 4242 4242"), http.StatusOK)
	if body["step"] != "PROCESSING" {
		t.Fatalf("expected PROCESSING, got %v", body["step"])
	}
	if tx, _ := body["transactionId"].(string); !strings.HasPrefix(tx, "pi_") {
		t.Errorf("expected transaction id, got %v", body["transactionId"])
	}
	if _, ok := body["card"]; ok {
		t.Error("card details must never be returned")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		body = checkoutAs(t, ta, "user-1", http.MethodGet, base, "", http.StatusOK)
		if body["step"] == "COMPLETE" || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if body["step"] != "COMPLETE" {
		t.Fatalf("expected COMPLETE after settlement, got %v", body["step"])
	}
	if order, _ := body["orderId"].(string); !strings.HasPrefix(order, "order_") {
		t.Errorf("expected order id, got %v", body["orderId"])
	}
}

func TestCheckout_ShippingGate(t *testing.T) {
	ta := setupApp(t)
	sessionID := startCheckout(t, ta, "user-1")
	base := "/api/checkout/" + sessionID

	checkoutAs(t, ta, "user-1", http.MethodPost, base+"/continue", "", http.StatusOK)

	body := checkoutAs(t, ta, "user-1", http.MethodPut, base+"/shipping", `{"firstName":"Ada","email":"  "}`, http.StatusOK)
	if body["step"] != "SHIPPING" {
		t.Errorf("incomplete address must not advance, got %v", body["step"])
	}
	missing, _ := body["missingFields"].([]interface{})
	if len(missing) != 6 {
		t.Errorf("expected 6 missing fields, got %v", missing)
	}

	body = checkoutAs(t, ta, "user-1", http.MethodPost, base+"/back", "", http.StatusOK)
	if body["step"] != "REVIEW" {
		t.Errorf("expected REVIEW after back, got %v", body["step"])
	}
}

func TestCheckout_InvalidTransition(t *testing.T) {
	ta := setupApp(t)
	sessionID := startCheckout(t, ta, "user-1")

	resp, err := doAuthRequest(t, ta.app, "user-1", http.MethodPost, "/api/checkout/"+sessionID+"/pay", validCard("4242424242424242"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
	if code := errorCode(parseJSON(t, resp)); code != "INVALID_TRANSITION" {
		t.Errorf("expected INVALID_TRANSITION, got %q", code)
	}
}

func TestCheckout_PaymentRefusals(t *testing.T) {
	ta := setupApp(t)
	sessionID := startCheckout(t, ta, "user-1")
	base := "/api/checkout/" + sessionID
	advanceToPayment(t, ta, "user-1", sessionID)

	body := checkoutAs(t, ta, "user-1", http.MethodPost, base+"/pay", validCard("4242424242424242"), http.StatusPaymentRequired)
	if msg := body["error"].(map[string]interface{})["message"]; msg != "Please agree to the terms and conditions" {
		t.Errorf("unexpected terms refusal %v", msg)
	}

	checkoutAs(t, ta, "user-1", http.MethodPut, base+"/terms", `{"agreeToTerms":true}`, http.StatusOK)

	body = checkoutAs(t, ta, "user-1", http.MethodPost, base+"/pay", `{"card":{"number":"123","expiry":"13/99","cvv":"1","name":"A","zipCode":"1"}}`, http.StatusPaymentRequired)
	details := body["error"].(map[string]interface{})["details"].(map[string]interface{})
	fieldErrors, _ := details["fieldErrors"].(map[string]interface{})
	if len(fieldErrors) != 5 {
		t.Errorf("expected 5 field errors, got %v", fieldErrors)
	}

	body = checkoutAs(t, ta, "user-1", http.MethodPost, base+"/pay", validCard("4000000000000002"), http.StatusPaymentRequired)
	errBody := body["error"].(map[string]interface{})
	if errBody["message"] != "Card declined" {
		t.Errorf("expected 'Card declined', got %v", errBody["message"])
	}
	if details := errBody["details"].(map[string]interface{}); details["step"] != "PAYMENT" || details["paymentError"] != "Card declined" {
		t.Errorf("declined session should stay at PAYMENT with the reason, got %v", details)
	}

	body = checkoutAs(t, ta, "user-1", http.MethodPost, base+"/pay", validCard("4242424242424242"), http.StatusOK)
	if body["step"] != "PROCESSING" {
		t.Errorf("expected retry to succeed, got %v", body["step"])
	}
	if _, ok := body["paymentError"]; ok {
		t.Error("payment error should be cleared after success")
	}
}

func TestCheckout_PayPal(t *testing.T) {
	ta := setupApp(t)
	sessionID := startCheckout(t, ta, "user-1")
	base := "/api/checkout/" + sessionID
	advanceToPayment(t, ta, "user-1", sessionID)

	checkoutAs(t, ta, "user-1", http.MethodPut, base+"/payment-method", `{"method":"paypal"}`, http.StatusOK)
	checkoutAs(t, ta, "user-1", http.MethodPut, base+"/terms", `{"agreeToTerms":true}`, http.StatusOK)

	checkoutAs(t, ta, "user-1", http.MethodPost, base+"/pay", `{"paypal":{"email":"not-an-email"}}`, http.StatusBadRequest)

	body := checkoutAs(t, ta, "user-1", http.MethodPost, base+"/pay", `{"paypal":{"email":"ada@example.com"}}`, http.StatusOK)
	if body["step"] != "PROCESSING" || body["paymentMethod"] != "paypal" {
		t.Errorf("expected PROCESSING via paypal, got %v/%v", body["step"], body["paymentMethod"])
	}
}

func TestCheckout_Create_Rejections(t *testing.T) {
	ta := setupApp(t)

	pending := submitDesign(t, ta, "")
	checkoutAs(t, ta, "user-1", http.MethodPost, "/api/checkout",
		`{"designId":"`+pending+`","items":[{"mockupId":"mockup-`+pending+`-tee"}]}`, http.StatusBadRequest)

	checkoutAs(t, ta, "user-1", http.MethodPost, "/api/checkout", `{"designId":"x","items":[]}`, http.StatusBadRequest)

	checkoutAs(t, ta, "user-1", http.MethodPost, "/api/checkout",
		`{"designId":"missing","items":[{"mockupId":"m"}]}`, http.StatusNotFound)

	completeDesign(t, ta, pending)
	checkoutAs(t, ta, "user-1", http.MethodPost, "/api/checkout",
		`{"designId":"`+pending+`","items":[{"mockupId":"mockup-`+pending+`-tee","size":"XS"}]}`, http.StatusBadRequest)
}

func TestCheckout_OtherUsersSessionsAreHidden(t *testing.T) {
	ta := setupApp(t)
	sessionID := startCheckout(t, ta, "user-1")

	resp, err := doAuthRequest(t, ta.app, "user-2", http.MethodGet, "/api/checkout/"+sessionID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp, err = doAuthRequest(t, ta.app, "user-2", http.MethodPost, "/api/checkout/"+sessionID+"/continue", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	body := checkoutAs(t, ta, "user-1", http.MethodGet, "/api/checkout/"+sessionID, "", http.StatusOK)
	if body["step"] != "REVIEW" {
		t.Errorf("session must be untouched, got %v", body["step"])
	}
}
