package app

import (
	"errors"
	"testing"

	"github.com/lipabooks/payments-service/internal/domain"
)

const nestedSTKSuccess = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {
				"Item": [
					{"Name": "Amount", "Value": 50.00},
					{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
					{"Name": "PhoneNumber", "Value": 254708374149},
					{"Name": "AccountReference", "Value": "INV-0042"}
				]
			}
		}
	}
}`

func TestParseCallback_NestedSTKEnvelope(t *testing.T) {
	cb, err := ParseCallback(domain.GatewayMpesa, []byte(nestedSTKSuccess))
	if err != nil {
		t.Fatalf("ParseCallback returned error: %v", err)
	}

	if cb.CorrelationID != "ws_CO_191220191020363925" {
		t.Fatalf("unexpected correlation id %q", cb.CorrelationID)
	}
	if cb.ResultCode != 0 || !cb.Succeeded() {
		t.Fatalf("expected success result, got code %d", cb.ResultCode)
	}
	if cb.GatewayTransactionID != "NLJ7RT61SV" {
		t.Fatalf("unexpected receipt number %q", cb.GatewayTransactionID)
	}
	if cb.Amount != 5000 {
		t.Fatalf("expected amount in minor units 5000, got %d", cb.Amount)
	}
	if cb.PhoneNumber != "254708374149" {
		t.Fatalf("unexpected phone number %q", cb.PhoneNumber)
	}
	if cb.AccountReference != "INV-0042" {
		t.Fatalf("unexpected account reference %q", cb.AccountReference)
	}
}

func TestParseCallback_UnwrappedAndFlatVariants(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{
			name: "envelope without Body wrapper",
			body: `{"stkCallback": {"CheckoutRequestID": "CHK123", "ResultCode": 1032, "ResultDesc": "Request cancelled by user"}}`,
		},
		{
			name: "flattened fields",
			body: `{"CheckoutRequestID": "CHK123", "ResultCode": 1032, "ResultDesc": "Request cancelled by user"}`,
		},
		{
			name: "lower camel keys",
			body: `{"checkoutRequestID": "CHK123", "resultCode": "1032", "resultDesc": "Request cancelled by user"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cb, err := ParseCallback(domain.GatewayMpesa, []byte(tc.body))
			if err != nil {
				t.Fatalf("ParseCallback returned error: %v", err)
			}
			if cb.CorrelationID != "CHK123" {
				t.Fatalf("unexpected correlation id %q", cb.CorrelationID)
			}
			if cb.ResultCode != 1032 || cb.Succeeded() {
				t.Fatalf("expected failure code 1032, got %d", cb.ResultCode)
			}
		})
	}
}

func TestParseCallback_MissingCorrelationIDIsTerminal(t *testing.T) {
	bodies := []string{
		`{"Body": {"stkCallback": {"ResultCode": 0, "ResultDesc": "ok"}}}`,
		`{"Body": {"stkCallback": {"CheckoutRequestID": "   ", "ResultCode": 0}}}`,
		`{}`,
	}

	for _, body := range bodies {
		_, err := ParseCallback(domain.GatewayMpesa, []byte(body))
		if err == nil {
			t.Fatalf("expected error for body %s", body)
		}
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Fatalf("expected *ParseError, got %T: %v", err, err)
		}
		if IsTransient(err) {
			t.Fatal("a parse error must never be treated as transient")
		}
	}
}

func TestParseCallback_MissingResultCodeIsFailure(t *testing.T) {
	cb, err := ParseCallback(domain.GatewayMpesa, []byte(`{"CheckoutRequestID": "CHK900", "ResultDesc": "DS timeout"}`))
	if err != nil {
		t.Fatalf("ParseCallback returned error: %v", err)
	}
	if cb.Succeeded() {
		t.Fatal("absent result code must not be interpreted as success")
	}
}

func TestParseCallback_InvalidJSON(t *testing.T) {
	_, err := ParseCallback(domain.GatewayMpesa, []byte(`{"Body": `))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError for invalid JSON, got %v", err)
	}
}

func TestParseCallback_UnknownGateway(t *testing.T) {
	_, err := ParseCallback("carrier-pigeon", []byte(`{"CheckoutRequestID": "CHK1"}`))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError for unknown gateway, got %v", err)
	}
}

func TestParseCallback_StringAmount(t *testing.T) {
	body := `{
		"stkCallback": {
			"CheckoutRequestID": "CHK55",
			"ResultCode": 0,
			"CallbackMetadata": {"Item": [{"Name": "Amount", "Value": "149.99"}]}
		}
	}`
	cb, err := ParseCallback(domain.GatewayMpesa, []byte(body))
	if err != nil {
		t.Fatalf("ParseCallback returned error: %v", err)
	}
	if cb.Amount != 14999 {
		t.Fatalf("expected 14999 minor units, got %d", cb.Amount)
	}
}

func TestParseCallback_AmountRoundingIsSignSymmetric(t *testing.T) {
	cases := []struct {
		value string // raw JSON for the Value field
		want  int64
	}{
		{`12.999`, 1300},
		{`-12.999`, -1300}, // rounds away from zero, not toward it
		{`"-12.999"`, -1300},
		{`"0.005"`, 1},
		{`"-0.005"`, -1},
	}
	for _, tc := range cases {
		body := `{
			"stkCallback": {
				"CheckoutRequestID": "CHK56",
				"ResultCode": 0,
				"CallbackMetadata": {"Item": [{"Name": "Amount", "Value": ` + tc.value + `}]}
			}
		}`
		cb, err := ParseCallback(domain.GatewayMpesa, []byte(body))
		if err != nil {
			t.Fatalf("ParseCallback(%s) returned error: %v", tc.value, err)
		}
		if cb.Amount != tc.want {
			t.Fatalf("amount %s: expected %d minor units, got %d", tc.value, tc.want, cb.Amount)
		}
	}
}
