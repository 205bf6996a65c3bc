/**
 * @description
 * Normalizes vendor-specific callback payloads into the canonical
 * domain.GatewayCallback. All vendor field paths live in this one file:
 * supporting another gateway means adding a normalizer here, never touching
 * the reconciliation engine.
 *
 * The M-Pesa STK push callback nests its payload as Body.stkCallback with
 * settlement details inside CallbackMetadata.Item. Real traffic also shows
 * envelope-less and flattened variants, so every unwrap is optional until
 * the correlation id itself is confirmed missing - that, and only that, is
 * a terminal ParseError.
 *
 * @dependencies
 * - encoding/json, strconv, strings: Standard Go libraries.
 * - github.com/shopspring/decimal: Exact conversion of money values to minor units.
 * - internal/domain: The canonical callback type.
 */
package app

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lipabooks/payments-service/internal/domain"
	"github.com/shopspring/decimal"
)

// ParseCallback normalizes a raw callback body for the named gateway.
func ParseCallback(gateway string, body []byte) (*domain.GatewayCallback, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ParseError{Gateway: gateway, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	switch gateway {
	case domain.GatewayMpesa:
		return normalizeMpesaCallback(raw)
	default:
		return nil, &ParseError{Gateway: gateway, Reason: "unknown gateway"}
	}
}

// normalizeMpesaCallback unwraps the STK push result envelope. Field lookups
// use optional-chaining semantics: a missing intermediate key falls through
// to the next known shape rather than failing.
func normalizeMpesaCallback(raw map[string]interface{}) (*domain.GatewayCallback, error) {
	stk := childMap(raw, "Body", "stkCallback")
	if stk == nil {
		stk = childMap(raw, "stkCallback")
	}
	if stk == nil {
		// Flattened variant: result fields at the top level.
		stk = raw
	}

	cb := &domain.GatewayCallback{
		Gateway:       domain.GatewayMpesa,
		CorrelationID: stringField(stk, "CheckoutRequestID", "checkoutRequestID", "CheckoutRequestId"),
		ResultDesc:    stringField(stk, "ResultDesc", "resultDesc"),
		Raw:           raw,
	}

	code, ok := intField(stk, "ResultCode", "resultCode")
	if !ok {
		// No result code at all is treated as failure, not success.
		code = 1
	}
	cb.ResultCode = code

	for _, item := range metadataItems(stk) {
		name := stringField(item, "Name")
		switch name {
		case "MpesaReceiptNumber":
			cb.GatewayTransactionID = stringField(item, "Value")
		case "Amount":
			if amount, ok := amountField(item, "Value"); ok {
				cb.Amount = amount
			}
		case "PhoneNumber":
			cb.PhoneNumber = stringField(item, "Value")
		case "AccountReference", "BillRefNumber":
			cb.AccountReference = stringField(item, "Value")
		}
	}

	// Some integrations carry the account reference outside the metadata list.
	if cb.AccountReference == "" {
		cb.AccountReference = stringField(stk, "AccountReference", "BillRefNumber")
	}
	if cb.AccountReference == "" {
		cb.AccountReference = stringField(raw, "AccountReference", "BillRefNumber")
	}

	if strings.TrimSpace(cb.CorrelationID) == "" {
		return nil, &ParseError{Gateway: domain.GatewayMpesa, Reason: "missing CheckoutRequestID"}
	}

	return cb, nil
}

// childMap walks a nested map path, returning nil as soon as any key is
// absent or not an object.
func childMap(raw map[string]interface{}, path ...string) map[string]interface{} {
	current := raw
	for _, key := range path {
		value, ok := current[key]
		if !ok {
			return nil
		}
		child, ok := value.(map[string]interface{})
		if !ok {
			return nil
		}
		current = child
	}
	return current
}

func metadataItems(stk map[string]interface{}) []map[string]interface{} {
	meta := childMap(stk, "CallbackMetadata")
	if meta == nil {
		meta = childMap(stk, "callbackMetadata")
	}
	if meta == nil {
		return nil
	}
	rawItems, ok := meta["Item"].([]interface{})
	if !ok {
		rawItems, ok = meta["item"].([]interface{})
		if !ok {
			return nil
		}
	}
	items := make([]map[string]interface{}, 0, len(rawItems))
	for _, rawItem := range rawItems {
		if item, ok := rawItem.(map[string]interface{}); ok {
			items = append(items, item)
		}
	}
	return items
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		value, ok := m[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case float64:
			// Receipt numbers and phone numbers sometimes arrive as JSON numbers.
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func intField(m map[string]interface{}, keys ...string) (int, bool) {
	for _, key := range keys {
		value, ok := m[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			return int(v), true
		case string:
			if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return parsed, true
			}
		}
	}
	return 0, false
}

// amountField reads a money value and converts it to minor currency units,
// rounding half away from zero.
func amountField(m map[string]interface{}, key string) (int64, bool) {
	value, ok := m[key]
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return minorUnits(decimal.NewFromFloat(v)), true
	case string:
		if parsed, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			return minorUnits(parsed), true
		}
	}
	return 0, false
}

func minorUnits(major decimal.Decimal) int64 {
	return major.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
