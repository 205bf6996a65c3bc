/**
 * @description
 * This file defines the canonical representation of an asynchronous payment
 * notification received from a mobile-money gateway, along with the
 * acknowledgment envelope the gateway expects back. Vendor-specific payload
 * shapes are normalized into `GatewayCallback` by the parser in internal/app;
 * nothing outside the parser should ever touch the raw vendor JSON.
 *
 * @dependencies
 * - encoding/json: For round-tripping callbacks through the retry queue.
 */
package domain

import "encoding/json"

// Gateway identifiers supported by the callback parser.
const (
	GatewayMpesa = "mpesa"
)

// Result codes used in the acknowledgment envelope returned to the gateway.
// The gateway treats any non-200 HTTP response or malformed body as "retry
// me", so handlers always answer 200 and signal failure through ResultCode.
const (
	AckCodeSuccess = 0
	AckCodeFailure = 1
)

// GatewayCallback is the canonical, gateway-agnostic form of a payment
// notification. CorrelationID is the idempotency key for the whole engine:
// it links the async callback back to the payment intent that initiated it.
type GatewayCallback struct {
	Gateway              string                 `json:"gateway"`
	CorrelationID        string                 `json:"correlation_id"`
	ResultCode           int                    `json:"result_code"`
	ResultDesc           string                 `json:"result_desc"`
	AccountReference     string                 `json:"account_reference"`
	GatewayTransactionID string                 `json:"gateway_transaction_id"`
	Amount               int64                  `json:"amount"`
	PhoneNumber          string                 `json:"phone_number"`
	Raw                  map[string]interface{} `json:"raw,omitempty"`
}

// Succeeded reports whether the gateway confirmed the payment.
func (c *GatewayCallback) Succeeded() bool {
	return c.ResultCode == 0
}

// Marshal serializes the callback for storage in the retry queue.
func (c *GatewayCallback) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalGatewayCallback restores a callback previously stored by Marshal.
func UnmarshalGatewayCallback(data []byte) (*GatewayCallback, error) {
	var cb GatewayCallback
	if err := json.Unmarshal(data, &cb); err != nil {
		return nil, err
	}
	return &cb, nil
}

// CallbackAck is the JSON body returned to the gateway for every inbound
// callback, regardless of the internal processing outcome.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// AckAccepted is the success-shaped acknowledgment.
func AckAccepted() *CallbackAck {
	return &CallbackAck{ResultCode: AckCodeSuccess, ResultDesc: "Accepted"}
}

// AckRejected is the failure-shaped acknowledgment. The gateway does not
// retry on ResultCode alone, so this is informational for its logs.
func AckRejected(desc string) *CallbackAck {
	if desc == "" {
		desc = "Rejected"
	}
	return &CallbackAck{ResultCode: AckCodeFailure, ResultDesc: desc}
}
