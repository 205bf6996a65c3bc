/**
 * @description
 * Routes a normalized callback to the invoice-payment or subscription-payment
 * flow based on the account reference convention: subscription checkouts are
 * initiated with a "SUB-" prefixed reference, invoice checkouts carry the
 * bare invoice number. Classification is pure and total - every reference,
 * including the empty one, resolves to exactly one flow. Unmarked references
 * map to the invoice flow, preserving the behavior of checkouts created
 * before subscription billing existed.
 */
package app

import (
	"strings"

	"github.com/google/uuid"
)

// FlowKind identifies which reconciliation flow handles a callback.
type FlowKind int

const (
	FlowInvoice FlowKind = iota
	FlowSubscription
)

func (f FlowKind) String() string {
	if f == FlowSubscription {
		return "subscription"
	}
	return "invoice"
}

// subscriptionReferencePrefix marks references created by subscription checkouts.
const subscriptionReferencePrefix = "SUB-"

// ClassifyReference decides the flow for an account reference.
func ClassifyReference(accountReference string) FlowKind {
	ref := strings.ToUpper(strings.TrimSpace(accountReference))
	if strings.HasPrefix(ref, subscriptionReferencePrefix) {
		return FlowSubscription
	}
	return FlowInvoice
}

// SubscriptionIDFromReference extracts the subscription id from a
// subscription-flow reference ("SUB-<uuid>").
func SubscriptionIDFromReference(accountReference string) (uuid.UUID, bool) {
	ref := strings.TrimSpace(accountReference)
	if len(ref) <= len(subscriptionReferencePrefix) {
		return uuid.Nil, false
	}
	if !strings.EqualFold(ref[:len(subscriptionReferencePrefix)], subscriptionReferencePrefix) {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(ref[len(subscriptionReferencePrefix):])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
