package effects

import (
	"fmt"

	"github.com/smartcomputer-ai/agentos/ccbor"
)

// UnsupportedReducerReceipt reports a receipt whose intent kind has no
// reducer-origin synthesis rule.
type UnsupportedReducerReceipt struct {
	Kind string
}

func (e *UnsupportedReducerReceipt) Error() string {
	return fmt.Sprintf("effects: no reducer-origin receipt synthesis rule for intent kind %q", e.Kind)
}

// synthesisSchema maps the fixed whitelist of reducer-emittable effect
// kinds to the domain event schema synthesised on receipt.
var synthesisSchema = map[string]string{
	"timer.set": "sys/TimerFired@1",
	"blob.put":  "sys/BlobPutResult@1",
	"blob.get":  "sys/BlobGetResult@1",
}

// TranslateReceipt builds the synthetic domain event a reducer consumes
// when one of its emitted effects completes. The returned schema name
// selects which of the three sys/* event shapes (TimerFired,
// BlobPutResult, BlobGetResult) applies.
func TranslateReceipt(reducerName string, intent Intent, receipt Receipt) (schemaName string, payload map[string]interface{}, err error) {
	schemaName, ok := synthesisSchema[intent.Kind]
	if !ok {
		return "", nil, &UnsupportedReducerReceipt{Kind: intent.Kind}
	}

	var requested interface{}
	if len(intent.ParamsCBOR) > 0 {
		if err := ccbor.Unmarshal(intent.ParamsCBOR, &requested); err != nil {
			return "", nil, fmt.Errorf("effects: decoding intent params for translation: %w", err)
		}
	}

	var receiptPayload interface{}
	if len(receipt.PayloadCBOR) > 0 {
		if err := ccbor.Unmarshal(receipt.PayloadCBOR, &receiptPayload); err != nil {
			return "", nil, fmt.Errorf("effects: decoding receipt payload for translation: %w", err)
		}
	}

	payload = map[string]interface{}{
		"intent_hash": intent.IntentHash,
		"reducer":     reducerName,
		"effect_kind": intent.Kind,
		"adapter_id":  receipt.AdapterID,
		"status":      string(receipt.Status),
		"requested":   requested,
		"receipt":     receiptPayload,
		"signature":   receipt.Signature,
	}
	if receipt.CostCents != nil {
		payload["cost_cents"] = *receipt.CostCents
	}
	return schemaName, payload, nil
}
