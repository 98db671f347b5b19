// Package llm implements AgentOS's llm.generate effect adapter: a
// plan-only effect kind, one of the usage-metered kinds a budget grant
// settles against. No concrete LLM provider SDK is wired in, so this
// adapter is built around a narrow Provider seam instead — the same
// dependency-injection shape `adapters/blob`'s S3Client and
// `adapters/mq`'s AMQPConnection use to keep the real network call
// swappable and the adapter itself testable without one. DESIGN.md
// documents why no concrete provider library is wired.
package llm

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/effects"
)

// Kind is the fixed effect kind this adapter handles.
const Kind = "llm.generate"

// Params is llm.generate's decoded parameter shape. Provider/Model/Tools
// are also the fields the `llm` capability enforcer — an
// `examples/enforcers` pure module — checks against its allowlist before
// the intent ever reaches this adapter.
type Params struct {
	Provider  string   `cbor:"provider"`
	Model     string   `cbor:"model"`
	Prompt    string   `cbor:"prompt"`
	Tools     []string `cbor:"tools"`
	MaxTokens int64    `cbor:"max_tokens"`
}

// Receipt is llm.generate's decoded receipt payload shape. PromptTokens/
// CompletionTokens are what the effect manager's budget ledger settles
// a reserved grant against.
type Receipt struct {
	Text             string `cbor:"text"`
	PromptTokens     int64  `cbor:"prompt_tokens"`
	CompletionTokens int64  `cbor:"completion_tokens"`
}

// Provider performs one completion call against a concrete LLM backend.
type Provider interface {
	Generate(ctx context.Context, provider, model, prompt string, maxTokens int64) (text string, promptTokens, completionTokens int64, err error)
}

// Adapter executes llm.generate intents against a Provider.
type Adapter struct {
	Provider Provider
	// CentsPerThousandTokens prices the receipt's CostCents from total
	// token usage; 0 leaves CostCents unset (no budget dimension priced
	// in cents for this deployment).
	CentsPerThousandTokens int64
	Timeout                time.Duration
	log                    *logrus.Entry
}

// New builds an Adapter over provider with a sane default call timeout.
func New(provider Provider, log *logrus.Entry) *Adapter {
	return &Adapter{
		Provider: provider,
		Timeout:  60 * time.Second,
		log:      log.WithField("component", "adapters.llm"),
	}
}

// Kind implements adapters.Adapter.
func (a *Adapter) Kind() string { return Kind }

// Dispatch implements adapters.Adapter.
func (a *Adapter) Dispatch(intent effects.Intent) effects.Receipt {
	var params Params
	if err := ccbor.Unmarshal(intent.ParamsCBOR, &params); err != nil {
		return errReceipt(intent, "decode llm.generate params: "+err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
	defer cancel()
	text, promptTokens, completionTokens, err := a.Provider.Generate(ctx, params.Provider, params.Model, params.Prompt, params.MaxTokens)
	if err != nil {
		a.log.WithError(err).WithField("model", params.Model).Warn("llm.generate failed")
		return errReceipt(intent, "llm.generate: "+err.Error())
	}

	payload, err := ccbor.Marshal(Receipt{Text: text, PromptTokens: promptTokens, CompletionTokens: completionTokens})
	if err != nil {
		return errReceipt(intent, "encode llm.generate receipt: "+err.Error())
	}

	receipt := effects.Receipt{
		IntentHash:  intent.IntentHash,
		AdapterID:   "adapters.llm",
		Status:      effects.StatusOk,
		PayloadCBOR: payload,
	}
	if a.CentsPerThousandTokens > 0 {
		cost := uint64((promptTokens + completionTokens) * a.CentsPerThousandTokens / 1000)
		receipt.CostCents = &cost
	}
	return receipt
}

func errReceipt(intent effects.Intent, msg string) effects.Receipt {
	payload, _ := ccbor.Marshal(map[string]interface{}{"error": msg})
	return effects.Receipt{IntentHash: intent.IntentHash, AdapterID: "adapters.llm", Status: effects.StatusError, PayloadCBOR: payload}
}
