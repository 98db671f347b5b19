package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcomputer-ai/agentos/adapters/llm"
	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/effects"
)

type fakeProvider struct {
	text                         string
	promptTokens, completionTokens int64
	err                          error
}

func (f fakeProvider) Generate(ctx context.Context, provider, model, prompt string, maxTokens int64) (string, int64, int64, error) {
	if f.err != nil {
		return "", 0, 0, f.err
	}
	return f.text, f.promptTokens, f.completionTokens, nil
}

func makeIntent(t *testing.T, params llm.Params) effects.Intent {
	t.Helper()
	raw, err := ccbor.Marshal(params)
	require.NoError(t, err)
	return effects.Intent{Kind: llm.Kind, ParamsCBOR: raw, IntentHash: "h1"}
}

func TestAdapter_Dispatch_Success(t *testing.T) {
	a := llm.New(fakeProvider{text: "a summary", promptTokens: 120, completionTokens: 40}, logrus.NewEntry(logrus.New()))
	a.CentsPerThousandTokens = 2

	intent := makeIntent(t, llm.Params{Provider: "anthropic", Model: "claude", Prompt: "summarize this"})
	receipt := a.Dispatch(intent)
	require.Equal(t, effects.StatusOk, receipt.Status)
	require.NotNil(t, receipt.CostCents)
	assert.Equal(t, uint64(0), *receipt.CostCents) // (120+40)*2/1000 truncates to 0

	var out llm.Receipt
	require.NoError(t, ccbor.Unmarshal(receipt.PayloadCBOR, &out))
	assert.Equal(t, "a summary", out.Text)
	assert.Equal(t, int64(120), out.PromptTokens)
	assert.Equal(t, int64(40), out.CompletionTokens)
}

func TestAdapter_Dispatch_ProviderErrorBecomesErrorReceipt(t *testing.T) {
	a := llm.New(fakeProvider{err: errors.New("rate limited")}, logrus.NewEntry(logrus.New()))
	intent := makeIntent(t, llm.Params{Provider: "anthropic", Model: "claude", Prompt: "x"})
	receipt := a.Dispatch(intent)
	assert.Equal(t, effects.StatusError, receipt.Status)
}

func TestAdapter_Dispatch_BadParams(t *testing.T) {
	a := llm.New(fakeProvider{}, logrus.NewEntry(logrus.New()))
	receipt := a.Dispatch(effects.Intent{Kind: llm.Kind, ParamsCBOR: []byte("not cbor"), IntentHash: "h2"})
	assert.Equal(t, effects.StatusError, receipt.Status)
}
