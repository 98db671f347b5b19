// Package http implements AgentOS's http.request effect adapter: the
// only external interface plans (never reducers, per the manifest's
// effect whitelist) may call directly. A single fixed effect kind with
// params/receipt decoded via canonical CBOR.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/effects"
)

// Kind is the fixed effect kind this adapter handles.
const Kind = "http.request"

// Params is http.request's decoded parameter shape.
type Params struct {
	Method  string            `cbor:"method"`
	URL     string            `cbor:"url"`
	Headers map[string]string `cbor:"headers"`
	Body    string            `cbor:"body"`
	Timeout int64             `cbor:"timeout_ms"`
}

// Receipt is http.request's decoded receipt payload shape.
type Receipt struct {
	StatusCode int               `cbor:"status_code"`
	Headers    map[string]string `cbor:"headers"`
	Body       string            `cbor:"body"`
}

// Adapter executes http.request intents against the real network.
type Adapter struct {
	Client *http.Client
	log    *logrus.Entry

	// MaxRetries bounds transient-failure retry via backoff.ExponentialBackOff;
	// 0 disables retrying.
	MaxRetries uint64
}

// New builds an Adapter with a sane default client timeout.
func New(log *logrus.Entry) *Adapter {
	return &Adapter{
		Client:     &http.Client{Timeout: 30 * time.Second},
		log:        log.WithField("component", "adapters.http"),
		MaxRetries: 3,
	}
}

// Kind implements adapters.Adapter.
func (a *Adapter) Kind() string { return Kind }

// Dispatch implements adapters.Adapter: decode params, perform the
// request with exponential-backoff retry on transport errors and 5xx
// responses, and encode the result (or error) as a receipt.
func (a *Adapter) Dispatch(intent effects.Intent) effects.Receipt {
	var params Params
	if err := ccbor.Unmarshal(intent.ParamsCBOR, &params); err != nil {
		return a.errReceipt(intent, "decode http.request params: "+err.Error())
	}
	if params.Method == "" {
		params.Method = http.MethodGet
	}

	var resp *http.Response
	op := func() error {
		var body io.Reader
		if params.Body != "" {
			body = strings.NewReader(params.Body)
		}
		timeout := 30 * time.Second
		if params.Timeout > 0 {
			timeout = time.Duration(params.Timeout) * time.Millisecond
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, params.Method, params.URL, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, v := range params.Headers {
			req.Header.Set(k, v)
		}

		r, err := a.Client.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			r.Body.Close()
			return fmt.Errorf("http.request: server error %d", r.StatusCode)
		}
		resp = r
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), a.MaxRetries)
	if err := backoff.Retry(op, policy); err != nil {
		a.log.WithError(err).WithField("url", params.URL).Warn("http.request failed")
		return a.errReceipt(intent, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return a.errReceipt(intent, "read response body: "+err.Error())
	}

	headers := map[string]string{}
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	payload, err := ccbor.Marshal(Receipt{StatusCode: resp.StatusCode, Headers: headers, Body: string(raw)})
	if err != nil {
		return a.errReceipt(intent, "encode http.request receipt: "+err.Error())
	}

	return effects.Receipt{
		IntentHash:  intent.IntentHash,
		AdapterID:   "adapters.http",
		Status:      effects.StatusOk,
		PayloadCBOR: payload,
	}
}

func (a *Adapter) errReceipt(intent effects.Intent, msg string) effects.Receipt {
	payload, _ := ccbor.Marshal(map[string]interface{}{"error": msg})
	return effects.Receipt{
		IntentHash:  intent.IntentHash,
		AdapterID:   "adapters.http",
		Status:      effects.StatusError,
		PayloadCBOR: payload,
	}
}
