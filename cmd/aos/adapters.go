package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smartcomputer-ai/agentos/adapters"
	adaptblob "github.com/smartcomputer-ai/agentos/adapters/blob"
	adapthttp "github.com/smartcomputer-ai/agentos/adapters/http"
	adaptllm "github.com/smartcomputer-ai/agentos/adapters/llm"
	adaptmq "github.com/smartcomputer-ai/agentos/adapters/mq"
	adapttimer "github.com/smartcomputer-ai/agentos/adapters/timer"
	"github.com/smartcomputer-ai/agentos/effects"
	"github.com/smartcomputer-ai/agentos/scheduler"
)

// worldReceiptSink defers to whatever *scheduler.World worldRef points at
// when a receipt actually arrives. It exists to break the
// adapters-need-the-World / World-needs-the-adapters cycle: the timer
// adapter's background poll loop is built before the Kernel (and
// therefore the World) exists, but never delivers a receipt before
// bootstrap finishes wiring worldRef.
type worldReceiptSink struct{ worldRef **scheduler.World }

func (s worldReceiptSink) SubmitReceipt(r effects.Receipt) {
	if w := *s.worldRef; w != nil {
		w.SubmitReceipt(r)
	}
}

// worldEventSink is worldReceiptSink's counterpart for the mq Consumer's
// inbound direction: the Consumer's Run loop is started before the
// Kernel (and its World) exists, but never delivers before worldRef is
// wired.
type worldEventSink struct{ worldRef **scheduler.World }

func (s worldEventSink) SubmitEvent(schema string, payload interface{}) {
	if w := *s.worldRef; w != nil {
		w.SubmitEvent(schema, payload)
	}
}

// noopLLMProvider is the default llm.generate backend when no real
// provider is configured: no example repo in the pack carries an LLM
// SDK (see adapters/llm's package doc and DESIGN.md), so a deployment
// that wants real completions supplies its own Provider; this one
// exists so cmd/aos boots standalone for the example scenarios, which
// only exercise llm.generate's budget-metering path, not its content.
type noopLLMProvider struct{}

func (noopLLMProvider) Generate(ctx context.Context, provider, model, prompt string, maxTokens int64) (string, int64, int64, error) {
	return "", 0, 0, nil
}

// adapterBundle holds the constructed dispatcher plus anything needing
// an explicit shutdown (the timer poll loop, the mq channel/consumer).
type adapterBundle struct {
	Dispatch *adapters.Registry
	Close    func() error
}

// buildAdapterRegistry wires one adapters.Registry from cfg, registering
// whichever out-of-core adapters have the configuration to run:
// adapters/http always (stateless), adapters/blob and adapters/llm when
// S3/LLM settings are present isn't required (llm always registers, with
// the noop provider as fallback), adapters/timer when a Redis URL is
// configured, adapters/mq (both the publish adapter and its inbound
// Consumer) when an AMQP URL is configured. worldRef is filled in by
// bootstrap once the Kernel (and its World) exists.
func buildAdapterRegistry(cfg *serverConfig, log *logrus.Entry, worldRef **scheduler.World) (*adapters.Registry, func() error, error) {
	reg := adapters.NewRegistry()
	var closers []func() error

	reg.Register(adapthttp.New(log))
	llmAdapter := adaptllm.New(llmProviderFor(cfg), log)
	llmAdapter.CentsPerThousandTokens = cfg.LLMCentsPerThousandTokens
	reg.Register(llmAdapter)

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opt)
		sink := worldReceiptSink{worldRef: worldRef}
		timerAdapter := adapttimer.New(client, sink, log)
		reg.Register(timerAdapter)

		ctx, cancel := context.WithCancel(context.Background())
		go timerAdapter.Run(ctx, time.Second)
		closers = append(closers, func() error {
			cancel()
			timerAdapter.Close()
			return client.Close()
		})
	}

	if cfg.S3Endpoint != "" {
		client, err := adaptblob.NewS3Client(context.Background(), cfg.S3Endpoint, cfg.S3Region, cfg.S3AccessKey, cfg.S3SecretKey, true)
		if err != nil {
			return nil, nil, fmt.Errorf("building s3 client: %w", err)
		}
		blobAdapter := adaptblob.New(client)
		reg.Register(adaptblob.PutAdapter{Adapter: blobAdapter})
		reg.Register(adaptblob.GetAdapter{Adapter: blobAdapter})
	}

	if cfg.AMQPURL != "" {
		mqAdapter, err := adaptmq.New(adaptmq.RealDialer{}, cfg.AMQPURL, log)
		if err != nil {
			return nil, nil, fmt.Errorf("building mq adapter: %w", err)
		}
		reg.Register(mqAdapter)
		closers = append(closers, mqAdapter.Close)

		// The publish side above owns its own channel on one connection;
		// the consumer gets a second connection so a slow/blocked inbound
		// queue can never starve outbound mq.publish (and vice versa).
		consumerConn, err := (adaptmq.RealDialer{}).Dial(cfg.AMQPURL)
		if err != nil {
			return nil, nil, fmt.Errorf("dialing mq consumer connection: %w", err)
		}
		sink := worldEventSink{worldRef: worldRef}
		consumer, err := adaptmq.NewConsumer(consumerConn, cfg.MQQueue, cfg.MQEventSchema, sink, log)
		if err != nil {
			consumerConn.Close()
			return nil, nil, fmt.Errorf("building mq consumer: %w", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.WithError(err).Warn("aos: mq consumer stopped")
			}
		}()
		closers = append(closers, func() error {
			cancel()
			consumer.Close()
			return consumerConn.Close()
		})
	}

	closeAll := func() error {
		var firstErr error
		for _, c := range closers {
			if err := c(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	return reg, closeAll, nil
}

func llmProviderFor(cfg *serverConfig) adaptllm.Provider {
	return noopLLMProvider{}
}
