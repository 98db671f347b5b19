// Package main is AgentOS's daemon CLI, `aos`: it bootstraps one
// deterministic kernel instance from a manifest file and an on-disk
// store/journal, then serves the control surface over both
// controlsocket (WebSocket) and httpface (REST). A cobra root command
// plus viper file/env/flag configuration layering, a middleware-then-serve
// shape in runServer, and a SIGINT/SIGTERM graceful-shutdown pattern
// wired around AgentOS's kernel collaborators.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// RootCmd is aos's entry point: `aos serve [flags]`.
var RootCmd = &cobra.Command{
	Use:   "aos",
	Short: "AgentOS: a deterministic agent-orchestration kernel daemon",
	Long: `aos runs one AgentOS kernel instance: it loads a manifest, replays or
opens its journal and CAS store, wires the configured out-of-core
adapters, and serves the control surface over a WebSocket control
socket and a REST façade.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "bootstrap the kernel and serve its control surface",
	Run:   runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.aos.yaml)")

	serveCmd.Flags().String("data-dir", "./.aos/data", "on-disk CAS store + journal directory")
	serveCmd.Flags().String("manifest", "./.aos/manifest.air.cbor", "path to the active manifest")
	serveCmd.Flags().String("control-socket-addr", ":7700", "control-socket (WebSocket) listen address")
	serveCmd.Flags().String("httpface-addr", ":7701", "REST control-surface listen address")
	serveCmd.Flags().String("jwt-secret", "", "bearer-token signing secret; empty disables auth (local trusted use only)")
	serveCmd.Flags().Int("module-cache-size", 256, "compiled module bytecode cache entries")
	serveCmd.Flags().Duration("module-timeout", 500*time.Millisecond, "per-invocation module wall-clock timeout")
	serveCmd.Flags().String("redis-url", "", "Redis URL backing adapters/timer; empty keeps timer.set on the kernel's internal timers")
	serveCmd.Flags().String("amqp-url", "", "AMQP URL backing adapters/mq; empty disables mq.publish")
	serveCmd.Flags().String("mq-queue", "aos.inbound", "inbound AMQP queue name for adapters/mq's Consumer")
	serveCmd.Flags().String("mq-event-schema", "sys/MQMessage@1", "domain event schema tagged onto every inbound AMQP delivery")
	serveCmd.Flags().String("s3-endpoint", "", "S3-compatible endpoint backing adapters/blob; empty disables blob.put/get")
	serveCmd.Flags().String("s3-region", "us-east-1", "S3 region")
	serveCmd.Flags().String("s3-access-key", "", "S3 access key")
	serveCmd.Flags().String("s3-secret-key", "", "S3 secret key")
	serveCmd.Flags().Int64("llm-cents-per-thousand-tokens", 0, "llm.generate cost-in-cents pricing; 0 leaves CostCents unset")

	for _, name := range []string{
		"data-dir", "manifest", "control-socket-addr", "httpface-addr", "jwt-secret",
		"module-cache-size", "module-timeout", "redis-url", "amqp-url", "mq-queue", "mq-event-schema",
		"s3-endpoint", "s3-region", "s3-access-key", "s3-secret-key",
		"llm-cents-per-thousand-tokens",
	} {
		viper.BindPFlag(name, serveCmd.Flags().Lookup(name))
	}

	RootCmd.AddCommand(serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".aos")
	}

	viper.SetEnvPrefix("AOS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("aos: using config file:", viper.ConfigFileUsed())
	}
}

func configFromViper() *serverConfig {
	return &serverConfig{
		DataDir:                   viper.GetString("data-dir"),
		ManifestPath:              viper.GetString("manifest"),
		ControlSocketAddr:         viper.GetString("control-socket-addr"),
		HTTPFaceAddr:              viper.GetString("httpface-addr"),
		JWTSecret:                 viper.GetString("jwt-secret"),
		ModuleCacheSize:           viper.GetInt("module-cache-size"),
		ModuleTimeout:             viper.GetDuration("module-timeout"),
		RedisURL:                  viper.GetString("redis-url"),
		AMQPURL:                   viper.GetString("amqp-url"),
		MQQueue:                   viper.GetString("mq-queue"),
		MQEventSchema:             viper.GetString("mq-event-schema"),
		S3Endpoint:                viper.GetString("s3-endpoint"),
		S3Region:                  viper.GetString("s3-region"),
		S3AccessKey:               viper.GetString("s3-access-key"),
		S3SecretKey:               viper.GetString("s3-secret-key"),
		LLMCentsPerThousandTokens: viper.GetInt64("llm-cents-per-thousand-tokens"),
	}
}
