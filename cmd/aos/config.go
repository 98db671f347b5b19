package main

import "time"

// serverConfig bundles the viper-resolved configuration `runServer` acts
// on: one flat struct assembled from flags/env/file, passed down to the
// bootstrap and server layers rather than threading viper itself through
// them.
type serverConfig struct {
	DataDir      string
	ManifestPath string

	ControlSocketAddr string
	HTTPFaceAddr      string
	JWTSecret         string

	ModuleCacheSize int
	ModuleTimeout   time.Duration

	RedisURL      string
	AMQPURL       string
	MQQueue       string
	MQEventSchema string

	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	LLMCentsPerThousandTokens int64
}
