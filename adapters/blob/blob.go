// Package blob implements AgentOS's blob.put/blob.get effect adapters
// against S3-compatible object storage, narrowed from a general
// bulk-upload/sync surface down to the two fixed effect kinds reserved
// for blob storage.
package blob

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/smartcomputer-ai/agentos/ccbor"
	"github.com/smartcomputer-ai/agentos/effects"
)

const (
	KindPut = "blob.put"
	KindGet = "blob.get"
)

// S3Client is the subset of the AWS S3 SDK this adapter depends on,
// isolated for dependency injection and mocking.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds a real AWS SDK S3 client against an S3-compatible
// endpoint (AWS, MinIO, or any other implementation), using a custom
// endpoint resolver so a non-AWS endpoint can be pointed at directly.
func NewS3Client(ctx context.Context, endpoint, region, accessKey, secretKey string, pathStyle bool) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: endpoint, SigningRegion: region, HostnameImmutable: true}, nil
			})),
	)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) { o.UsePathStyle = pathStyle }), nil
}

// PutParams is blob.put's decoded parameter shape.
type PutParams struct {
	Bucket string `cbor:"bucket"`
	Key    string `cbor:"key"`
	Data   []byte `cbor:"data"`
}

// GetParams is blob.get's decoded parameter shape.
type GetParams struct {
	Bucket string `cbor:"bucket"`
	Key    string `cbor:"key"`
}

// GetReceipt is blob.get's decoded receipt payload shape.
type GetReceipt struct {
	Data []byte `cbor:"data"`
}

// Adapter executes blob.put/blob.get intents against an S3Client.
type Adapter struct {
	Client  S3Client
	Timeout time.Duration
}

// New builds an Adapter over client with a sane default per-call timeout.
func New(client S3Client) *Adapter {
	return &Adapter{Client: client, Timeout: 30 * time.Second}
}

// PutAdapter and GetAdapter expose the two kinds as separate
// adapters.Adapter registrations sharing one Adapter's client, since
// adapters.Registry dispatches by a single fixed Kind per adapter.
type PutAdapter struct{ *Adapter }
type GetAdapter struct{ *Adapter }

func (a PutAdapter) Kind() string { return KindPut }
func (a GetAdapter) Kind() string { return KindGet }

func (a PutAdapter) Dispatch(intent effects.Intent) effects.Receipt {
	var params PutParams
	if err := ccbor.Unmarshal(intent.ParamsCBOR, &params); err != nil {
		return errReceipt(intent, "decode blob.put params: "+err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
	defer cancel()
	_, err := a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(params.Bucket),
		Key:    aws.String(params.Key),
		Body:   bytes.NewReader(params.Data),
	})
	if err != nil {
		return errReceipt(intent, "blob.put: "+err.Error())
	}

	return effects.Receipt{IntentHash: intent.IntentHash, AdapterID: "adapters.blob", Status: effects.StatusOk}
}

func (a GetAdapter) Dispatch(intent effects.Intent) effects.Receipt {
	var params GetParams
	if err := ccbor.Unmarshal(intent.ParamsCBOR, &params); err != nil {
		return errReceipt(intent, "decode blob.get params: "+err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
	defer cancel()
	out, err := a.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(params.Bucket),
		Key:    aws.String(params.Key),
	})
	if err != nil {
		return errReceipt(intent, "blob.get: "+err.Error())
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return errReceipt(intent, "read blob.get body: "+err.Error())
	}

	payload, err := ccbor.Marshal(GetReceipt{Data: data})
	if err != nil {
		return errReceipt(intent, "encode blob.get receipt: "+err.Error())
	}

	return effects.Receipt{IntentHash: intent.IntentHash, AdapterID: "adapters.blob", Status: effects.StatusOk, PayloadCBOR: payload}
}

func errReceipt(intent effects.Intent, msg string) effects.Receipt {
	payload, _ := ccbor.Marshal(map[string]interface{}{"error": msg})
	return effects.Receipt{IntentHash: intent.IntentHash, AdapterID: "adapters.blob", Status: effects.StatusError, PayloadCBOR: payload}
}
