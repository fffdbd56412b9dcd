// Package mainconfig holds the wiring shared by the binaries under cmd/.
package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/clinic-voice-booking/internal/config"
	"github.com/wolfman30/clinic-voice-booking/internal/notify"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

// AWSEnabled reports whether any AWS-backed component is configured. Local
// runs without one never touch the SDK credential chain.
func AWSEnabled(cfg *appconfig.Config) bool {
	for _, v := range []string{cfg.RecoveryQueueURL, cfg.OutcomeTable, cfg.ArchiveBucket, cfg.SESFromEmail, cfg.BedrockModelID} {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// LoadAWSConfig resolves region and credentials. AWS_ENDPOINT_OVERRIDE points
// every client at one base endpoint, which is how LocalStack runs are wired.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if key, secret := strings.TrimSpace(cfg.AWSAccessKeyID), strings.TrimSpace(cfg.AWSSecretAccessKey); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")))
	}
	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(endpoint))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("mainconfig: load aws config: %w", err)
	}
	return awsCfg, nil
}

// NewS3Client switches to path-style addressing under an endpoint override;
// LocalStack does not serve virtual-hosted buckets.
func NewS3Client(awsCfg aws.Config, cfg *appconfig.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = strings.TrimSpace(cfg.AWSEndpointOverride) != ""
	})
}

// EmailSenders returns the configured providers in delivery order: SES first
// when AWS is available, then SendGrid.
func EmailSenders(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) []notify.Sender {
	var senders []notify.Sender
	if awsCfg != nil {
		from := notify.Mailbox{Address: cfg.SESFromEmail, Name: cfg.SendGridFromName}
		if ses := notify.NewSES(sesv2.NewFromConfig(*awsCfg), from, logger); ses != nil {
			ses.ConfigurationSet = cfg.SESConfigurationSet
			senders = append(senders, ses)
		}
	}
	from := notify.Mailbox{Address: cfg.SendGridFromEmail, Name: cfg.SendGridFromName}
	if sg := notify.NewSendGrid(cfg.SendGridAPIKey, from, logger); sg != nil {
		senders = append(senders, sg)
	}
	return senders
}
