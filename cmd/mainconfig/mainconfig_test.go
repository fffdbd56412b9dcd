package mainconfig

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/clinic-voice-booking/internal/config"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

func TestAWSEnabled(t *testing.T) {
	assert.False(t, AWSEnabled(&appconfig.Config{AWSRegion: "ap-south-1"}))
	assert.True(t, AWSEnabled(&appconfig.Config{OutcomeTable: "call-outcomes"}))
	assert.True(t, AWSEnabled(&appconfig.Config{BedrockModelID: "anthropic.claude-3-haiku"}))
}

func TestLoadAWSConfigEndpointOverride(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "ap-south-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", awsCfg.Region)
	assert.Equal(t, "http://localhost:4566", aws.ToString(awsCfg.BaseEndpoint))

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)

	assert.True(t, NewS3Client(awsCfg, cfg).Options().UsePathStyle)
}

func TestEmailSendersOrder(t *testing.T) {
	logger := logging.Discard()
	cfg := &appconfig.Config{
		SESFromEmail:      "desk@clinic.test",
		SendGridAPIKey:    "sg-key",
		SendGridFromEmail: "desk@clinic.test",
	}

	assert.Empty(t, EmailSenders(&appconfig.Config{}, nil, logger))

	withoutAWS := EmailSenders(cfg, nil, logger)
	require.Len(t, withoutAWS, 1)
	assert.Equal(t, "sendgrid", withoutAWS[0].Name())

	awsCfg := aws.Config{Region: "ap-south-1"}
	both := EmailSenders(cfg, &awsCfg, logger)
	require.Len(t, both, 2)
	assert.Equal(t, "ses", both[0].Name())
	assert.Equal(t, "sendgrid", both[1].Name())
}
