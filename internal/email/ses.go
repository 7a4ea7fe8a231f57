package email

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"LeadPulse/internal/config"
)

type sesBackend struct {
	send func(context.Context, *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

func NewSESBackend(s config.EmailSettings) (Backend, error) {
	var absent []string
	if s.SESRegion == "" {
		absent = append(absent, "region")
	}
	if s.SESAccessKeyID == "" {
		absent = append(absent, "access key id")
	}
	if s.SESSecretAccessKey == "" {
		absent = append(absent, "secret access key")
	}
	if len(absent) > 0 {
		return nil, missing(config.ProviderSES, absent...)
	}

	client := ses.NewFromConfig(aws.Config{
		Region: s.SESRegion,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(s.SESAccessKeyID, s.SESSecretAccessKey, ""),
		),
	})
	return &sesBackend{
		send: func(ctx context.Context, in *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
			return client.SendEmail(ctx, in)
		},
	}, nil
}

func (b *sesBackend) Send(ctx context.Context, from Address, msg Message) (string, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(from.String()),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{},
		},
	}
	if msg.HTML != "" {
		input.Message.Body.Html = &types.Content{
			Data:    aws.String(msg.HTML),
			Charset: aws.String("UTF-8"),
		}
	}
	if msg.Text != "" {
		input.Message.Body.Text = &types.Content{
			Data:    aws.String(msg.Text),
			Charset: aws.String("UTF-8"),
		}
	}

	out, err := b.send(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send error: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
