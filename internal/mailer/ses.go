package mailer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	appconfig "github.com/touchbase/followup/internal/config"
	"github.com/touchbase/followup/internal/pkg/logger"
)

// SESClient sends through Amazon SES v2. Messages go out as raw MIME so
// the In-Reply-To and References headers survive and replies thread.
type SESClient struct {
	client    *sesv2.Client
	fromEmail string
	log       *logger.Logger
}

// NewSESClient builds the client from static credentials.
func NewSESClient(ctx context.Context, cfg appconfig.SESConfig) (*SESClient, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SESClient{
		client:    sesv2.NewFromConfig(awsCfg),
		fromEmail: cfg.FromEmail,
		log:       logger.With("ses"),
	}, nil
}

// Send delivers one message. The returned thread id is the provider
// message id when starting a thread, or the request's thread id when
// continuing one.
func (c *SESClient) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	raw := BuildRawMessage(c.fromEmail, req)

	out, err := c.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.fromEmail),
		Destination: &sestypes.Destination{
			ToAddresses: []string{req.To},
		},
		Content: &sestypes.EmailContent{
			Raw: &sestypes.RawMessage{Data: []byte(raw)},
		},
	})
	if err != nil {
		return nil, classifySESError(err)
	}

	messageID := aws.ToString(out.MessageId)
	threadID := req.ThreadID
	if threadID == "" {
		threadID = messageID
	}
	c.log.Info("message sent via SES",
		"recipient_email", req.To, "provider_id", messageID)
	return &SendResult{MessageID: messageID, ThreadID: threadID}, nil
}

// BuildRawMessage renders the RFC822 payload for a send request. Shared
// with the Gmail client, which posts the same raw form.
func BuildRawMessage(from string, req SendRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", req.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", req.Subject))
	if req.InReplyTo != "" {
		ref := req.InReplyTo
		if !strings.HasPrefix(ref, "<") {
			ref = "<" + ref + ">"
		}
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", ref)
		fmt.Fprintf(&b, "References: %s\r\n", ref)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(req.HTML)
	return b.String()
}

// credential-class SES/STS error codes; anything else is transient
var sesCredentialCodes = map[string]bool{
	"InvalidClientTokenId":        true,
	"UnrecognizedClientException": true,
	"SignatureDoesNotMatch":       true,
	"AccessDeniedException":       true,
	"AccountSuspendedException":   true,
	"ExpiredToken":                true,
}

func classifySESError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && sesCredentialCodes[apiErr.ErrorCode()] {
		return &CredentialError{Reason: apiErr.ErrorCode(), Err: err}
	}
	return fmt.Errorf("ses send: %w", err)
}
