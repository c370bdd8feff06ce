package emailsvc

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/ampayon/gradebook/core"
)

const resendTimeout = 30 * time.Second

type resendService struct {
	client     *resend.Client
	from       string
	subjPrefix string
	logger     core.Logger
}

var _ core.EmailService = (*resendService)(nil)

func NewResendService(conf *core.Config, logger core.Logger) core.EmailService {
	return &resendService{
		client:     resend.NewClient(conf.Email.ResendAPIKey),
		from:       conf.DefaultFromEmail.String(),
		subjPrefix: "[" + conf.AppName + "] ",
		logger:     logger,
	}
}

func (svc resendService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		go func() {
			if err := msg.Render(); err != nil {
				svc.logger.Error(fmt.Sprintf("rendering email: %v", err), err)
				return
			}
			if msg.HasRecipients() && (msg.HasContent() || msg.HasAttachments()) {
				svc.send(*msg)
			}
		}()
	}
}

func (svc resendService) prepare(msg core.EmailMessage) *resend.SendEmailRequest {
	req := &resend.SendEmailRequest{
		From:    svc.from,
		To:      addresses(msg.To),
		Cc:      addresses(msg.Cc),
		Bcc:     addresses(msg.Bcc),
		Subject: svc.subjPrefix + msg.Subject,
		Text:    msg.TextContent,
		Html:    msg.HTMLContent,
	}
	for _, at := range msg.Attachments {
		// attachments are kept base64 encoded
		content, err := base64.StdEncoding.DecodeString(at.Content.String())
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("decoding attachment %s", at.Filename), err)
			continue
		}
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Content:     content,
			Filename:    at.Filename,
			ContentType: at.ContentType,
		})
	}
	return req
}

func addresses(addrs []mail.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	res := make([]string, 0, len(addrs))
	for _, a := range addrs {
		res = append(res, a.String())
	}
	return res
}

func (svc resendService) send(msg core.EmailMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), resendTimeout)
	defer cancel()

	sent, err := svc.client.Emails.SendWithContext(ctx, svc.prepare(msg))
	if err != nil {
		svc.logger.Error(fmt.Sprintf("sending email: %v", err), err)
		return
	}
	svc.logger.Debug("email sent", map[string]interface{}{"id": sent.Id, "subject": msg.Subject})
}
