package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/otpgate/backend/internal/config"
	"github.com/otpgate/backend/internal/dispatch"
)

// SMSService delivers OTP messages via Twilio. It implements dispatch.Sender
// for the sms queue.
type SMSService struct {
	client *twilio.RestClient
	from   string
}

func NewSMSService(cfg *config.Config) (*SMSService, error) {
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioSMSFrom == "" {
		return nil, errors.New("missing Twilio credentials")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})

	return &SMSService{
		client: client,
		from:   cfg.TwilioSMSFrom,
	}, nil
}

// Send delivers one SMS job.
func (s *SMSService) Send(ctx context.Context, job dispatch.Job) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(s.from)
	params.SetTo(job.Destination)
	params.SetBody(job.Message)

	_, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send SMS to %s: %w", job.Destination, err)
	}
	return nil
}
