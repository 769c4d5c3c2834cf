package telephony

import (
	"context"
	"errors"
	"sync"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/config"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/ivr"
	twilio "github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioProvider implements ivr.Provider against the Twilio REST API.
//
// Credential scoping: each channel may carry its own account SID and auth
// token; channels without credentials fall back to the account configured
// for the process. REST clients are cached per account.
type TwilioProvider struct {
	defaults config.TwilioConfig

	mu      sync.Mutex
	clients map[string]*twilio.RestClient
}

func NewTwilioProvider(defaults config.TwilioConfig) *TwilioProvider {
	return &TwilioProvider{
		defaults: defaults,
		clients:  make(map[string]*twilio.RestClient),
	}
}

func (p *TwilioProvider) client(ch ivr.Channel) (*twilio.RestClient, error) {
	sid, token := ch.AccountSID, ch.AuthToken
	if sid == "" {
		sid, token = p.defaults.AccountSID, p.defaults.AuthToken
	}
	if sid == "" || token == "" {
		return nil, errors.New("telephony: no twilio credentials for channel")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[sid]; ok {
		return c, nil
	}
	c := twilio.NewRestClientWithParams(twilio.ClientParams{Username: sid, Password: token})
	p.clients[sid] = c
	return c, nil
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, ch ivr.Channel, to, callbackURL string) (string, error) {
	client, err := p.client(ch)
	if err != nil {
		return "", &ivr.ProviderError{Op: "place", Err: err}
	}

	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(ch.Address)
	params.SetUrl(callbackURL)
	params.SetMethod("POST")
	params.SetStatusCallback(callbackURL)
	params.SetStatusCallbackMethod("POST")

	call, err := client.Api.CreateCall(params)
	if err != nil {
		return "", &ivr.ProviderError{Op: "place", Err: err}
	}
	if call.Sid == nil || *call.Sid == "" {
		return "", &ivr.ProviderError{Op: "place", Err: errors.New("no call sid in response")}
	}
	return *call.Sid, nil
}

func (p *TwilioProvider) Hangup(ctx context.Context, ch ivr.Channel, externalID string) error {
	client, err := p.client(ch)
	if err != nil {
		return &ivr.ProviderError{Op: "hangup", ExternalID: externalID, Err: err}
	}

	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := client.Api.UpdateCall(externalID, params); err != nil {
		return &ivr.ProviderError{Op: "hangup", ExternalID: externalID, Err: err}
	}
	return nil
}

func (p *TwilioProvider) UpdateCallbackURL(ctx context.Context, ch ivr.Channel, externalID, url string) error {
	client, err := p.client(ch)
	if err != nil {
		return &ivr.ProviderError{Op: "update_callback", ExternalID: externalID, Err: err}
	}

	params := &api.UpdateCallParams{}
	params.SetUrl(url)
	params.SetMethod("POST")
	if _, err := client.Api.UpdateCall(externalID, params); err != nil {
		return &ivr.ProviderError{Op: "update_callback", ExternalID: externalID, Err: err}
	}
	return nil
}
