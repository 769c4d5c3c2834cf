package telephony

import (
	"errors"
	"net/http"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/ivr"
	twclient "github.com/twilio/twilio-go/client"
)

// ErrInvalidSignature means the callback could not be proven to come from
// the provider. Requests carrying it are rejected before any record is
// touched.
var ErrInvalidSignature = errors.New("telephony: invalid request signature")

const signatureHeader = "X-Twilio-Signature"

// Validator authenticates inbound webhook requests.
//
// The canonical URL it verifies is built from the configured public
// scheme and host plus the request path, because that is exactly the URL
// handed to the provider at origination time. TLS termination and proxies
// mean the URL as seen by this process is not the URL the provider
// signed; reconstructing it from anything request-derived is the classic
// failure mode.
type Validator struct {
	scheme string
	host   string
}

func NewValidator(scheme, host string) *Validator {
	return &Validator{scheme: scheme, host: host}
}

// CanonicalURL returns the externally visible URL for r, query included.
func (v *Validator) CanonicalURL(r *http.Request) string {
	return v.scheme + "://" + v.host + r.URL.RequestURI()
}

// Validate checks the signature header of r against the channel's shared
// secret. The secret is per channel: multi-tenant correctness forbids a
// global one. Fail closed: any doubt is invalid.
func (v *Validator) Validate(r *http.Request, ch ivr.Channel) error {
	token := ch.AuthToken
	if token == "" {
		return ErrInvalidSignature
	}

	if err := r.ParseForm(); err != nil {
		return ErrInvalidSignature
	}
	params := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}

	rv := twclient.NewRequestValidator(token)
	if !rv.Validate(v.CanonicalURL(r), params, r.Header.Get(signatureHeader)) {
		return ErrInvalidSignature
	}
	return nil
}
