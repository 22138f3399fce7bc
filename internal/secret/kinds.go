package secret

import (
	"fmt"
	"net/url"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/rowjay/secret-vault/internal/vaulterr"
)

// Login is a username/password credential.
type Login struct {
	Header
	Username string
	Password string
	URL      string
}

func NewLogin(name, username, password, site string, now time.Time) (*Login, error) {
	s, err := FromFields(KindLogin, name, map[string]string{"username": username, "password": password, "url": site}, now)
	if err != nil {
		return nil, err
	}
	return s.(*Login), nil
}

func (l *Login) Fields() map[string]string {
	f := map[string]string{"username": l.Username, "password": l.Password}
	if l.URL != "" {
		f["url"] = l.URL
	}
	return f
}

// Note is free-form text.
type Note struct {
	Header
	Text string
}

func NewNote(name, text string, now time.Time) (*Note, error) {
	s, err := FromFields(KindNote, name, map[string]string{"text": text}, now)
	if err != nil {
		return nil, err
	}
	return s.(*Note), nil
}

func (n *Note) Fields() map[string]string { return map[string]string{"text": n.Text} }

// Card is a payment card.
type Card struct {
	Header
	Holder string
	Number string
	Expiry string
	CVV    string
}

func NewCard(name, holder, number, expiry, cvv string, now time.Time) (*Card, error) {
	s, err := FromFields(KindCard, name, map[string]string{"holder": holder, "number": number, "expiry": expiry, "cvv": cvv}, now)
	if err != nil {
		return nil, err
	}
	return s.(*Card), nil
}

func (c *Card) Fields() map[string]string {
	f := map[string]string{"holder": c.Holder, "number": c.Number, "expiry": c.Expiry}
	if c.CVV != "" {
		f["cvv"] = c.CVV
	}
	return f
}

// TOTP holds an otpauth:// key and generates time-based codes from it.
type TOTP struct {
	Header
	key *otp.Key
}

func NewTOTP(name, otpauthURL string, now time.Time) (*TOTP, error) {
	s, err := FromFields(KindTOTP, name, map[string]string{"url": otpauthURL}, now)
	if err != nil {
		return nil, err
	}
	return s.(*TOTP), nil
}

func (t *TOTP) Fields() map[string]string { return map[string]string{"url": t.key.URL()} }

// Issuer and Account come from the otpauth label.
func (t *TOTP) Issuer() string  { return t.key.Issuer() }
func (t *TOTP) Account() string { return t.key.AccountName() }

// Code returns the passcode valid at at.
func (t *TOTP) Code(at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(t.key.Secret(), at, totp.ValidateOpts{
		Period:    uint(t.key.Period()),
		Digits:    t.key.Digits(),
		Algorithm: t.key.Algorithm(),
	})
	if err != nil {
		return "", fmt.Errorf("generate totp code: %w", err)
	}
	return code, nil
}

func parseOTPURL(raw string) (*otp.Key, error) {
	key, err := otp.NewKeyFromURL(raw)
	if err != nil {
		return nil, vaulterr.Invalid("totp url: %v", err)
	}
	if key.Type() != "totp" {
		return nil, vaulterr.Invalid("totp url: type %q is not totp", key.Type())
	}
	if key.Secret() == "" {
		return nil, vaulterr.Invalid("totp url: missing secret")
	}
	u, _ := url.Parse(raw)
	if u != nil && u.Scheme != "otpauth" {
		return nil, vaulterr.Invalid("totp url: scheme %q is not otpauth", u.Scheme)
	}
	return key, nil
}
