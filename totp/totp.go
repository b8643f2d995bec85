package totp

import (
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const secretSize = 20

var (
	// ErrEmptySecret is returned when verification is attempted without an enrolled secret.
	ErrEmptySecret = errors.New("totp secret not enrolled")
	// ErrInvalidAccountName is returned for labels the otpauth format cannot carry.
	ErrInvalidAccountName = errors.New("totp account name invalid")
)

// Config holds the verifier parameters.
type Config struct {
	Issuer string
	Period uint
	Skew   uint
}

// Verifier generates secrets and checks codes.
type Verifier struct {
	config Config
}

// NewVerifier returns a Verifier. Zero Period defaults to 30 seconds.
func NewVerifier(cfg Config) *Verifier {
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	return &Verifier{config: cfg}
}

// Enrollment is a freshly provisioned secret and its otpauth URI.
type Enrollment struct {
	Secret string
	URI    string
}

// Generate provisions a new random secret for accountName.
func (v *Verifier) Generate(accountName string) (Enrollment, error) {
	return v.enroll(accountName, nil)
}

// URI rebuilds the otpauth URI of an existing base32 secret.
func (v *Verifier) URI(accountName, secret string) (string, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	e, err := v.enroll(accountName, raw)
	if err != nil {
		return "", err
	}
	return e.URI, nil
}

func (v *Verifier) enroll(accountName string, secret []byte) (Enrollment, error) {
	if strings.TrimSpace(accountName) == "" || strings.Contains(accountName, ":") {
		return Enrollment{}, ErrInvalidAccountName
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.config.Issuer,
		AccountName: accountName,
		Period:      v.config.Period,
		SecretSize:  secretSize,
		Secret:      secret,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Enrollment{}, err
	}
	return Enrollment{Secret: key.Secret(), URI: key.URL()}, nil
}

// Validate reports whether code is valid for secret at now, accepting the
// current step and Skew steps on either side.
func (v *Verifier) Validate(code, secret string, now time.Time) (bool, error) {
	if secret == "" {
		return false, ErrEmptySecret
	}

	code = strings.TrimSpace(code)
	if len(code) != otp.DigitsSix.Length() || !isDigits(code) {
		return false, nil
	}

	return totp.ValidateCustom(code, secret, now.UTC(), totp.ValidateOpts{
		Period:    v.config.Period,
		Skew:      v.config.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// Code returns the code for secret at t. Used by tooling and tests.
func (v *Verifier) Code(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), totp.ValidateOpts{
		Period:    v.config.Period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.ToUpper(strings.TrimSpace(secret))
	if i := strings.IndexByte(secret, '='); i >= 0 {
		secret = secret[:i]
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil || len(raw) == 0 {
		return nil, ErrEmptySecret
	}
	return raw, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
