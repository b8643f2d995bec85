package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const minPassBytes = 10

var (
	// ErrMalformedVerifier is returned when a stored verifier cannot be parsed.
	ErrMalformedVerifier = errors.New("malformed password verifier")
	// ErrUnsupportedVerifier is returned for verifier formats the Hasher does not accept.
	ErrUnsupportedVerifier = errors.New("unsupported password verifier")
	// ErrPasswordTooShort is returned by Hash for passwords under 10 bytes.
	ErrPasswordTooShort = errors.New("password must be at least 10 bytes")
)

// Config holds the Argon2id parameters for new verifiers.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// AcceptBcrypt allows verification of legacy bcrypt verifiers.
	AcceptBcrypt bool
}

// Result is the outcome of a verification.
type Result struct {
	Match       bool
	NeedsRehash bool
}

// Hasher produces Argon2id verifiers and checks both current and legacy ones.
// It is safe for concurrent use.
type Hasher struct {
	config Config
	dummy  *argon2Params
}

// NewHasher validates cfg and prepares a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	h := &Hasher{config: cfg}
	encoded, err := cfg.hashArgon2("fleetauth-dummy-credential")
	if err != nil {
		return nil, err
	}
	if h.dummy, err = parseArgon2(encoded); err != nil {
		return nil, err
	}
	return h, nil
}

// Hash returns a new Argon2id verifier for password.
// Raw bytes are hashed as given; no Unicode normalization is applied.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPassBytes {
		return "", ErrPasswordTooShort
	}
	return h.config.hashArgon2(password)
}

// Verify checks password against verifier in constant time.
func (h *Hasher) Verify(password, verifier string) (Result, error) {
	switch {
	case strings.HasPrefix(verifier, "$"+algorithmID+"$"):
		p, err := parseArgon2(verifier)
		if err != nil {
			return Result{}, err
		}
		if !verifyArgon2(password, p) {
			return Result{}, nil
		}
		return Result{Match: true, NeedsRehash: h.config.weakerThan(p)}, nil

	case isBcrypt(verifier):
		if !h.config.AcceptBcrypt {
			return Result{}, ErrUnsupportedVerifier
		}
		err := bcrypt.CompareHashAndPassword([]byte(verifier), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return Result{}, nil
		}
		if err != nil {
			return Result{}, ErrMalformedVerifier
		}
		return Result{Match: true, NeedsRehash: true}, nil

	default:
		return Result{}, ErrUnsupportedVerifier
	}
}

// VerifyDummy spends the same work as a real Argon2id verification and always
// fails. Callers use it for unknown accounts so response time does not reveal
// whether an email is registered.
func (h *Hasher) VerifyDummy(password string) {
	_ = verifyArgon2(password, h.dummy)
}

func isBcrypt(verifier string) bool {
	return strings.HasPrefix(verifier, "$2a$") ||
		strings.HasPrefix(verifier, "$2b$") ||
		strings.HasPrefix(verifier, "$2y$")
}
