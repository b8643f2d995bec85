package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

type argon2Params struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func (c Config) hashArgon2(password string) (string, error) {
	salt := make([]byte, c.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, c.Time, c.Memory, c.Parallelism, c.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		c.Memory,
		c.Time,
		c.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2(password string, p *argon2Params) bool {
	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.hash)))
	return subtle.ConstantTimeCompare(computed, p.hash) == 1
}

func (c Config) weakerThan(p *argon2Params) bool {
	return c.Memory > p.memory ||
		c.Time > p.time ||
		c.Parallelism > p.parallelism ||
		c.KeyLength != uint32(len(p.hash))
}

func parseArgon2(encoded string) (*argon2Params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrMalformedVerifier
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return nil, ErrMalformedVerifier
	}

	p := &argon2Params{}
	if err := p.parseCosts(parts[3]); err != nil {
		return nil, err
	}

	// Both padded and raw base64 appear in stored PHC strings.
	if p.salt, err = decodePHCBase64(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return nil, ErrMalformedVerifier
	}
	if p.hash, err = decodePHCBase64(parts[5]); err != nil || len(p.hash) < int(minKeyLength) {
		return nil, ErrMalformedVerifier
	}
	return p, nil
}

func (p *argon2Params) parseCosts(part string) error {
	var seen int
	for _, pair := range strings.Split(part, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return ErrMalformedVerifier
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return ErrMalformedVerifier
		}
		switch k {
		case "m":
			if n < uint64(minMemoryKB) {
				return ErrMalformedVerifier
			}
			p.memory = uint32(n)
		case "t":
			if n < uint64(minTimeCost) {
				return ErrMalformedVerifier
			}
			p.time = uint32(n)
		case "p":
			if n < uint64(minParallelism) || n > 255 {
				return ErrMalformedVerifier
			}
			p.parallelism = uint8(n)
		default:
			return ErrMalformedVerifier
		}
		seen++
	}
	if seen != 3 || p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return ErrMalformedVerifier
	}
	return nil
}

func decodePHCBase64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func validateConfig(cfg Config) error {
	if cfg.Memory < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	return nil
}
