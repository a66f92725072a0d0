package social

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// StateCodec seals the state carried through a provider round trip.
type StateCodec interface {
	Encode(state *CallbackState) (string, error)
	Decode(token string) (*CallbackState, error)
}

// CallbackState binds a provider callback to the request that started it.
type CallbackState struct {
	Nonce    string `json:"n"`
	Provider string `json:"p"`
	Verifier string `json:"v,omitempty"`
	Redirect string `json:"r,omitempty"`
	IssuedAt int64  `json:"iat"`
	Expires  int64  `json:"exp"`
}

// SealedStateCodec encrypts state with AES-GCM and signs the ciphertext
// with HMAC-SHA256.
type SealedStateCodec struct {
	encryptionKey []byte
	hmacKey       []byte
	ttl           time.Duration
	now           func() time.Time
}

// NewSealedStateCodec creates a codec. encryptionKey must be 16, 24 or 32
// bytes long.
func NewSealedStateCodec(encryptionKey, hmacKey []byte, ttl time.Duration) *SealedStateCodec {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SealedStateCodec{
		encryptionKey: encryptionKey,
		hmacKey:       hmacKey,
		ttl:           ttl,
		now:           time.Now,
	}
}

// Encode fills in the nonce and timestamps and seals the state.
func (c *SealedStateCodec) Encode(state *CallbackState) (string, error) {
	if state == nil {
		return "", ErrInvalidState
	}

	now := c.now()
	if state.Nonce == "" {
		state.Nonce = randomToken(16)
	}
	if state.IssuedAt == 0 {
		state.IssuedAt = now.Unix()
	}
	if state.Expires == 0 {
		state.Expires = now.Add(c.ttl).Unix()
	}

	plaintext, err := json.Marshal(state)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "marshal state")
	}

	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "state nonce")
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(append(c.sign(sealed), sealed...)), nil
}

// Decode verifies, opens and checks the expiry of token.
func (c *SealedStateCodec) Decode(token string) (*CallbackState, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(data) < sha256.Size {
		return nil, ErrInvalidState
	}

	signature, sealed := data[:sha256.Size], data[sha256.Size:]
	if !hmac.Equal(signature, c.sign(sealed)) {
		return nil, ErrInvalidState
	}

	gcm, err := c.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, ErrInvalidState
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidState
	}

	var state CallbackState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil, ErrInvalidState
	}
	if c.now().Unix() > state.Expires {
		return nil, ErrStateExpired
	}
	return &state, nil
}

func (c *SealedStateCodec) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.encryptionKey)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "state cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "state cipher")
	}
	return gcm, nil
}

func (c *SealedStateCodec) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write(data)
	return mac.Sum(nil)
}

func randomToken(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
