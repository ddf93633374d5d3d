package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/pitch/pkg/domain"
	"github.com/aretw0/pitch/pkg/ports"
)

const (
	// bodyPrefix marks an encrypted message body.
	bodyPrefix = "enc:v1:"
	// envelopeKey holds the ciphertext of an encrypted visit state.
	envelopeKey = "__encrypted__"
)

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	ports.VisitStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts message bodies
// and visit state using AES-GCM. Users and node names stay readable so the
// wake sweep and admin views keep working.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.VisitStore) ports.VisitStore {
		return &encryptionMiddleware{VisitStore: next, config: config}
	}
}

func (m *encryptionMiddleware) AppendMessage(ctx context.Context, msg *domain.Message) error {
	ciphertext, err := encrypt([]byte(msg.Body), m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt message: %w", err)
	}

	sealed := *msg
	sealed.Body = bodyPrefix + base64.StdEncoding.EncodeToString(ciphertext)
	if err := m.VisitStore.AppendMessage(ctx, &sealed); err != nil {
		return err
	}
	msg.ID = sealed.ID
	msg.CreatedAt = sealed.CreatedAt
	return nil
}

func (m *encryptionMiddleware) CreateVisit(ctx context.Context, visit *domain.Visit) error {
	sealed, err := m.seal(visit)
	if err != nil {
		return err
	}
	if err := m.VisitStore.CreateVisit(ctx, sealed); err != nil {
		return err
	}
	copyStamps(visit, sealed)
	return nil
}

func (m *encryptionMiddleware) UpdateVisit(ctx context.Context, visit *domain.Visit) error {
	sealed, err := m.seal(visit)
	if err != nil {
		return err
	}
	if err := m.VisitStore.UpdateVisit(ctx, sealed); err != nil {
		return err
	}
	copyStamps(visit, sealed)
	return nil
}

func (m *encryptionMiddleware) LatestVisit(ctx context.Context, userID string) (*domain.Visit, error) {
	v, err := m.VisitStore.LatestVisit(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.open(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (m *encryptionMiddleware) History(ctx context.Context, identity string) (*domain.History, error) {
	h, err := m.VisitStore.History(ctx, identity)
	if err != nil {
		return nil, err
	}
	for i := range h.Visits {
		if err := m.open(&h.Visits[i]); err != nil {
			return nil, err
		}
	}
	for i := range h.Messages {
		body, err := m.openBody(h.Messages[i].Body)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", h.Messages[i].ID, err)
		}
		h.Messages[i].Body = body
	}
	return h, nil
}

// seal returns a copy of the visit whose state is an opaque envelope.
func (m *encryptionMiddleware) seal(visit *domain.Visit) (*domain.Visit, error) {
	sealed := *visit
	if len(visit.State) == 0 {
		return &sealed, nil
	}

	plainText, err := json.Marshal(visit.State)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt state: %w", err)
	}
	sealed.State = domain.AppState{envelopeKey: base64.StdEncoding.EncodeToString(ciphertext)}
	return &sealed, nil
}

func (m *encryptionMiddleware) open(visit *domain.Visit) error {
	if len(visit.State) == 0 {
		return nil
	}
	encryptedStr, ok := visit.State[envelopeKey].(string)
	if !ok {
		// Fail secure: a configured store only holds encrypted state.
		return errors.New("state is missing encrypted data envelope")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return fmt.Errorf("failed to decrypt state: %w", err)
	}

	var state domain.AppState
	if err := json.Unmarshal(plainText, &state); err != nil {
		return fmt.Errorf("failed to unmarshal decrypted state: %w", err)
	}
	visit.State = state
	return nil
}

// openBody decrypts a message body. Bodies written before encryption was
// enabled have no prefix and are returned as is.
func (m *encryptionMiddleware) openBody(body string) (string, error) {
	encoded, ok := strings.CutPrefix(body, bodyPrefix)
	if !ok {
		return body, nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt message: %w", err)
	}
	return string(plainText), nil
}

// copyStamps carries store-assigned fields back to the caller's visit.
func copyStamps(dst, src *domain.Visit) {
	dst.ID = src.ID
	dst.Seq = src.Seq
	dst.CreatedAt = src.CreatedAt
	dst.UpdatedAt = src.UpdatedAt
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
