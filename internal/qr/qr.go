// Package qr renders the entry code shown at the park gate. The code carries
// an encrypted, authenticated token so gate devices can trust its contents.
package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"ms-reservation/internal/models"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidToken = errors.New("invalid entry token")

// Payload is what the entry code proves about a reservation.
type Payload struct {
	ReservationID uint64    `json:"id,string"`
	ReservationNo string    `json:"no"`
	VisitDate     string    `json:"date"`
	PartySize     int       `json:"size"`
	IssuedAt      time.Time `json:"iat"`
}

type Generator struct {
	aead cipher.AEAD
	size int
}

func NewGenerator(secret string) (*Generator, error) {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(hashed[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Generator{aead: aead, size: 256}, nil
}

// Token seals the payload of r.
func (g *Generator) Token(r *models.Reservation) (string, error) {
	data, err := json.Marshal(Payload{
		ReservationID: r.ID,
		ReservationNo: r.ReservationNo,
		VisitDate:     r.VisitDate,
		PartySize:     r.PartySize,
		IssuedAt:      time.Now().UTC().Truncate(time.Second),
	})
	if err != nil {
		return "", err
	}

	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := g.aead.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a token produced by Token with the same secret.
func (g *Generator) Decode(token string) (Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	ns := g.aead.NonceSize()
	if len(raw) < ns {
		return Payload{}, fmt.Errorf("%w: too short", ErrInvalidToken)
	}
	data, err := g.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return p, nil
}

// PNG renders the entry code of r.
func (g *Generator) PNG(r *models.Reservation) ([]byte, error) {
	token, err := g.Token(r)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, g.size)
}
