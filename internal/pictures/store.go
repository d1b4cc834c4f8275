package pictures

import (
	"context"
	"encoding/base64"
	"errors"
)

// ErrNotFound indicates the user has not uploaded a profile picture.
var ErrNotFound = errors.New("profile picture not found")

// Picture is an encoded profile image.
type Picture struct {
	Data        []byte
	ContentType string
}

// Base64 returns the standard base64 encoding of the image bytes.
func (p Picture) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// Store persists one profile picture per username.
type Store interface {
	Save(ctx context.Context, username string, picture Picture) error
	Load(ctx context.Context, username string) (Picture, error)
}
