package identifier

import "github.com/google/uuid"

// Provider issues unique row identifiers.
type Provider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers.
func NewUUIDProvider() *Provider {
	return &Provider{}
}

// NewID returns a fresh UUIDv7 string.
func (p *Provider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
