package secrets

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTTLDays    = 30
	DefaultSecretName = "my_secret"
	DefaultSeed       = "user_123"

	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// User is a registered network identity.
type User struct {
	ID            int64
	NillionUserID string
}

// App is a namespace owning its own table of store records.
type App struct {
	ID    int64
	AppID uuid.UUID
}

// StoreRecord is the local bookkeeping row for one stored secret.
type StoreRecord struct {
	ID            int64
	NillionUserID string
	StoreID       string
	SecretName    string
	CreatedAt     time.Time
	TTLExpiresAt  time.Time
}

// Page selects a slice of a listing. Pages are 1-based.
type Page struct {
	Number int
	Size   int
}

// NewPage clamps out of range values to the defaults.
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}

	if size < 1 {
		size = DefaultPageSize
	}

	if size > MaxPageSize {
		size = MaxPageSize
	}

	return Page{Number: number, Size: size}
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// ParseAppID parses an app identifier. Anything that is not a UUID cannot
// name a registered app.
func ParseAppID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrAppNotFound
	}

	return id, nil
}
