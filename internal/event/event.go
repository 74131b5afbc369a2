// internal/event/event.go
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMissingKind reports an envelope without a discriminator. The
	// delivery cannot be dispatched and must be rejected outright.
	ErrMissingKind = errors.New("missing event kind")

	// ErrUnknownKind reports a discriminator outside the recognized set.
	// Unknown kinds are tolerated so that new upstream event types do not
	// break this consumer.
	ErrUnknownKind = errors.New("unknown event kind")
)

// Topics group the recognized kinds the way the upstream bus partitions
// them. Account lifecycle events arrive on the accounts topic; catalog and
// library events arrive on the catalog topic.
const (
	TopicAccounts = "accounts"
	TopicCatalog  = "catalog"
)

// Recognized event kinds.
const (
	KindAccountCreated    = "AccountCreated"
	KindAccountUpdated    = "AccountUpdated"
	KindItemCreated       = "ItemCreated"
	KindItemUpdated       = "ItemUpdated"
	KindAddToLibrary      = "AddToLibrary"
	KindRemoveFromLibrary = "RemoveFromLibrary"
	KindGetLibrary        = "GetLibrary"
)

// Envelope is the outer message wrapper consumed from the bus. Auth is
// carried through untouched; the projection never inspects it.
type Envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
	Auth json.RawMessage `json:"auth,omitempty"`
}

// Payload is the decoded, kind-specific body of an envelope. The set of
// implementations is closed; the router matches it exhaustively.
type Payload interface {
	payload()
}

// AccountCreated announces a new account.
type AccountCreated struct {
	ID       string   `json:"id"`
	FullName string   `json:"fullName"`
	Email    string   `json:"email"`
	Version  int      `json:"version"`
	Roles    []string `json:"roles"`
}

// AccountUpdated carries a new display name for an existing account.
type AccountUpdated struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Version  int    `json:"version"`
}

// ItemCreated announces a new catalog item.
type ItemCreated struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	ImageSrc    string  `json:"imageSrc"`
	Description string  `json:"description"`
	AuthorID    string  `json:"authorId"`
	Version     int     `json:"version"`
}

// ItemUpdated replaces any subset of an item's mutable fields. Nil fields
// are left as they are; Version is mandatory.
type ItemUpdated struct {
	ID          string   `json:"id"`
	Version     int      `json:"version"`
	Title       *string  `json:"title,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	ImageSrc    *string  `json:"imageSrc,omitempty"`
	Description *string  `json:"description,omitempty"`
}

// AddToLibrary puts a catalog item into an account's library.
type AddToLibrary struct {
	UserID string `json:"userId"`
	ItemID string `json:"itemId"`
}

// RemoveFromLibrary takes a catalog item out of an account's library.
type RemoveFromLibrary struct {
	UserID string `json:"userId"`
	ItemID string `json:"itemId"`
}

// GetLibrary requests the current library of an account.
type GetLibrary struct {
	UserID string `json:"userId"`
}

func (*AccountCreated) payload()    {}
func (*AccountUpdated) payload()    {}
func (*ItemCreated) payload()       {}
func (*ItemUpdated) payload()       {}
func (*AddToLibrary) payload()      {}
func (*RemoveFromLibrary) payload() {}
func (*GetLibrary) payload()        {}

// Decode turns an envelope into its typed payload. It returns
// ErrMissingKind for an empty discriminator and ErrUnknownKind for a
// discriminator outside the recognized set.
func Decode(env Envelope) (Payload, error) {
	if env.Kind == "" {
		return nil, ErrMissingKind
	}

	var p Payload
	switch env.Kind {
	case KindAccountCreated:
		p = &AccountCreated{}
	case KindAccountUpdated:
		p = &AccountUpdated{}
	case KindItemCreated:
		p = &ItemCreated{}
	case KindItemUpdated:
		p = &ItemUpdated{}
	case KindAddToLibrary:
		p = &AddToLibrary{}
	case KindRemoveFromLibrary:
		p = &RemoveFromLibrary{}
	case KindGetLibrary:
		p = &GetLibrary{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, env.Kind)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
	}

	return p, nil
}
