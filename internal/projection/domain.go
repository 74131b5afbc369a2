// internal/projection/domain.go
package projection

// Account is the projected state of one account. Version covers the
// account's own fields; Library is an independently mutated sub-state and
// never bumps Version.
type Account struct {
	ID       string         `json:"id"`
	FullName string         `json:"fullName"`
	Email    string         `json:"email"`
	Version  int            `json:"version"`
	Active   bool           `json:"active"`
	Roles    []string       `json:"roles,omitempty"`
	Library  []LibraryEntry `json:"library"`
}

// Item is the projected state of one catalog item.
type Item struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	ImageSrc    string  `json:"imageSrc"`
	Description string  `json:"description"`
	AuthorID    string  `json:"authorId"`
	Version     int     `json:"version"`
}

// LibraryEntry records that one account holds one catalog item.
// Membership is keyed by ItemID alone; Item is attached on read when the
// catalog knows the id and stays nil until the ItemCreated event lands.
type LibraryEntry struct {
	ItemID string `json:"itemId"`
	Item   *Item  `json:"item,omitempty"`
}

// Clone returns a deep copy safe to hand across the store boundary.
func (a *Account) Clone() *Account {
	c := *a
	if a.Roles != nil {
		c.Roles = append([]string(nil), a.Roles...)
	}
	if a.Library != nil {
		c.Library = make([]LibraryEntry, len(a.Library))
		for i, e := range a.Library {
			c.Library[i] = e
			if e.Item != nil {
				item := *e.Item
				c.Library[i].Item = &item
			}
		}
	}
	return &c
}

// Clone returns a copy safe to hand across the store boundary.
func (i *Item) Clone() *Item {
	c := *i
	return &c
}
