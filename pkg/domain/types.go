package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type UserType string

const (
	UserTypeLibrarian UserType = "librarian"
	UserTypeCustomer  UserType = "customer"
)

// ParseUserType maps a request value to a UserType. Empty input selects the
// customer default.
func ParseUserType(raw string) (UserType, bool) {
	switch UserType(raw) {
	case "", UserTypeCustomer:
		return UserTypeCustomer, true
	case UserTypeLibrarian:
		return UserTypeLibrarian, true
	default:
		return "", false
	}
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Book struct {
	ID            int64           `json:"id"`
	Title         string          `json:"title"`
	Author        string          `json:"author"`
	ISBN          string          `json:"isbn"`
	Price         decimal.Decimal `json:"price"`
	CoverImageURL *string         `json:"cover_image_url"`
	TimesIssued   int64           `json:"times_issued"`
	CreatedAt     time.Time       `json:"-"`
	UpdatedAt     time.Time       `json:"-"`
}

// UserProfile holds the role and the per-user book lists.
// SavedBooks never contains duplicates; CartItems holds one entry per unit.
type UserProfile struct {
	ID         int64
	UserID     int64
	UserType   UserType
	SavedBooks []int64
	CartItems  []int64
	UpdatedAt  time.Time
}

// NewProfile returns an empty profile for userID.
func NewProfile(userID int64, userType UserType) UserProfile {
	if userType == "" {
		userType = UserTypeCustomer
	}
	return UserProfile{
		UserID:     userID,
		UserType:   userType,
		SavedBooks: []int64{},
		CartItems:  []int64{},
	}
}

func (p UserProfile) IsLibrarian() bool {
	return p.UserType == UserTypeLibrarian
}

// HasSaved reports whether bookID is in the saved list.
func (p UserProfile) HasSaved(bookID int64) bool {
	return slices.Contains(p.SavedBooks, bookID)
}

// SaveBook appends bookID to the saved list. It returns false and leaves the
// list untouched when the book is already saved.
func (p *UserProfile) SaveBook(bookID int64) bool {
	if p.HasSaved(bookID) {
		return false
	}
	p.SavedBooks = append(p.SavedBooks, bookID)
	return true
}

// InCart reports whether at least one unit of bookID is in the cart.
func (p UserProfile) InCart(bookID int64) bool {
	return slices.Contains(p.CartItems, bookID)
}

// AddToCart appends one unit of bookID.
func (p *UserProfile) AddToCart(bookID int64) {
	p.CartItems = append(p.CartItems, bookID)
}

// RemoveFromCart drops the first occurrence of bookID.
func (p *UserProfile) RemoveFromCart(bookID int64) bool {
	idx := slices.Index(p.CartItems, bookID)
	if idx < 0 {
		return false
	}
	p.CartItems = slices.Delete(p.CartItems, idx, idx+1)
	return true
}

// MissingFromCart returns the requested ids that have no unit in the cart,
// in request order.
func (p UserProfile) MissingFromCart(bookIDs []int64) []int64 {
	missing := make([]int64, 0)
	for _, id := range bookIDs {
		if !p.InCart(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

// Clone returns a deep copy of the profile.
func (p UserProfile) Clone() UserProfile {
	p.SavedBooks = slices.Clone(p.SavedBooks)
	p.CartItems = slices.Clone(p.CartItems)
	return p
}

// IssuedBook is one line of a bill.
type IssuedBook struct {
	Title  string
	Author string
	Price  decimal.Decimal
}

// BillSummary describes a completed checkout.
type BillSummary struct {
	TotalBooksIssued int
	TotalAmount      decimal.Decimal
	IssueDate        time.Time
	ReturnDate       time.Time
	BooksIssued      []IssuedBook
}
