package domain

import (
	"maps"

	"github.com/shopspring/decimal"
)

type SyncStatus string

const (
	SyncOnline  SyncStatus = "online"
	SyncOffline SyncStatus = "offline"
	SyncSynced  SyncStatus = "synced"
)

// ServerBacked reports whether a record should be mutated remote-first.
// Legacy records without a status are treated as server-backed.
func (s SyncStatus) ServerBacked() bool {
	return s != SyncOffline
}

// Base carries the fields every synced entity shares. The server or the store
// assigns them; create payloads leave them empty.
type Base struct {
	ID         string     `json:"id,omitempty"`
	CreatedAt  string     `json:"createdAt,omitempty"`
	SyncStatus SyncStatus `json:"syncStatus,omitempty"`
}

func (b *Base) Meta() *Base { return b }

// Entity is implemented by pointers to Branch, Product, Sale, User and Expense.
type Entity interface {
	Meta() *Base
	// Label is the human name used by name lookups.
	Label() string
	// ScopeID is the foreign key used by scoped fetches and lookups.
	ScopeID() string
}

type Branch struct {
	Base
	Name      string `json:"name"`
	Location  string `json:"location,omitempty"`
	CompanyID string `json:"companyId,omitempty"`
}

func (b *Branch) Label() string   { return b.Name }
func (b *Branch) ScopeID() string { return b.CompanyID }

type BranchPatch struct {
	Name      *string `json:"name,omitempty"`
	Location  *string `json:"location,omitempty"`
	CompanyID *string `json:"companyId,omitempty"`
}

func (p BranchPatch) Apply(b *Branch) {
	setString(&b.Name, p.Name)
	setString(&b.Location, p.Location)
	setString(&b.CompanyID, p.CompanyID)
}

type Product struct {
	Base
	Name       string            `json:"name"`
	CompanyID  string            `json:"companyId,omitempty"`
	Price      decimal.Decimal   `json:"price"`
	Currency   string            `json:"currency,omitempty"`
	Quantity   int               `json:"quantity"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ImageURL   string            `json:"imageUrl,omitempty"`
}

func (p *Product) Label() string   { return p.Name }
func (p *Product) ScopeID() string { return p.CompanyID }

type ProductPatch struct {
	Name       *string           `json:"name,omitempty"`
	Price      *decimal.Decimal  `json:"price,omitempty"`
	Currency   *string           `json:"currency,omitempty"`
	Quantity   *int              `json:"quantity,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ImageURL   *string           `json:"imageUrl,omitempty"`
}

func (p ProductPatch) Apply(prod *Product) {
	setString(&prod.Name, p.Name)
	setString(&prod.Currency, p.Currency)
	setString(&prod.ImageURL, p.ImageURL)
	if p.Price != nil {
		prod.Price = *p.Price
	}
	if p.Quantity != nil {
		prod.Quantity = *p.Quantity
	}
	if p.Attributes != nil {
		prod.Attributes = maps.Clone(p.Attributes)
	}
}

type SaleSeller struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Sale snapshots the product's name, attributes and price at creation time.
// Later product edits never flow into an existing sale.
type Sale struct {
	Base
	ProductID         string            `json:"productId"`
	ProductName       string            `json:"productName"`
	ProductAttributes map[string]string `json:"productAttributes,omitempty"`
	Quantity          int               `json:"quantity"`
	UnitPrice         decimal.Decimal   `json:"unitPrice"`
	TotalPrice        decimal.Decimal   `json:"totalPrice"`
	Currency          string            `json:"currency,omitempty"`
	SellerID          string            `json:"sellerId,omitempty"`
	Seller            *SaleSeller       `json:"seller,omitempty"`
	BranchID          string            `json:"branchId,omitempty"`
	Branch            string            `json:"branch,omitempty"`
}

func (s *Sale) Label() string   { return s.ProductName }
func (s *Sale) ScopeID() string { return s.BranchID }

// NewSale builds a sale of qty units of product, snapshotting the product
// fields that must stay stable for the historical record.
func NewSale(product Product, qty int, seller SaleSeller, branchID, branchName string) Sale {
	return Sale{
		ProductID:         product.ID,
		ProductName:       product.Name,
		ProductAttributes: maps.Clone(product.Attributes),
		Quantity:          qty,
		UnitPrice:         product.Price,
		TotalPrice:        product.Price.Mul(decimal.NewFromInt(int64(qty))),
		Currency:          product.Currency,
		SellerID:          seller.ID,
		Seller:            &seller,
		BranchID:          branchID,
		Branch:            branchName,
	}
}

// SalePatch only touches quantity and price; the product snapshot is immutable.
type SalePatch struct {
	Quantity  *int             `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unitPrice,omitempty"`
}

func (p SalePatch) Apply(s *Sale) {
	if p.Quantity != nil {
		s.Quantity = *p.Quantity
	}
	if p.UnitPrice != nil {
		s.UnitPrice = *p.UnitPrice
	}
	if p.Quantity != nil || p.UnitPrice != nil {
		s.TotalPrice = s.UnitPrice.Mul(decimal.NewFromInt(int64(s.Quantity)))
	}
}

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)

type User struct {
	Base
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role"`
	BranchID  string `json:"branchId,omitempty"`
	Branch    string `json:"branch,omitempty"`
	CompanyID string `json:"companyId,omitempty"`
	// Password is only sent on create and never kept in the cache.
	Password string `json:"password,omitempty"`
}

func (u *User) Label() string   { return u.Name }
func (u *User) ScopeID() string { return u.BranchID }

type UserPatch struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Role     *string `json:"role,omitempty"`
	BranchID *string `json:"branchId,omitempty"`
	Branch   *string `json:"branch,omitempty"`
	Password *string `json:"password,omitempty"`
}

func (p UserPatch) Apply(u *User) {
	setString(&u.Name, p.Name)
	setString(&u.Email, p.Email)
	setString(&u.Phone, p.Phone)
	setString(&u.Role, p.Role)
	setString(&u.BranchID, p.BranchID)
	setString(&u.Branch, p.Branch)
}

type Expense struct {
	Base
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	BranchID    string          `json:"branchId,omitempty"`
}

func (e *Expense) Label() string   { return e.Description }
func (e *Expense) ScopeID() string { return e.BranchID }

type ExpensePatch struct {
	Description *string          `json:"description,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Currency    *string          `json:"currency,omitempty"`
}

func (p ExpensePatch) Apply(e *Expense) {
	setString(&e.Description, p.Description)
	setString(&e.Category, p.Category)
	setString(&e.Currency, p.Currency)
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
}

const NotificationTypeNewSale = "new_sale"

type Notification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      string `json:"type,omitempty"`
	SaleID    string `json:"saleId,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
