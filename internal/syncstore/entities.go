package syncstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"gaspos/client/internal/domain"
)

var ErrInvalidQuantity = errors.New("quantity must be positive")

type Branches struct {
	*Store[domain.Branch, domain.BranchPatch, *domain.Branch]
}

func NewBranches(remote Remote[domain.Branch, domain.BranchPatch], opts Options) *Branches {
	return &Branches{New[domain.Branch, domain.BranchPatch, *domain.Branch]("branch", remote, opts)}
}

func (b *Branches) GetByCompany(companyID string) []domain.Branch {
	return b.GetByScope(companyID)
}

type Products struct {
	*Store[domain.Product, domain.ProductPatch, *domain.Product]
}

func NewProducts(remote Remote[domain.Product, domain.ProductPatch], opts Options) *Products {
	return &Products{New[domain.Product, domain.ProductPatch, *domain.Product]("product", remote, opts)}
}

func (p *Products) GetByCompany(companyID string) []domain.Product {
	return p.GetByScope(companyID)
}

// LowStock lists products with at most threshold units left.
func (p *Products) LowStock(threshold int) []domain.Product {
	return p.Filter(func(prod *domain.Product) bool { return prod.Quantity <= threshold })
}

type Sales struct {
	*Store[domain.Sale, domain.SalePatch, *domain.Sale]
}

func NewSales(remote Remote[domain.Sale, domain.SalePatch], opts Options) *Sales {
	return &Sales{New[domain.Sale, domain.SalePatch, *domain.Sale]("sale", remote, opts)}
}

// RecordSale snapshots product into a new sale and adds it.
func (s *Sales) RecordSale(ctx context.Context, product domain.Product, qty int, seller domain.SaleSeller, branchID, branchName string, mode Mode) (domain.Sale, error) {
	if qty <= 0 {
		return domain.Sale{}, fmt.Errorf("record sale of %s: %w", product.Name, ErrInvalidQuantity)
	}
	return s.Add(ctx, domain.NewSale(product, qty, seller, branchID, branchName), mode)
}

func (s *Sales) GetByBranch(branchID string) []domain.Sale {
	return s.GetByScope(branchID)
}

func (s *Sales) GetBySeller(sellerID string) []domain.Sale {
	return s.Filter(func(sale *domain.Sale) bool {
		if sale.SellerID != "" {
			return sale.SellerID == sellerID
		}
		return sale.Seller != nil && sale.Seller.ID == sellerID
	})
}

// TotalForBranch sums the total price of every cached sale of branchID.
func (s *Sales) TotalForBranch(branchID string) decimal.Decimal {
	total := decimal.Zero
	for _, sale := range s.GetByBranch(branchID) {
		total = total.Add(sale.TotalPrice)
	}
	return total
}

type Users struct {
	*Store[domain.User, domain.UserPatch, *domain.User]
}

// NewUsers builds the user store. Passwords are kept only on records still
// waiting for their first sync; server-backed users never carry one.
func NewUsers(remote Remote[domain.User, domain.UserPatch], opts Options) *Users {
	store := New[domain.User, domain.UserPatch, *domain.User]("user", remote, opts)
	store.scrub = func(u *domain.User) { u.Password = "" }
	return &Users{store}
}

func (u *Users) GetByBranch(branchID string) []domain.User {
	return u.GetByScope(branchID)
}

func (u *Users) GetByEmail(email string) (domain.User, bool) {
	for _, user := range u.Filter(func(user *domain.User) bool { return user.Email == email }) {
		return user, true
	}
	return domain.User{}, false
}

type Expenses struct {
	*Store[domain.Expense, domain.ExpensePatch, *domain.Expense]
}

func NewExpenses(remote Remote[domain.Expense, domain.ExpensePatch], opts Options) *Expenses {
	return &Expenses{New[domain.Expense, domain.ExpensePatch, *domain.Expense]("expense", remote, opts)}
}

func (e *Expenses) GetByBranch(branchID string) []domain.Expense {
	return e.GetByScope(branchID)
}

func (e *Expenses) GetByUser(userID string) []domain.Expense {
	return e.Filter(func(exp *domain.Expense) bool { return exp.UserID == userID })
}

func (e *Expenses) TotalForBranch(branchID string) decimal.Decimal {
	total := decimal.Zero
	for _, exp := range e.GetByBranch(branchID) {
		total = total.Add(exp.Amount)
	}
	return total
}
