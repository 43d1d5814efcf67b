// Package service holds the dev server's business rules: validation, the
// sale snapshot, stock bookkeeping, credential hashing and the new-sale
// fan-out to the event broker and the notification feed.
package service

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"gaspos/client/internal/domain"
	"gaspos/client/internal/logger"
	"gaspos/client/internal/store"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Publisher fans sale events out to connected stream clients.
type Publisher interface {
	Publish(event domain.SaleEvent)
}

type Service struct {
	repo   store.Repository
	events Publisher
	logger *zap.Logger

	Branches *Collection[domain.Branch, domain.BranchPatch, *domain.Branch]
	Products *Collection[domain.Product, domain.ProductPatch, *domain.Product]
	Sales    *Collection[domain.Sale, domain.SalePatch, *domain.Sale]
	Users    *Collection[domain.User, domain.UserPatch, *domain.User]
	Expenses *Collection[domain.Expense, domain.ExpensePatch, *domain.Expense]
}

func New(repo store.Repository, events Publisher, log *zap.Logger) *Service {
	s := &Service{
		repo:   repo,
		events: events,
		logger: logger.OrNop(log).Named("service"),
	}

	s.Branches = &Collection[domain.Branch, domain.BranchPatch, *domain.Branch]{
		repo: repo, kind: store.KindBranches, scopeField: "companyId",
		validate: validateBranch,
	}
	s.Products = &Collection[domain.Product, domain.ProductPatch, *domain.Product]{
		repo: repo, kind: store.KindProducts, scopeField: "companyId",
		validate: validateProduct,
	}
	s.Sales = &Collection[domain.Sale, domain.SalePatch, *domain.Sale]{
		repo: repo, kind: store.KindSales, scopeField: "branchId",
		validate:    validateSale,
		beforeWrite: s.prepareSale,
		afterCreate: s.announceSale,
	}
	s.Users = &Collection[domain.User, domain.UserPatch, *domain.User]{
		repo: repo, kind: store.KindUsers, scopeField: "branchId",
		validate:    validateUser,
		beforeWrite: s.prepareUser,
		onPatch: func(u *domain.User, patch domain.UserPatch) {
			if patch.Password != nil {
				u.Password = *patch.Password
			}
		},
		present: func(u *domain.User) { u.Password = "" },
	}
	s.Expenses = &Collection[domain.Expense, domain.ExpensePatch, *domain.Expense]{
		repo: repo, kind: store.KindExpenses, scopeField: "branchId",
		validate:    validateExpense,
		beforeWrite: s.prepareExpense,
	}
	return s
}

func validateBranch(b *domain.Branch) error {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return fmt.Errorf("%w: branch name is required", ErrValidation)
	}
	return nil
}

func validateProduct(p *domain.Product) error {
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: product name is required", ErrValidation)
	case p.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrValidation)
	case p.Quantity < 0:
		return fmt.Errorf("%w: quantity must not be negative", ErrValidation)
	}
	return nil
}

func validateSale(s *domain.Sale) error {
	switch {
	case strings.TrimSpace(s.ProductID) == "":
		return fmt.Errorf("%w: productId is required", ErrValidation)
	case s.Quantity < 1:
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	return nil
}

func validateUser(u *domain.User) error {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = domain.RoleSeller
	}
	switch {
	case u.Name == "":
		return fmt.Errorf("%w: name is required", ErrValidation)
	case u.Role != domain.RoleAdmin && u.Role != domain.RoleSeller:
		return fmt.Errorf("%w: unknown role %q", ErrValidation, u.Role)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if !isPasswordHash(u.Password) && len(u.Password) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", ErrValidation)
	}
	return nil
}

func validateExpense(e *domain.Expense) error {
	e.Description = strings.TrimSpace(e.Description)
	switch {
	case e.Description == "":
		return fmt.Errorf("%w: description is required", ErrValidation)
	case !e.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	return nil
}

// prepareSale fills the product snapshot and seller from the server's view
// when the client did not send them, and books the stock. Snapshots the
// client already took (for example while offline) are kept as sent.
func (s *Service) prepareSale(ctx context.Context, sale *domain.Sale, existing *domain.Sale) error {
	if existing != nil {
		return nil
	}
	productID, err := store.ParseID(sale.ProductID)
	if err != nil {
		return fmt.Errorf("%w: unknown product %s", ErrValidation, sale.ProductID)
	}
	product, err := s.Products.get(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown product %s", ErrValidation, sale.ProductID)
		}
		return err
	}
	if product.Quantity < sale.Quantity {
		return fmt.Errorf("%w: %s has %d left", store.ErrInsufficientStock, product.Name, product.Quantity)
	}

	if sale.ProductName == "" {
		sale.ProductName = product.Name
		sale.ProductAttributes = product.Attributes
	}
	if sale.UnitPrice.IsZero() {
		sale.UnitPrice = product.Price
	}
	if sale.Currency == "" {
		sale.Currency = product.Currency
	}
	sale.TotalPrice = sale.UnitPrice.Mul(decimal.NewFromInt(int64(sale.Quantity)))

	if actor, ok := ActorFromContext(ctx); ok {
		if sale.SellerID == "" {
			sale.SellerID = actor.UserID
		}
		if sale.Seller == nil {
			sale.Seller = &domain.SaleSeller{ID: sale.SellerID, Name: actor.Name}
		}
		if sale.BranchID == "" {
			sale.BranchID = actor.BranchID
		}
	}

	product.Quantity -= sale.Quantity
	if _, err := s.Products.replace(ctx, productID, product); err != nil {
		return fmt.Errorf("book stock: %w", err)
	}
	return nil
}

// announceSale publishes the new_sale event and records the matching
// notification. Both are best-effort.
func (s *Service) announceSale(ctx context.Context, sale domain.Sale) {
	sellerName := ""
	if sale.Seller != nil {
		sellerName = sale.Seller.Name
	}
	if sale.Branch == "" && sale.BranchID != "" {
		if branch, err := s.Branches.Get(ctx, sale.BranchID); err == nil {
			sale.Branch = branch.Name
		}
	}
	event := domain.SaleEvent{
		Type:        domain.EventNewSale,
		SaleID:      domain.FlexString(sale.ID),
		ProductName: sale.ProductName,
		Quantity:    sale.Quantity,
		TotalPrice:  sale.TotalPrice,
		Currency:    sale.Currency,
		SellerName:  sellerName,
		BranchName:  sale.Branch,
		CreatedAt:   sale.CreatedAt,
	}
	if s.events != nil {
		s.events.Publish(event)
	}

	n := domain.Notification{
		Title:   "New sale",
		Message: fmt.Sprintf("%s sold %d x %s", cmp.Or(sellerName, "A seller"), sale.Quantity, sale.ProductName),
		Type:    domain.NotificationTypeNewSale,
		SaleID:  sale.ID,
	}
	if _, err := s.CreateNotification(ctx, n); err != nil {
		s.logger.Warn("record sale notification", zap.String("sale", sale.ID), zap.Error(err))
	}
}

func (s *Service) prepareUser(ctx context.Context, u *domain.User, existing *domain.User) error {
	if existing == nil || !strings.EqualFold(existing.Email, u.Email) {
		if _, err := s.userByEmail(ctx, u.Email); err == nil {
			return fmt.Errorf("%w: email %s is already registered", store.ErrConflict, u.Email)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	if !isPasswordHash(u.Password) {
		hash, err := hashPassword(u.Password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		u.Password = hash
	}
	return nil
}

func (s *Service) prepareExpense(ctx context.Context, e *domain.Expense, existing *domain.Expense) error {
	if existing != nil {
		return nil
	}
	if actor, ok := ActorFromContext(ctx); ok {
		if e.UserID == "" {
			e.UserID = actor.UserID
		}
		if e.BranchID == "" {
			e.BranchID = actor.BranchID
		}
	}
	return nil
}

func (s *Service) userByEmail(ctx context.Context, email string) (domain.User, error) {
	docs, err := s.repo.List(ctx, store.KindUsers, store.Filter{Field: "email", Value: strings.ToLower(strings.TrimSpace(email))})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, store.ErrNotFound
	}
	return decodeDocument[domain.User, *domain.User](docs[0])
}

// Authenticate checks email and password and returns the user without its
// password hash.
func (s *Service) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if !verifyPassword(user.Password, password) {
		return domain.User{}, ErrInvalidCredentials
	}
	user.Password = ""
	return user, nil
}

// EnsureAdmin creates the bootstrap admin account when no user with email
// exists yet. It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	if _, err := s.userByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	_, err := s.Users.Create(ctx, domain.User{Name: "Administrator", Email: email, Password: password, Role: domain.RoleAdmin})
	if err != nil {
		return false, err
	}
	s.logger.Info("seeded admin account", zap.String("email", email))
	return true, nil
}

func (s *Service) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	docs, err := s.repo.List(ctx, store.KindNotifications)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		n, err := decodeNotification(docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	docs, err := s.repo.List(ctx, store.KindNotifications, store.Filter{Field: "read", Value: "false"})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (s *Service) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	n.ID, n.CreatedAt, n.Read = "", "", false
	body, err := json.Marshal(n)
	if err != nil {
		return domain.Notification{}, err
	}
	doc, err := s.repo.Insert(ctx, store.KindNotifications, body)
	if err != nil {
		return domain.Notification{}, err
	}
	return decodeNotification(doc)
}

func (s *Service) MarkNotificationRead(ctx context.Context, rawID string) error {
	id, err := store.ParseID(rawID)
	if err != nil {
		return err
	}
	doc, err := s.repo.Get(ctx, store.KindNotifications, id)
	if err != nil {
		return err
	}
	n, err := decodeNotification(doc)
	if err != nil {
		return err
	}
	if n.Read {
		return nil
	}
	n.Read = true
	return s.replaceNotification(ctx, id, n)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context) error {
	docs, err := s.repo.List(ctx, store.KindNotifications, store.Filter{Field: "read", Value: "false"})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		n, err := decodeNotification(doc)
		if err != nil {
			return err
		}
		n.Read = true
		if err := s.replaceNotification(ctx, doc.ID, n); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) DeleteNotification(ctx context.Context, rawID string) error {
	id, err := store.ParseID(rawID)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, store.KindNotifications, id)
}

func (s *Service) DeleteAllNotifications(ctx context.Context) error {
	_, err := s.repo.DeleteWhere(ctx, store.KindNotifications)
	return err
}

func (s *Service) replaceNotification(ctx context.Context, id int64, n domain.Notification) error {
	n.ID, n.CreatedAt = "", ""
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = s.repo.Replace(ctx, store.KindNotifications, id, body)
	return err
}

func decodeNotification(doc store.Document) (domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal(doc.Body, &n); err != nil {
		return domain.Notification{}, fmt.Errorf("decode notification %d: %w", doc.ID, err)
	}
	n.ID = strconv.FormatInt(doc.ID, 10)
	n.CreatedAt = doc.CreatedAt.UTC().Format(time.RFC3339Nano)
	return n, nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
