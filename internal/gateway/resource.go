package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"gaspos/client/internal/domain"
	"gaspos/client/internal/normalize"
)

var errEmptyResponse = errors.New("empty response body")

// Resource is the CRUD client for one entity collection.
type Resource[T any, U any] struct {
	client     *Client
	path       string
	singular   string
	plural     string
	scopeParam string
}

func NewResource[T any, U any](c *Client, path, singular, plural, scopeParam string) *Resource[T, U] {
	return &Resource[T, U]{
		client:     c,
		path:       path,
		singular:   singular,
		plural:     plural,
		scopeParam: scopeParam,
	}
}

func Branches(c *Client) *Resource[domain.Branch, domain.BranchPatch] {
	return NewResource[domain.Branch, domain.BranchPatch](c, "/branches", "branch", "branches", "companyId")
}

func Products(c *Client) *Resource[domain.Product, domain.ProductPatch] {
	return NewResource[domain.Product, domain.ProductPatch](c, "/products", "product", "products", "companyId")
}

func Sales(c *Client) *Resource[domain.Sale, domain.SalePatch] {
	return NewResource[domain.Sale, domain.SalePatch](c, "/sales", "sale", "sales", "branchId")
}

func Users(c *Client) *Resource[domain.User, domain.UserPatch] {
	return NewResource[domain.User, domain.UserPatch](c, "/users", "user", "users", "branchId")
}

func Expenses(c *Client) *Resource[domain.Expense, domain.ExpensePatch] {
	return NewResource[domain.Expense, domain.ExpensePatch](c, "/expenses", "expense", "expenses", "branchId")
}

func (r *Resource[T, U]) Create(ctx context.Context, payload T) (T, error) {
	raw, err := r.client.do(ctx, http.MethodPost, r.path, nil, payload)
	if err != nil {
		var zero T
		return zero, err
	}
	return r.decodeOne(raw)
}

func (r *Resource[T, U]) Update(ctx context.Context, id string, patch U) (T, error) {
	raw, err := r.client.do(ctx, http.MethodPatch, r.path+"/"+url.PathEscape(id), nil, patch)
	if err != nil {
		var zero T
		return zero, err
	}
	return r.decodeOne(raw)
}

func (r *Resource[T, U]) Delete(ctx context.Context, id string) error {
	_, err := r.client.do(ctx, http.MethodDelete, r.path+"/"+url.PathEscape(id), nil, nil)
	return err
}

func (r *Resource[T, U]) List(ctx context.Context) ([]T, error) {
	raw, err := r.client.do(ctx, http.MethodGet, r.path, nil, nil)
	if err != nil {
		return nil, err
	}
	return normalize.DecodeList[T](unwrap(raw, r.plural))
}

func (r *Resource[T, U]) ListByScope(ctx context.Context, scopeID string) ([]T, error) {
	raw, err := r.client.do(ctx, http.MethodGet, r.path, url.Values{r.scopeParam: {scopeID}}, nil)
	if err != nil {
		return nil, err
	}
	return normalize.DecodeList[T](unwrap(raw, r.plural))
}

func (r *Resource[T, U]) decodeOne(raw []byte) (T, error) {
	body := unwrap(raw, r.singular)
	if len(body) == 0 {
		var zero T
		return zero, errEmptyResponse
	}
	return normalize.Decode[T](body)
}
