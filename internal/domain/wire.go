package domain

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Actor is the authenticated caller on the dev server.
type Actor struct {
	UserID   string
	Email    string
	Name     string
	Role     string
	BranchID string
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}

const (
	EventConnected = "connected"
	EventNewSale   = "new_sale"
)

// SaleEvent is one payload from the sales event stream.
type SaleEvent struct {
	Type        string          `json:"type"`
	SaleID      FlexString      `json:"saleId,omitempty"`
	ProductName string          `json:"productName,omitempty"`
	Quantity    int             `json:"quantity,omitempty"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
	Currency    string          `json:"currency,omitempty"`
	SellerName  string          `json:"sellerName,omitempty"`
	BranchName  string          `json:"branchName,omitempty"`
	CreatedAt   string          `json:"createdAt,omitempty"`
}

// FlexString accepts both JSON strings and numbers.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(strings.TrimSpace(n.String()))
	return nil
}

func (f FlexString) String() string { return string(f) }
