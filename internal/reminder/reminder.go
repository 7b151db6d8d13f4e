// Package reminder builds payment reminder messages and the messaging app
// deep link that carries them.
package reminder

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"bizledger/internal/money"
)

var (
	ErrNoPhone        = errors.New("party has no phone number")
	ErrNothingDue     = errors.New("party owes nothing")
	ErrAppUnavailable = errors.New("messaging app not available")
)

const DefaultScheme = "whatsapp"

const template = "Hello %s, this is a friendly reminder from %s that %s is pending on your account. Kindly clear it at the earliest. Thank you!"

type Request struct {
	PartyName string
	Phone     string
	// Amount is the party's balance in paise. Only its magnitude is shown.
	Amount    int64
	OwnerName string
}

type Link struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
	URI     string `json:"uri"`
}

// Builder formats reminders for one messaging scheme.
type Builder struct {
	Scheme      string
	CountryCode string
}

func NewBuilder(scheme, countryCode string) Builder {
	if scheme == "" {
		scheme = DefaultScheme
	}
	return Builder{Scheme: scheme, CountryCode: countryCode}
}

func Message(req Request) string {
	owner := strings.TrimSpace(req.OwnerName)
	if owner == "" {
		owner = "us"
	}
	return fmt.Sprintf(template, strings.TrimSpace(req.PartyName), owner, money.Display(req.Amount))
}

// Build returns the reminder text and a scheme://send?phone=...&text=... URI.
func (b Builder) Build(req Request) (Link, error) {
	if req.Amount == 0 {
		return Link{}, ErrNothingDue
	}
	phone := b.normalizePhone(req.Phone)
	if phone == "" {
		return Link{}, ErrNoPhone
	}
	text := Message(req)
	query := url.Values{}
	query.Set("phone", phone)
	query.Set("text", text)
	uri := url.URL{Scheme: b.Scheme, Host: "send", RawQuery: strings.ReplaceAll(query.Encode(), "+", "%20")}
	return Link{Phone: phone, Message: text, URI: uri.String()}, nil
}

// normalizePhone keeps digits only and prefixes the country code onto bare
// ten digit numbers.
func (b Builder) normalizePhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	phone := strings.TrimLeft(digits.String(), "0")
	if len(phone) == 10 && b.CountryCode != "" {
		phone = b.CountryCode + phone
	}
	if len(phone) < 6 {
		return ""
	}
	return phone
}
