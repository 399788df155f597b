// Package catalog parses the tryouts.yaml file describing the tryout being sold:
// price per player, currency, the promo code allowlist, and the session schedule
// printed in confirmation emails.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPricePerPlayer is used when no catalog file is present (minor units).
const DefaultPricePerPlayer int64 = 3000

var (
	// ErrUnknownPromo is returned for a promo code that is not on the allowlist.
	ErrUnknownPromo = errors.New("unknown promo code")
	// ErrNoPlayers is returned when a quote is requested for zero players.
	ErrNoPlayers = errors.New("at least one player is required")
)

// PromoCode is an allowlisted price override.
type PromoCode struct {
	PricePerPlayer int64  `yaml:"price_per_player"`
	Note           string `yaml:"note"`
}

// Session is one scheduled tryout slot.
type Session struct {
	Label    string `yaml:"label" json:"label"`
	Date     string `yaml:"date" json:"date"`
	Location string `yaml:"location" json:"location"`
}

// Catalog represents a parsed tryouts.yaml file.
type Catalog struct {
	Name           string               `yaml:"name"`
	Currency       string               `yaml:"currency"`
	PricePerPlayer int64                `yaml:"price_per_player"`
	ContactEmail   string               `yaml:"contact_email"`
	PromoCodes     map[string]PromoCode `yaml:"promo_codes"`
	Sessions       []Session            `yaml:"sessions"`
	// GuideURL is the free tryout guide sent to captured leads.
	GuideURL string `yaml:"guide_url"`
}

// Quote is a server-computed amount for a registration.
type Quote struct {
	Players   int
	UnitPrice int64
	Total     int64
	Currency  string
	PromoCode string
}

// Default returns the catalog used when no file is configured.
func Default() *Catalog {
	return &Catalog{
		Name:           "Tryouts",
		Currency:       "cad",
		PricePerPlayer: DefaultPricePerPlayer,
		PromoCodes:     map[string]PromoCode{},
	}
}

// Load reads and parses a catalog file. A missing file yields Default().
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses catalog YAML, applies defaults, and validates it.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	if c.Name == "" {
		c.Name = "Tryouts"
	}
	if c.Currency == "" {
		c.Currency = "cad"
	}
	c.Currency = strings.ToLower(c.Currency)
	if c.PricePerPlayer == 0 {
		c.PricePerPlayer = DefaultPricePerPlayer
	}
	if c.PromoCodes == nil {
		c.PromoCodes = map[string]PromoCode{}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	// Codes are matched case-insensitively.
	normalized := make(map[string]PromoCode, len(c.PromoCodes))
	for code, promo := range c.PromoCodes {
		normalized[strings.ToUpper(strings.TrimSpace(code))] = promo
	}
	c.PromoCodes = normalized
	return &c, nil
}

func (c *Catalog) validate() error {
	if c.PricePerPlayer < 0 {
		return fmt.Errorf("price_per_player must be positive")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency %q must be a 3-letter ISO code", c.Currency)
	}
	for code, promo := range c.PromoCodes {
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("promo code must not be empty")
		}
		if promo.PricePerPlayer <= 0 {
			return fmt.Errorf("promo %q: price_per_player must be positive", code)
		}
		if promo.PricePerPlayer > c.PricePerPlayer {
			return fmt.Errorf("promo %q: price_per_player exceeds base price", code)
		}
	}
	return nil
}

// Quote computes the amount owed for the given player count and promo code.
func (c *Catalog) Quote(players int, promo string) (Quote, error) {
	if players <= 0 {
		return Quote{}, ErrNoPlayers
	}
	unit := c.PricePerPlayer
	code := strings.ToUpper(strings.TrimSpace(promo))
	if code != "" {
		p, ok := c.PromoCodes[code]
		if !ok {
			return Quote{}, fmt.Errorf("%w: %s", ErrUnknownPromo, promo)
		}
		unit = p.PricePerPlayer
	}
	return Quote{
		Players:   players,
		UnitPrice: unit,
		Total:     unit * int64(players),
		Currency:  c.Currency,
		PromoCode: code,
	}, nil
}

// PromoCodeNames returns the allowlisted codes in sorted order.
func (c *Catalog) PromoCodeNames() []string {
	names := make([]string, 0, len(c.PromoCodes))
	for name := range c.PromoCodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
