package order

import "strings"

// MenuItem is a fixed catalog entry.
type MenuItem struct {
	Name  string `json:"name"`
	Price Cents  `json:"price"`
}

// Custom stacks cost a base price plus a fee per ingredient.
const (
	CustomBasePrice     Cents = 500
	CustomIngredientFee Cents = 50
)

// DefaultMenu is the orderable board.
var DefaultMenu = []MenuItem{
	{Name: "BURGER", Price: Dollars(15)},
	{Name: "COMBO 5 MIX", Price: Dollars(75)},
	{Name: "COMBO 10 MIX", Price: Dollars(150)},
}

// SecretBoard is shown once the secret menu is revealed. It is decoration:
// secret orders go through custom stacks.
var SecretBoard = []MenuItem{
	{Name: "KERNEL PANIC", Price: 1337},
	{Name: "BLUE SCREEN", Price: 404},
	{Name: "DEAD PIXEL", Price: 0},
	{Name: "SEGFAULT STACK", Price: Dollars(64)},
	{Name: "ROOT ACCESS", Price: Dollars(128)},
}

type Catalog struct {
	items []MenuItem
}

func NewCatalog(items []MenuItem) *Catalog {
	c := &Catalog{items: make([]MenuItem, len(items))}
	copy(c.items, items)
	return c
}

// Lookup matches a spoken item name case-insensitively, ignoring surrounding
// whitespace.
func (c *Catalog) Lookup(name string) (MenuItem, bool) {
	name = strings.TrimSpace(name)
	for _, it := range c.items {
		if strings.EqualFold(it.Name, name) {
			return it, true
		}
	}
	return MenuItem{}, false
}

func (c *Catalog) Items() []MenuItem {
	out := make([]MenuItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Catalog) Names() []string {
	out := make([]string, len(c.items))
	for i, it := range c.items {
		out[i] = it.Name
	}
	return out
}

// CustomPrice is the price of a stack with n ingredients.
func CustomPrice(n int) Cents {
	return CustomBasePrice + Cents(n)*CustomIngredientFee
}
