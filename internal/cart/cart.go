package cart

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPrice    = errors.New("cart: price must not be negative")
	ErrInvalidDiscount = errors.New("cart: discount must not be negative")
	ErrInvalidTaxRate  = errors.New("cart: tax rate must not be negative")
	ErrLineNotFound    = errors.New("cart: line not found")
)

// Product is the catalog snapshot of a product entering the cart
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Variant is an optional product variant. A variant price, when set,
// overrides the product price.
type Variant struct {
	ID    string              `json:"id"`
	SKU   string              `json:"sku"`
	Name  string              `json:"name"`
	Price decimal.NullDecimal `json:"price"`
}

// Line is one cart line, keyed by (ProductID, VariantID)
type Line struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type lineKey struct {
	productID string
	variantID string
}

// Cart holds the in-progress sale of one terminal. It is not safe for
// concurrent use; a cart belongs to exactly one till.
type Cart struct {
	lines    []Line
	index    map[lineKey]int
	taxRate  decimal.Decimal
	discount decimal.Decimal

	subtotal decimal.Decimal
	tax      decimal.Decimal
	total    decimal.Decimal
}

// New creates an empty cart with the given tax rate (0.18 = 18%)
func New(taxRate decimal.Decimal) (*Cart, error) {
	c := &Cart{index: make(map[lineKey]int)}
	if err := c.SetTaxRate(taxRate); err != nil {
		return nil, err
	}
	return c, nil
}

// AddItem adds qty units of product/variant. An existing line is
// incremented instead of duplicated. qty < 1 adds a single unit.
func (c *Cart) AddItem(product Product, variant Variant, qty int) error {
	if qty < 1 {
		qty = 1
	}

	price := product.Price
	if variant.Price.Valid {
		price = variant.Price.Decimal
	}
	if price.IsNegative() {
		return ErrInvalidPrice
	}

	key := lineKey{productID: product.ID, variantID: variant.ID}
	if i, ok := c.index[key]; ok {
		c.lines[i].Quantity += qty
		c.recompute()
		return nil
	}

	name := product.Name
	if variant.Name != "" {
		name = fmt.Sprintf("%s - %s", product.Name, variant.Name)
	}

	c.lines = append(c.lines, Line{
		ProductID: product.ID,
		VariantID: variant.ID,
		SKU:       variant.SKU,
		Name:      name,
		UnitPrice: price,
		Quantity:  qty,
	})
	c.index[key] = len(c.lines) - 1
	c.recompute()
	return nil
}

// UpdateQuantity sets the quantity of a line; qty <= 0 removes it
func (c *Cart) UpdateQuantity(productID, variantID string, qty int) error {
	if qty <= 0 {
		return c.RemoveItem(productID, variantID)
	}
	i, ok := c.index[lineKey{productID: productID, variantID: variantID}]
	if !ok {
		return ErrLineNotFound
	}
	c.lines[i].Quantity = qty
	c.recompute()
	return nil
}

// RemoveItem drops a line
func (c *Cart) RemoveItem(productID, variantID string) error {
	key := lineKey{productID: productID, variantID: variantID}
	i, ok := c.index[key]
	if !ok {
		return ErrLineNotFound
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	c.reindex()
	c.recompute()
	return nil
}

// Clear empties the cart and resets the discount
func (c *Cart) Clear() {
	c.lines = nil
	c.index = make(map[lineKey]int)
	c.discount = decimal.Zero
	c.recompute()
}

// SetTaxRate changes the rate applied to the subtotal
func (c *Cart) SetTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() {
		return ErrInvalidTaxRate
	}
	c.taxRate = rate
	c.recompute()
	return nil
}

// SetDiscount sets an absolute discount on the whole sale
func (c *Cart) SetDiscount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidDiscount
	}
	c.discount = amount
	c.recompute()
	return nil
}

func (c *Cart) reindex() {
	c.index = make(map[lineKey]int, len(c.lines))
	for i, l := range c.lines {
		c.index[lineKey{productID: l.ProductID, variantID: l.VariantID}] = i
	}
}

func (c *Cart) recompute() {
	subtotal := decimal.Zero
	for i := range c.lines {
		c.lines[i].LineTotal = c.lines[i].UnitPrice.Mul(decimal.NewFromInt(int64(c.lines[i].Quantity)))
		subtotal = subtotal.Add(c.lines[i].LineTotal)
	}
	c.subtotal = subtotal
	c.tax = subtotal.Mul(c.taxRate).Round(2)

	total := c.subtotal.Add(c.tax).Sub(c.discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	c.total = total
}

// Lines returns a copy of the cart lines in insertion order
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Subtotal is the sum of all line totals
func (c *Cart) Subtotal() decimal.Decimal { return c.subtotal }

// Tax is subtotal x tax rate, rounded to cents
func (c *Cart) Tax() decimal.Decimal { return c.tax }

// TaxRate is the rate currently applied
func (c *Cart) TaxRate() decimal.Decimal { return c.taxRate }

// Discount is the discount actually applied, floored at subtotal+tax
func (c *Cart) Discount() decimal.Decimal {
	limit := c.subtotal.Add(c.tax)
	if c.discount.GreaterThan(limit) {
		return limit
	}
	return c.discount
}

// Total is subtotal + tax - discount, never negative
func (c *Cart) Total() decimal.Decimal { return c.total }

// IsEmpty reports whether the cart has no lines
func (c *Cart) IsEmpty() bool { return len(c.lines) == 0 }

// ItemCount is the number of units across all lines
func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}
