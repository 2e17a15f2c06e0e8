package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func tshirt() (Product, Variant) {
	return Product{ID: "p-tshirt", Name: "T-Shirt", Price: dec("350.00")},
		Variant{ID: "v-m-blk", SKU: "TSHIRT-M-BLK", Name: "M / Black"}
}

func TestAddItemMergesExistingLine(t *testing.T) {
	c, err := New(decimal.Zero)
	require.NoError(t, err)

	p, v := tshirt()
	require.NoError(t, c.AddItem(p, v, 1))
	require.NoError(t, c.AddItem(p, v, 1))

	lines := c.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, "TSHIRT-M-BLK", lines[0].SKU)
	assert.True(t, dec("700").Equal(lines[0].LineTotal))
	assert.True(t, dec("700").Equal(c.Subtotal()))
	assert.True(t, dec("700").Equal(c.Total()))
}

func TestAddItemDefaultsToOneUnit(t *testing.T) {
	c, _ := New(decimal.Zero)
	p, v := tshirt()

	require.NoError(t, c.AddItem(p, v, 0))
	assert.Equal(t, 1, c.ItemCount())
}

func TestVariantPriceOverridesProductPrice(t *testing.T) {
	c, _ := New(decimal.Zero)
	p, v := tshirt()
	v.Price = decimal.NewNullDecimal(dec("400"))

	require.NoError(t, c.AddItem(p, v, 1))
	assert.True(t, dec("400").Equal(c.Lines()[0].UnitPrice))
}

func TestNegativePriceRejected(t *testing.T) {
	c, _ := New(decimal.Zero)
	p, v := tshirt()
	p.Price = dec("-1")

	assert.ErrorIs(t, c.AddItem(p, v, 1), ErrInvalidPrice)
	assert.True(t, c.IsEmpty())
}

func TestUpdateQuantity(t *testing.T) {
	c, _ := New(decimal.Zero)
	p, v := tshirt()
	require.NoError(t, c.AddItem(p, v, 1))

	require.NoError(t, c.UpdateQuantity(p.ID, v.ID, 5))
	assert.Equal(t, 5, c.ItemCount())
	assert.True(t, dec("1750").Equal(c.Subtotal()))

	require.NoError(t, c.UpdateQuantity(p.ID, v.ID, 0))
	assert.True(t, c.IsEmpty())
	assert.True(t, c.Total().IsZero())

	assert.ErrorIs(t, c.UpdateQuantity(p.ID, v.ID, 2), ErrLineNotFound)
}

func TestRemoveItemKeepsOtherLinesAddressable(t *testing.T) {
	c, _ := New(decimal.Zero)
	p, v := tshirt()
	mug := Product{ID: "p-mug", Name: "Mug", Price: dec("120")}
	hat := Product{ID: "p-cap", Name: "Cap", Price: dec("80")}

	require.NoError(t, c.AddItem(p, v, 1))
	require.NoError(t, c.AddItem(mug, Variant{}, 1))
	require.NoError(t, c.AddItem(hat, Variant{}, 1))

	require.NoError(t, c.RemoveItem(mug.ID, ""))
	require.NoError(t, c.UpdateQuantity(hat.ID, "", 3))

	lines := c.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "p-cap", lines[1].ProductID)
	assert.Equal(t, 3, lines[1].Quantity)
	assert.ErrorIs(t, c.RemoveItem(mug.ID, ""), ErrLineNotFound)
}

func TestTaxAndDiscount(t *testing.T) {
	c, err := New(dec("0.18"))
	require.NoError(t, err)
	p, v := tshirt()
	require.NoError(t, c.AddItem(p, v, 2))

	assert.True(t, dec("700").Equal(c.Subtotal()))
	assert.True(t, dec("126").Equal(c.Tax()))
	assert.True(t, dec("826").Equal(c.Total()))

	require.NoError(t, c.SetDiscount(dec("26")))
	assert.True(t, dec("800").Equal(c.Total()))
}

func TestDiscountFloorsTotalAtZero(t *testing.T) {
	c, _ := New(dec("0.10"))
	p, v := tshirt()
	require.NoError(t, c.AddItem(p, v, 1))

	require.NoError(t, c.SetDiscount(dec("10000")))
	assert.True(t, c.Total().IsZero())
	assert.True(t, dec("385").Equal(c.Discount()))

	assert.ErrorIs(t, c.SetDiscount(dec("-5")), ErrInvalidDiscount)
}

func TestTotalsInvariant(t *testing.T) {
	cases := []struct {
		name     string
		taxRate  string
		discount string
		qtys     []int
		prices   []string
	}{
		{"single", "0", "0", []int{1}, []string{"9.99"}},
		{"many lines with tax", "0.16", "0", []int{3, 1, 7}, []string{"12.50", "0.99", "100"}},
		{"discount", "0.18", "50", []int{2, 2}, []string{"35", "15.25"}},
		{"discount over total", "0", "1000", []int{1}, []string{"20"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(dec(tc.taxRate))
			require.NoError(t, err)
			require.NoError(t, c.SetDiscount(dec(tc.discount)))

			expected := decimal.Zero
			for i, q := range tc.qtys {
				price := dec(tc.prices[i])
				require.NoError(t, c.AddItem(Product{ID: tc.prices[i] + "-" + tc.name, Price: price}, Variant{}, q))
				expected = expected.Add(price.Mul(decimal.NewFromInt(int64(q))))
			}

			assert.True(t, expected.Equal(c.Subtotal()), "subtotal")
			want := c.Subtotal().Add(c.Tax()).Sub(dec(tc.discount))
			if want.IsNegative() {
				want = decimal.Zero
			}
			assert.True(t, want.Equal(c.Total()), "total")
			for _, l := range c.Lines() {
				assert.GreaterOrEqual(t, l.Quantity, 1)
			}
		})
	}
}

func TestClear(t *testing.T) {
	c, _ := New(decimal.Zero)
	p, v := tshirt()
	require.NoError(t, c.AddItem(p, v, 2))
	require.NoError(t, c.SetDiscount(dec("10")))

	c.Clear()
	assert.True(t, c.IsEmpty())
	assert.True(t, c.Subtotal().IsZero())
	assert.True(t, c.Discount().IsZero())
	assert.True(t, c.Total().IsZero())
}
