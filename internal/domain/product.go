package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PricePlaces is the fixed precision used for prices.
const PricePlaces = 2

// MaxPrice is the largest price the NUMERIC(10,2) column holds.
var MaxPrice = decimal.New(9999999999, -PricePlaces)

func init() {
	// Prices travel as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Product represents a product in the catalog
type Product struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Nombre      string          `json:"nombre" db:"nombre"`
	Descripcion string          `json:"descripcion" db:"descripcion"`
	Precio      decimal.Decimal `json:"precio" db:"precio"`
	Imagen      string          `json:"imagen" db:"imagen"`
	Categoria   string          `json:"categoria" db:"categoria"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// ProductPatch carries the fields of a partial update. Nil fields keep the
// stored value.
type ProductPatch struct {
	Nombre      *string
	Descripcion *string
	Precio      *decimal.Decimal
	Imagen      *string
	Categoria   *string
}

// IsEmpty reports whether the patch changes nothing.
func (p ProductPatch) IsEmpty() bool {
	return p.Nombre == nil && p.Descripcion == nil && p.Precio == nil && p.Imagen == nil && p.Categoria == nil
}

// Apply merges the patch over product and returns the result. The receiver
// product is not modified.
func (p ProductPatch) Apply(product Product) Product {
	if p.Nombre != nil {
		product.Nombre = *p.Nombre
	}
	if p.Descripcion != nil {
		product.Descripcion = *p.Descripcion
	}
	if p.Precio != nil {
		product.Precio = NormalizePrice(*p.Precio)
	}
	if p.Imagen != nil {
		product.Imagen = *p.Imagen
	}
	if p.Categoria != nil {
		product.Categoria = NormalizeCategory(*p.Categoria)
	}
	return product
}

// NormalizeCategory trims and lower-cases a category.
func NormalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// NormalizePrice rounds a price to PricePlaces decimals.
func NormalizePrice(p decimal.Decimal) decimal.Decimal {
	return p.Round(PricePlaces)
}
