package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"productos/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrProductAlreadyExists = errors.New("product with this id already exists")
)

const uniqueViolation = "23505"

const productColumns = `id, nombre, descripcion, precio, imagen, categoria, created_at, updated_at`

// ProductRepository defines the interface for product data access
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	// Update returns the merged row and the imagen the locked row held
	// before the write.
	Update(ctx context.Context, id uuid.UUID, patch domain.ProductPatch) (*domain.Product, string, error)
	Delete(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	List(ctx context.Context, categoria *string) ([]*domain.Product, error)
}

type productRepository struct {
	db *sql.DB
}

// NewProductRepository creates a new instance of ProductRepository
func NewProductRepository(db *sql.DB) ProductRepository {
	return &productRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, product *domain.Product) error {
	return row.Scan(
		&product.ID,
		&product.Nombre,
		&product.Descripcion,
		&product.Precio,
		&product.Imagen,
		&product.Categoria,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
}

// Create inserts a new product. The stored row (rounded price, database
// timestamps) is scanned back into product.
func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	query := `
		INSERT INTO productos (id, nombre, descripcion, precio, imagen, categoria, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + productColumns

	err := scanProduct(r.db.QueryRowContext(
		ctx,
		query,
		product.ID,
		product.Nombre,
		product.Descripcion,
		domain.NormalizePrice(product.Precio),
		product.Imagen,
		domain.NormalizeCategory(product.Categoria),
		product.CreatedAt,
		product.UpdatedAt,
	), product)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrProductAlreadyExists
		}
		return fmt.Errorf("failed to create product: %w", err)
	}

	return nil
}

// Update merges patch over the current row inside one transaction. The row
// is locked with FOR UPDATE so concurrent writers on the same id serialize.
// The previous imagen is read under that lock, so it is the file this write
// actually replaced.
func (r *productRepository) Update(ctx context.Context, id uuid.UUID, patch domain.ProductPatch) (*domain.Product, string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current := &domain.Product{}
	err = scanProduct(tx.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM productos WHERE id = $1 FOR UPDATE`, id), current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrProductNotFound
		}
		return nil, "", fmt.Errorf("failed to lock product: %w", err)
	}

	merged := patch.Apply(*current)
	merged.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE productos
		SET nombre = $2, descripcion = $3, precio = $4, imagen = $5,
		    categoria = $6, updated_at = $7
		WHERE id = $1
		RETURNING ` + productColumns

	updated := &domain.Product{}
	err = scanProduct(tx.QueryRowContext(
		ctx,
		query,
		id,
		merged.Nombre,
		merged.Descripcion,
		merged.Precio,
		merged.Imagen,
		merged.Categoria,
		merged.UpdatedAt,
	), updated)
	if err != nil {
		return nil, "", fmt.Errorf("failed to update product: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("failed to commit product update: %w", err)
	}

	return updated, current.Imagen, nil
}

// Delete removes a product and returns the row that was removed
func (r *productRepository) Delete(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	query := `DELETE FROM productos WHERE id = $1 RETURNING ` + productColumns

	deleted := &domain.Product{}
	if err := scanProduct(r.db.QueryRowContext(ctx, query, id), deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to delete product: %w", err)
	}

	return deleted, nil
}

// FindByID retrieves a product by ID using parameterized queries
func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM productos WHERE id = $1`

	product := &domain.Product{}
	if err := scanProduct(r.db.QueryRowContext(ctx, query, id), product); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}

	return product, nil
}

// List retrieves products newest first, optionally restricted to one
// category compared case-insensitively.
func (r *productRepository) List(ctx context.Context, categoria *string) ([]*domain.Product, error) {
	whereClause := ""
	args := []any{}

	if categoria != nil {
		whereClause = "WHERE LOWER(categoria) = LOWER($1)"
		args = append(args, domain.NormalizeCategory(*categoria))
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM productos
		%s
		ORDER BY created_at DESC, id DESC
	`, productColumns, whereClause)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []*domain.Product{}
	for rows.Next() {
		product := &domain.Product{}
		if err := scanProduct(rows, product); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}
