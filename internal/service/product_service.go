package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"productos/internal/cache"
	"productos/internal/domain"
	"productos/internal/imagestore"
	"productos/internal/repository"
	"productos/internal/validation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CacheNamespace groups every cached product response.
const CacheNamespace = "productos"

// CreateProductInput holds the fields accepted when adding a product.
type CreateProductInput struct {
	Nombre      string `form:"nombre" validate:"required,max=255"`
	Descripcion string `form:"descripcion" validate:"required"`
	Precio      *decimal.Decimal
	Categoria   string `form:"categoria" validate:"max=100"`
	Imagen      *imagestore.Upload
}

// UpdateProductInput holds a partial update. Nil fields are left unchanged.
type UpdateProductInput struct {
	Nombre      *string `form:"nombre" validate:"omitnil,min=1,max=255"`
	Descripcion *string `form:"descripcion" validate:"omitnil,min=1"`
	Precio      *decimal.Decimal
	Categoria   *string `form:"categoria" validate:"omitnil,max=100"`
	Imagen      *imagestore.Upload
}

// ProductService defines the interface for product business logic
type ProductService interface {
	Add(ctx context.Context, input CreateProductInput) (*domain.Product, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateProductInput) (*domain.Product, error)
	Remove(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, categoria *string) ([]*domain.Product, error)
}

// Options tunes a ProductService.
type Options struct {
	CacheTTL time.Duration
	// Categories is the closed set of accepted categories; empty accepts any.
	Categories []string
}

type productService struct {
	repo     repository.ProductRepository
	images   imagestore.Store
	cache    *cache.Cache
	cacheTTL time.Duration
	allowed  []string
	locks    *productLocks
	logger   *zap.Logger
	now      func() time.Time
}

// NewProductService creates a new instance of ProductService. responses may
// be nil to disable caching.
func NewProductService(
	repo repository.ProductRepository,
	images imagestore.Store,
	responses *cache.Cache,
	opts Options,
	logger *zap.Logger,
) ProductService {
	return &productService{
		repo:     repo,
		images:   images,
		cache:    responses,
		cacheTTL: opts.CacheTTL,
		allowed:  opts.Categories,
		locks:    newProductLocks(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Add validates input, stores the image and then the row. If the row cannot
// be written the image is removed again.
func (s *productService) Add(ctx context.Context, input CreateProductInput) (*domain.Product, error) {
	input.Nombre = strings.TrimSpace(input.Nombre)
	input.Descripcion = strings.TrimSpace(input.Descripcion)
	input.Categoria = domain.NormalizeCategory(input.Categoria)

	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if input.Precio == nil {
		return nil, domain.NewValidationError("precio", "This field is required")
	}
	if err := s.checkPrice(*input.Precio); err != nil {
		return nil, err
	}
	if err := s.checkCategory(input.Categoria); err != nil {
		return nil, err
	}
	if err := s.images.Validate(input.Imagen); err != nil {
		return nil, err
	}

	id := uuid.New()
	url, err := s.images.Save(ctx, id, input.Imagen)
	if err != nil {
		return nil, imageError("save image", err)
	}

	now := s.now()
	product := &domain.Product{
		ID:          id,
		Nombre:      input.Nombre,
		Descripcion: input.Descripcion,
		Precio:      domain.NormalizePrice(*input.Precio),
		Imagen:      url,
		Categoria:   input.Categoria,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, product); err != nil {
		s.discardImage(ctx, url)
		return nil, &domain.StorageError{Op: "create product", Err: err}
	}

	s.invalidate(ctx)
	s.logger.Info("Product created",
		zap.String("product_id", id.String()),
		zap.String("categoria", product.Categoria),
	)

	return product, nil
}

// Get retrieves a product by ID
func (s *productService) Get(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, repoError("find product", err)
	}
	return product, nil
}

// Update merges the supplied fields over the stored product. A new image is
// written to the product's derived path before the row is updated. Updates
// and removals of one id run one at a time, so a file written here is never
// removed by a concurrent writer.
func (s *productService) Update(ctx context.Context, id uuid.UUID, input UpdateProductInput) (*domain.Product, error) {
	input.Nombre = mapPtr(input.Nombre, strings.TrimSpace)
	input.Descripcion = mapPtr(input.Descripcion, strings.TrimSpace)
	input.Categoria = mapPtr(input.Categoria, domain.NormalizeCategory)

	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if input.Precio != nil {
		if err := s.checkPrice(*input.Precio); err != nil {
			return nil, err
		}
	}
	if input.Categoria != nil {
		if err := s.checkCategory(*input.Categoria); err != nil {
			return nil, err
		}
	}
	if input.Imagen != nil {
		if err := s.images.Validate(input.Imagen); err != nil {
			return nil, err
		}
	}

	unlock := s.locks.lock(id)
	defer unlock()

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, repoError("find product", err)
	}

	patch := domain.ProductPatch{
		Nombre:      input.Nombre,
		Descripcion: input.Descripcion,
		Precio:      input.Precio,
		Categoria:   input.Categoria,
	}

	if patch.IsEmpty() && input.Imagen == nil {
		return current, nil
	}

	var newURL string
	if input.Imagen != nil {
		newURL, err = s.images.Replace(ctx, id, input.Imagen)
		if err != nil {
			return nil, imageError("replace image", err)
		}
		patch.Imagen = &newURL
	}

	updated, previous, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		if newURL != "" {
			s.discardUnreferencedImage(ctx, id, newURL, err)
		}
		return nil, repoError("update product", err)
	}

	// previous comes from the locked row, so it is the file this write
	// actually replaced.
	if previous != "" && previous != updated.Imagen {
		s.discardImage(ctx, previous)
	}

	s.invalidate(ctx)
	s.logger.Info("Product updated", zap.String("product_id", id.String()))

	return updated, nil
}

// Remove deletes the row first and then its image, so a failure never leaves
// a row pointing at a missing file.
func (s *productService) Remove(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.lock(id)
	defer unlock()

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return repoError("delete product", err)
	}

	s.invalidate(ctx)

	if err := s.images.Delete(ctx, deleted.Imagen); err != nil {
		s.logger.Error("Product deleted but image removal failed",
			zap.String("product_id", id.String()),
			zap.String("imagen", deleted.Imagen),
			zap.Error(err),
		)
		return &domain.StorageError{Op: "delete image", Err: err}
	}

	s.logger.Info("Product deleted", zap.String("product_id", id.String()))
	return nil
}

// List returns products newest first, through the response cache when one is
// configured.
func (s *productService) List(ctx context.Context, categoria *string) ([]*domain.Product, error) {
	products, err := cache.Fetch(ctx, s.cache, listKey(categoria), s.cacheTTL,
		func(ctx context.Context) ([]*domain.Product, error) {
			return s.repo.List(ctx, categoria)
		})
	if err != nil {
		return nil, &domain.StorageError{Op: "list products", Err: err}
	}
	return products, nil
}

func listKey(categoria *string) string {
	if categoria == nil {
		return cache.Key(CacheNamespace, "list", "all")
	}
	return cache.Key(CacheNamespace, "list", "categoria", domain.NormalizeCategory(*categoria))
}

func (s *productService) checkPrice(p decimal.Decimal) error {
	if p.IsNegative() {
		return domain.NewValidationError("precio", "Value must be greater than or equal to 0")
	}
	if domain.NormalizePrice(p).GreaterThan(domain.MaxPrice) {
		return domain.NewValidationError("precio", "Value must be less than or equal to "+domain.MaxPrice.StringFixed(domain.PricePlaces))
	}
	return nil
}

func (s *productService) checkCategory(c string) error {
	if c == "" || len(s.allowed) == 0 || slices.Contains(s.allowed, c) {
		return nil
	}
	return domain.NewValidationError("categoria", "Value must be one of: "+strings.Join(s.allowed, " "))
}

func (s *productService) invalidate(ctx context.Context) {
	// Failures are logged by the cache; stale entries expire by TTL.
	_ = s.cache.Invalidate(context.WithoutCancel(ctx), CacheNamespace)
}

func (s *productService) discardImage(ctx context.Context, url string) {
	if err := s.images.Delete(context.WithoutCancel(ctx), url); err != nil {
		s.logger.Error("Failed to remove image", zap.String("imagen", url), zap.Error(err))
	}
}

// discardUnreferencedImage removes a file written by a failed update unless
// the stored row still points at it.
func (s *productService) discardUnreferencedImage(ctx context.Context, id uuid.UUID, url string, updateErr error) {
	if errors.Is(updateErr, repository.ErrProductNotFound) {
		s.discardImage(ctx, url)
		return
	}

	stored, err := s.repo.FindByID(context.WithoutCancel(ctx), id)
	switch {
	case errors.Is(err, repository.ErrProductNotFound):
		s.discardImage(ctx, url)
	case err != nil:
		s.logger.Warn("Keeping image of failed update, row state unknown",
			zap.String("product_id", id.String()),
			zap.String("imagen", url),
			zap.Error(err),
		)
	case stored.Imagen != url:
		s.discardImage(ctx, url)
	}
}

func mapPtr(p *string, f func(string) string) *string {
	if p == nil {
		return nil
	}
	v := f(*p)
	return &v
}

// repoError passes not-found through and wraps everything else as a
// storage failure.
func repoError(op string, err error) error {
	if errors.Is(err, repository.ErrProductNotFound) {
		return repository.ErrProductNotFound
	}
	return &domain.StorageError{Op: op, Err: err}
}

func imageError(op string, err error) error {
	if errors.Is(err, imagestore.ErrUnsupportedFormat) || errors.Is(err, imagestore.ErrMissingFile) {
		return err
	}
	return &domain.StorageError{Op: op, Err: err}
}
