package transport

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"productos/internal/domain"
	"productos/internal/imagestore"
	"productos/internal/middleware"
	"productos/internal/repository"
	"productos/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	msgNotFound = "Producto no encontrado"
	msgDeleted  = "Producto eliminado"

	defaultMaxMemory = 32 << 20
)

// DeleteResponse confirms a removal.
type DeleteResponse struct {
	Mensaje string `json:"mensaje"`
}

// ProductHandler handles HTTP requests for product operations
type ProductHandler struct {
	productService service.ProductService
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewProductHandler creates a new ProductHandler. maxUploadBytes bounds the
// whole multipart body.
func NewProductHandler(productService service.ProductService, maxUploadBytes int64, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		productService: productService,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes registers all product routes. writeMiddleware wraps the
// mutating routes only.
func (h *ProductHandler) RegisterRoutes(r chi.Router, writeMiddleware ...func(http.Handler) http.Handler) {
	r.Route("/productos", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Get("/{id}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(writeMiddleware...)
			r.Post("/", h.CreateProduct)
			r.Put("/{id}", h.UpdateProduct)
			r.Delete("/{id}", h.DeleteProduct)
		})
	})
}

// ListProducts handles listing products, optionally filtered by ?categoria=
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	var categoria *string
	if c := strings.TrimSpace(r.URL.Query().Get("categoria")); c != "" {
		categoria = &c
	}

	products, err := h.productService.List(r.Context(), categoria)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, products)
}

// GetProduct handles fetching a single product
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	product, err := h.productService.Get(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// CreateProduct handles multipart product creation
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	input := service.CreateProductInput{
		Nombre:      form.value("nombre"),
		Descripcion: form.value("descripcion"),
		Categoria:   form.value("categoria"),
		Imagen:      form.upload,
	}
	if input.Precio, err = form.price(); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	product, err := h.productService.Add(r.Context(), input)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, product)
}

// UpdateProduct handles partial updates. Only fields present in the form
// are changed.
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	form, err := h.parseForm(w, r)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	input := service.UpdateProductInput{
		Nombre:      form.optional("nombre"),
		Descripcion: form.optional("descripcion"),
		Categoria:   form.optional("categoria"),
		Imagen:      form.upload,
	}
	if input.Precio, err = form.price(); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	product, err := h.productService.Update(r.Context(), id, input)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// DeleteProduct handles product removal
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.productService.Remove(r.Context(), id); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, DeleteResponse{Mensaje: msgDeleted})
}

func (h *ProductHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product ID")
		return uuid.Nil, false
	}
	return id, true
}

// respondWithServiceError maps service errors to HTTP responses
func (h *ProductHandler) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *domain.ValidationError
		storageErr    *domain.StorageError
		tooLarge      *http.MaxBytesError
	)

	switch {
	case errors.As(err, &validationErr):
		h.logger.Debug("Product validation failed", zap.Error(err))
		middleware.RespondWithValidationErrors(w, validationErr.Fields)
	case errors.Is(err, imagestore.ErrUnsupportedFormat), errors.Is(err, imagestore.ErrMissingFile):
		middleware.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrProductNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, msgNotFound)
	case errors.As(err, &tooLarge):
		middleware.RespondWithError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, errBadForm):
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
	case errors.As(err, &storageErr):
		h.logger.Error("Product storage failure",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		middleware.RespondWithServerError(w, "storage failure", storageErr.Err)
	default:
		h.logger.Error("Unexpected product error", zap.Error(err))
		middleware.RespondWithServerError(w, "internal server error", err)
	}
}

var errBadForm = errors.New("invalid form body")

// productForm is a parsed multipart (or urlencoded) request body.
type productForm struct {
	values map[string][]string
	upload *imagestore.Upload
}

func (h *ProductHandler) parseForm(w http.ResponseWriter, r *http.Request) (*productForm, error) {
	maxMemory := int64(defaultMaxMemory)
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
		maxMemory = h.maxUploadBytes
	}

	err := r.ParseMultipartForm(maxMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errBadForm, err)
	}

	form := &productForm{values: r.PostForm}
	if r.MultipartForm == nil {
		return form, nil
	}

	file, header, err := r.FormFile("imagen")
	if errors.Is(err, http.ErrMissingFile) {
		return form, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadForm, err)
	}
	defer file.Close()

	form.upload, err = readUpload(file, header)
	if err != nil {
		return nil, err
	}
	return form, nil
}

func readUpload(file multipart.File, header *multipart.FileHeader) (*imagestore.Upload, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read imagen: %v", errBadForm, err)
	}
	return &imagestore.Upload{Filename: header.Filename, Data: data}, nil
}

func (f *productForm) value(key string) string {
	if vs := f.values[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// optional returns nil when key was not sent at all.
func (f *productForm) optional(key string) *string {
	vs, ok := f.values[key]
	if !ok || len(vs) == 0 {
		return nil
	}
	v := vs[0]
	return &v
}

func (f *productForm) price() (*decimal.Decimal, error) {
	raw := f.optional("precio")
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return nil, domain.NewValidationError("precio", "Value must be a number")
	}
	return &d, nil
}
