package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/vincibusa/bibigin-admin-sub000/internal/models"
	"github.com/vincibusa/bibigin-admin-sub000/internal/store"
	"github.com/vincibusa/bibigin-admin-sub000/internal/util"

	"go.uber.org/zap"
)

// ProductCache is a read-through cache for single-product lookups. A nil
// result from GetProduct means a miss.
type ProductCache interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	SetProduct(ctx context.Context, p *models.Product) error
	InvalidateProduct(ctx context.Context, id int64) error
}

// CatalogService exposes product listing and CRUD. Edits are plain
// last-write-wins; only the order transaction touches stock atomically.
type CatalogService struct {
	store  *store.Store
	cache  ProductCache
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service. cache may be nil.
func NewCatalogService(st *store.Store, cache ProductCache) *CatalogService {
	return &CatalogService{
		store:  st,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// ProductInput carries the editable fields of a product.
type ProductInput struct {
	SKU         string `json:"sku" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
	Status      string `json:"status"`
	Featured    bool   `json:"featured"`
}

func (in *ProductInput) validate() error {
	if in.SKU == "" {
		return &ValidationError{Reason: "sku is required"}
	}
	if in.Name == "" {
		return &ValidationError{Reason: "name is required"}
	}
	if in.Price < 0 {
		return &ValidationError{Reason: "price must not be negative"}
	}
	if in.Stock < 0 {
		return &ValidationError{Reason: "stock must not be negative"}
	}
	switch in.Status {
	case "", models.ProductStatusActive, models.ProductStatusInactive, models.ProductStatusOutOfStock:
	default:
		return &ValidationError{Reason: "unknown product status: " + in.Status}
	}
	return nil
}

// normalizedStatus keeps the out_of_stock status in step with stock == 0.
func (in *ProductInput) normalizedStatus() string {
	status := in.Status
	if status == "" {
		status = models.ProductStatusActive
	}
	if in.Stock == 0 && status == models.ProductStatusActive {
		return models.ProductStatusOutOfStock
	}
	if in.Stock > 0 && status == models.ProductStatusOutOfStock {
		return models.ProductStatusActive
	}
	return status
}

// ListProducts retrieves products matching the filter.
func (cs *CatalogService) ListProducts(ctx context.Context, f store.ProductFilter) ([]models.Product, error) {
	return cs.store.ListProducts(ctx, f)
}

// GetProduct retrieves a product, serving from cache when possible.
func (cs *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	if cs.cache != nil {
		if p, err := cs.cache.GetProduct(ctx, id); err == nil && p != nil {
			util.CatalogCacheHits.Inc()
			return p, nil
		}
		util.CatalogCacheMisses.Inc()
	}

	product, err := cs.store.GetProductByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "product", ID: strconv.FormatInt(id, 10)}
		}
		return nil, err
	}

	if cs.cache != nil {
		if err := cs.cache.SetProduct(ctx, product); err != nil {
			cs.logger.Warn("Failed to cache product", zap.Int64("product_id", id), zap.Error(err))
		}
	}
	return product, nil
}

// CreateProduct validates and inserts a new product.
func (cs *CatalogService) CreateProduct(ctx context.Context, in *ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	product := &models.Product{
		SKU:         in.SKU,
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		Price:       in.Price,
		Stock:       in.Stock,
		Status:      in.normalizedStatus(),
		Featured:    in.Featured,
	}
	if err := cs.store.CreateProduct(ctx, product); err != nil {
		return nil, err
	}

	cs.logger.Info("Product created",
		zap.Int64("product_id", product.ID),
		zap.String("sku", product.SKU))
	return product, nil
}

// UpdateProduct overwrites a product's editable fields.
func (cs *CatalogService) UpdateProduct(ctx context.Context, id int64, in *ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	product := &models.Product{
		ID:          id,
		SKU:         in.SKU,
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		Price:       in.Price,
		Stock:       in.Stock,
		Status:      in.normalizedStatus(),
		Featured:    in.Featured,
	}
	if err := cs.store.UpdateProduct(ctx, product); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "product", ID: strconv.FormatInt(id, 10)}
		}
		return nil, err
	}

	cs.invalidate(ctx, id)
	return cs.store.GetProductByID(ctx, id)
}

// DeleteProduct removes a product from the catalog. Historical orders keep
// denormalized product data, so history survives; reordering won't.
func (cs *CatalogService) DeleteProduct(ctx context.Context, id int64) error {
	if err := cs.store.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "product", ID: strconv.FormatInt(id, 10)}
		}
		return err
	}
	cs.invalidate(ctx, id)
	cs.logger.Info("Product deleted", zap.Int64("product_id", id))
	return nil
}

// Restock increments stock and reactivates a sold-out product.
func (cs *CatalogService) Restock(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	if quantity < 1 {
		return nil, &ValidationError{Reason: "restock quantity must be positive"}
	}

	product, err := cs.store.RestockProduct(ctx, id, quantity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "product", ID: strconv.FormatInt(id, 10)}
		}
		return nil, err
	}

	cs.invalidate(ctx, id)
	cs.logger.Info("Product restocked",
		zap.Int64("product_id", id),
		zap.Int("quantity", quantity),
		zap.Int("stock", product.Stock))
	return product, nil
}

func (cs *CatalogService) invalidate(ctx context.Context, id int64) {
	if cs.cache == nil {
		return
	}
	if err := cs.cache.InvalidateProduct(ctx, id); err != nil {
		cs.logger.Warn("Failed to invalidate product cache", zap.Int64("product_id", id), zap.Error(err))
	}
}
