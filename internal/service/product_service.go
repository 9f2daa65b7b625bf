package service

import (
	"context"
	"fmt"
	"strconv"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

const (
	MsgVariantsLocked     = "Variants of a published product cannot be changed"
	MsgVariantsReferenced = "The variants are referenced by existing orders"
	MsgInvalidVariantRef  = "A parameter set references an unknown color or custom parameter"
)

// ProductService manages products, their variants and stock
type ProductService struct {
	store     *store.Store
	inventory *InventoryService
	publisher EventPublisher
	logger    *zap.Logger
}

// NewProductService creates a new product service
func NewProductService(store *store.Store, inventory *InventoryService, publisher EventPublisher) *ProductService {
	return &ProductService{
		store:     store,
		inventory: inventory,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

type ContentInput struct {
	Locale string `json:"locale" binding:"required,max=10"`
	Title  string `json:"title" binding:"required,max=200"`
	Body   string `json:"body"`
}

type ImageInput struct {
	URL      string `json:"url" binding:"required,url"`
	Position int    `json:"position" binding:"min=0"`
	IsMain   bool   `json:"is_main"`
}

type ShippingFeeInput struct {
	Region string `json:"region" binding:"required"`
	Fee    int64  `json:"fee" binding:"min=0"`
}

// CreateProductRequest represents a request to create a product
type CreateProductRequest struct {
	ShopID         int64  `json:"shop_id" binding:"required"`
	SalesMethod    string `json:"sales_method" binding:"required,oneof=ONLINE INSTORE"`
	Stock          int    `json:"stock" binding:"min=0"`
	ShipLaterStock int    `json:"ship_later_stock" binding:"min=0"`
	UpdateProductRequest
}

// UpdateProductRequest represents the editable fields of a product
type UpdateProductRequest struct {
	CategoryID   *int64             `json:"category_id"`
	Name         string             `json:"name" binding:"required,max=200"`
	Description  string             `json:"description"`
	Price        int64              `json:"price" binding:"gt=0"`
	Contents     []ContentInput     `json:"contents" binding:"dive"`
	Images       []ImageInput       `json:"images" binding:"dive"`
	ShippingFees []ShippingFeeInput `json:"shipping_fees" binding:"dive"`
}

type NameInput struct {
	Name     string `json:"name" binding:"required,max=100"`
	Position int    `json:"position" binding:"min=0"`
}

type ParameterSetRequest struct {
	ColorIndex     *int  `json:"color_index"`
	ParameterIndex *int  `json:"parameter_index"`
	Price          int64 `json:"price" binding:"gt=0"`
	Stock          int   `json:"stock" binding:"min=0"`
	ShipLaterStock int   `json:"ship_later_stock" binding:"min=0"`
	Enabled        *bool `json:"enabled"`
}

// VariantsRequest replaces every color, custom parameter and parameter set of a product
type VariantsRequest struct {
	Colors           []NameInput           `json:"colors" binding:"dive"`
	CustomParameters []NameInput           `json:"custom_parameters" binding:"dive"`
	ParameterSets    []ParameterSetRequest `json:"parameter_sets" binding:"dive"`
}

// StockRequest sets the stock on hand of a product or one of its parameter
// sets. Units held by open checkouts count toward it, so the stored counters
// become the request minus those holds.
type StockRequest struct {
	ParameterSetID *int64 `json:"parameter_set_id"`
	Stock          int    `json:"stock" binding:"min=0"`
	ShipLaterStock int    `json:"ship_later_stock" binding:"min=0"`
}

// productDraft is everything written when a product is created
type productDraft struct {
	product  models.Product
	contents []models.ProductContent
	images   []models.ProductImage
	fees     []models.ProductShippingFee
	colors   []models.ProductColor
	params   []models.ProductCustomParameter
	sets     []store.ParameterSetInput
}

func (s *ProductService) saveDraft(ctx context.Context, d *productDraft) (*models.ProductDetail, error) {
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		d.product.HasParameterSets = len(d.sets) > 0
		if err := tx.CreateProduct(ctx, &d.product); err != nil {
			return fmt.Errorf("failed to create product: %w", err)
		}
		if err := tx.ReplaceProductContent(ctx, d.product.ID, d.contents, d.images, d.fees); err != nil {
			return err
		}
		if len(d.colors)+len(d.params)+len(d.sets) > 0 {
			if _, err := tx.ReplaceVariants(ctx, d.product.ID, d.colors, d.params, d.sets); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, apierror.BadRequest("Duplicate content locale, shipping region or parameter set")
		}
		return nil, err
	}
	return s.store.GetProductDetail(ctx, d.product.ID)
}

func contentRows(in []ContentInput) []models.ProductContent {
	out := make([]models.ProductContent, len(in))
	for i, c := range in {
		out[i] = models.ProductContent{Locale: c.Locale, Title: c.Title, Body: c.Body}
	}
	return out
}

func imageRows(in []ImageInput) []models.ProductImage {
	out := make([]models.ProductImage, len(in))
	for i, img := range in {
		out[i] = models.ProductImage{URL: img.URL, Position: img.Position, IsMain: img.IsMain}
	}
	return out
}

func feeRows(in []ShippingFeeInput) []models.ProductShippingFee {
	out := make([]models.ProductShippingFee, len(in))
	for i, f := range in {
		out[i] = models.ProductShippingFee{Region: f.Region, Fee: f.Fee}
	}
	return out
}

func (s *ProductService) checkCategory(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	_, err := s.store.GetCategory(ctx, *id)
	if store.IsNotFound(err) {
		return apierror.BadRequest(MsgCategoryNotFound)
	}
	return err
}

// CreateProduct creates a DRAFT product in a shop the caller owns
func (s *ProductService) CreateProduct(ctx context.Context, userID int64, req *CreateProductRequest) (*models.ProductDetail, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.CreateProduct")
	defer span.End()

	if _, err := loadOwnedShop(ctx, s.store, req.ShopID, userID); err != nil {
		return nil, err
	}
	if err := s.checkCategory(ctx, req.CategoryID); err != nil {
		return nil, err
	}

	d := &productDraft{
		product: models.Product{
			ShopID:         req.ShopID,
			CategoryID:     req.CategoryID,
			Name:           req.Name,
			Description:    req.Description,
			Price:          req.Price,
			Stock:          req.Stock,
			ShipLaterStock: req.ShipLaterStock,
			SalesMethod:    req.SalesMethod,
			Status:         models.ProductStatusDraft,
		},
		contents: contentRows(req.Contents),
		images:   imageRows(req.Images),
		fees:     feeRows(req.ShippingFees),
	}

	detail, err := s.saveDraft(ctx, d)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product created", zap.Int64("product_id", detail.ID), zap.Int64("shop_id", detail.ShopID))
	return detail, nil
}

// loadOwnedProduct returns a product the caller may manage
func (s *ProductService) loadOwnedProduct(ctx context.Context, st *store.Store, userID, productID int64, lock bool) (*models.Product, error) {
	var p *models.Product
	var err error
	if lock {
		p, err = st.LockProduct(ctx, productID)
	} else {
		p, err = st.GetProduct(ctx, productID)
	}
	if err != nil {
		return nil, storeErr(err, MsgProductNotFound)
	}
	if _, err := loadOwnedShop(ctx, st, p.ShopID, userID); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProduct updates descriptive fields; status is unchanged
func (s *ProductService) UpdateProduct(ctx context.Context, userID, productID int64, req *UpdateProductRequest) (*models.ProductDetail, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.UpdateProduct")
	defer span.End()

	if err := s.checkCategory(ctx, req.CategoryID); err != nil {
		return nil, err
	}

	err := s.store.InTx(ctx, func(tx *store.Store) error {
		p, err := s.loadOwnedProduct(ctx, tx, userID, productID, true)
		if err != nil {
			return err
		}

		p.CategoryID = req.CategoryID
		p.Name = req.Name
		p.Description = req.Description
		p.Price = req.Price
		if err := tx.UpdateProduct(ctx, p); err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}
		return tx.ReplaceProductContent(ctx, p.ID, contentRows(req.Contents), imageRows(req.Images), feeRows(req.ShippingFees))
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, apierror.BadRequest("Duplicate content locale or shipping region")
		}
		return nil, err
	}
	return s.store.GetProductDetail(ctx, productID)
}

// GetProduct returns a product with its children. Only the shop owner sees
// products that are not published.
func (s *ProductService) GetProduct(ctx context.Context, viewerID, productID int64) (*models.ProductDetail, error) {
	d, err := s.store.GetProductDetail(ctx, productID)
	if err != nil {
		return nil, storeErr(err, MsgProductNotFound)
	}
	if d.Status != models.ProductStatusPublished {
		shop, err := s.store.GetShop(ctx, d.ShopID)
		if err != nil {
			return nil, storeErr(err, MsgProductNotFound)
		}
		if shop.OwnerID != viewerID {
			return nil, apierror.NotFound(MsgProductNotFound)
		}
	}
	return d, nil
}

// DeleteProduct deletes a product that is not published
func (s *ProductService) DeleteProduct(ctx context.Context, userID, productID int64) error {
	ctx, span := util.StartSpan(ctx, "ProductService.DeleteProduct")
	defer span.End()

	err := s.store.InTx(ctx, func(tx *store.Store) error {
		p, err := s.loadOwnedProduct(ctx, tx, userID, productID, true)
		if err != nil {
			return err
		}
		if p.Status == models.ProductStatusPublished {
			return apierror.BadRequest(MsgPublishedDelete)
		}
		return tx.DeleteProduct(ctx, p.ID)
	})
	if store.IsForeignKeyViolation(err) {
		return apierror.Conflict("The product is referenced by existing orders")
	}
	return storeErr(err, MsgProductNotFound)
}

// Publish makes a product purchasable
func (s *ProductService) Publish(ctx context.Context, userID, productID int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.Publish")
	defer span.End()

	var p *models.Product
	var from string
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		p, err = s.loadOwnedProduct(ctx, tx, userID, productID, true)
		if err != nil {
			return err
		}
		from = p.Status
		if !models.PublicationTransitions.Can(from, models.ProductStatusPublished) {
			return statusChangeErr(from, models.ProductStatusPublished)
		}
		if p.Name == "" || p.Price <= 0 {
			return apierror.BadRequest(MsgNotPublishable)
		}
		if p.HasParameterSets {
			n, err := tx.CountEnabledParameterSets(ctx, p.ID)
			if err != nil {
				return err
			}
			if n == 0 {
				return apierror.BadRequest(MsgNotPublishable)
			}
		}
		if err := tx.UpdateProductStatus(ctx, p.ID, from, models.ProductStatusPublished); err != nil {
			return err
		}
		p.Status = models.ProductStatusPublished
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.announceStatus(ctx, p, from)
	return p, nil
}

// Unpublish withdraws a product from sale and drops its availability notifications
func (s *ProductService) Unpublish(ctx context.Context, userID, productID int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.Unpublish")
	defer span.End()

	var p *models.Product
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		p, err = s.loadOwnedProduct(ctx, tx, userID, productID, true)
		if err != nil {
			return err
		}
		if !models.PublicationTransitions.Can(p.Status, models.ProductStatusUnpublished) {
			return statusChangeErr(p.Status, models.ProductStatusUnpublished)
		}
		if err := tx.UpdateProductStatus(ctx, p.ID, p.Status, models.ProductStatusUnpublished); err != nil {
			return err
		}
		removed, err := tx.DeleteAvailabilityNotifications(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("failed to remove availability notifications: %w", err)
		}
		s.logger.Info("Product unpublished",
			zap.Int64("product_id", p.ID),
			zap.Int64("notifications_removed", removed))
		p.Status = models.ProductStatusUnpublished
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.announceStatus(ctx, p, models.ProductStatusPublished)
	return p, nil
}

func (s *ProductService) announceStatus(ctx context.Context, p *models.Product, from string) {
	event := statusChangedEvent("product", p.ID, p.ShopID, from, p.Status)
	if err := s.publisher.PublishStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish StatusChanged event", zap.Int64("product_id", p.ID), zap.Error(err))
	}
}

// cloneDraft copies a product with every counter reset and status DRAFT
func cloneDraft(src *models.ProductDetail) *productDraft {
	srcID := src.ID
	d := &productDraft{
		product: models.Product{
			ShopID:       src.ShopID,
			CategoryID:   src.CategoryID,
			Name:         src.Name + " (copy)",
			Description:  src.Description,
			Price:        src.Price,
			SalesMethod:  src.SalesMethod,
			Status:       models.ProductStatusDraft,
			ClonedFromID: &srcID,
		},
	}

	for _, c := range src.Contents {
		d.contents = append(d.contents, models.ProductContent{Locale: c.Locale, Title: c.Title, Body: c.Body})
	}
	for _, img := range src.Images {
		d.images = append(d.images, models.ProductImage{URL: img.URL, Position: img.Position, IsMain: img.IsMain})
	}
	for _, f := range src.ShippingFees {
		d.fees = append(d.fees, models.ProductShippingFee{Region: f.Region, Fee: f.Fee})
	}

	colorIdx := make(map[int64]int, len(src.Colors))
	for i, c := range src.Colors {
		colorIdx[c.ID] = i
		d.colors = append(d.colors, models.ProductColor{Name: c.Name, Position: c.Position})
	}
	paramIdx := make(map[int64]int, len(src.CustomParameters))
	for i, p := range src.CustomParameters {
		paramIdx[p.ID] = i
		d.params = append(d.params, models.ProductCustomParameter{Name: p.Name, Position: p.Position})
	}
	for _, ps := range src.ParameterSets {
		in := store.ParameterSetInput{Price: ps.Price, Enabled: ps.Enabled}
		if ps.ColorID != nil {
			if i, ok := colorIdx[*ps.ColorID]; ok {
				in.ColorIndex = &i
			}
		}
		if ps.CustomParameterID != nil {
			if i, ok := paramIdx[*ps.CustomParameterID]; ok {
				in.ParameterIndex = &i
			}
		}
		d.sets = append(d.sets, in)
	}
	return d
}

// CloneInstoreProduct copies an in-store product into a fresh DRAFT with no stock
func (s *ProductService) CloneInstoreProduct(ctx context.Context, userID, productID int64) (*models.ProductDetail, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.CloneInstoreProduct")
	defer span.End()

	p, err := s.loadOwnedProduct(ctx, s.store, userID, productID, false)
	if err != nil {
		return nil, err
	}
	if p.SalesMethod != models.SalesMethodInstore {
		return nil, apierror.BadRequest(MsgNotInstoreProduct)
	}

	src, err := s.store.GetProductDetail(ctx, productID)
	if err != nil {
		return nil, storeErr(err, MsgProductNotFound)
	}

	clone, err := s.saveDraft(ctx, cloneDraft(src))
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product cloned", zap.Int64("source_id", productID), zap.Int64("product_id", clone.ID))
	return clone, nil
}

// variantInputs validates index references of the requested parameter sets
func variantInputs(req *VariantsRequest) ([]store.ParameterSetInput, error) {
	sets := make([]store.ParameterSetInput, 0, len(req.ParameterSets))
	for _, ps := range req.ParameterSets {
		if ps.ColorIndex == nil && ps.ParameterIndex == nil {
			return nil, apierror.BadRequest(MsgInvalidVariantRef)
		}
		if ps.ColorIndex != nil && (*ps.ColorIndex < 0 || *ps.ColorIndex >= len(req.Colors)) {
			return nil, apierror.BadRequest(MsgInvalidVariantRef)
		}
		if ps.ParameterIndex != nil && (*ps.ParameterIndex < 0 || *ps.ParameterIndex >= len(req.CustomParameters)) {
			return nil, apierror.BadRequest(MsgInvalidVariantRef)
		}
		enabled := ps.Enabled == nil || *ps.Enabled
		sets = append(sets, store.ParameterSetInput{
			ColorIndex:     ps.ColorIndex,
			ParameterIndex: ps.ParameterIndex,
			Price:          ps.Price,
			Stock:          ps.Stock,
			ShipLaterStock: ps.ShipLaterStock,
			Enabled:        enabled,
		})
	}
	return sets, nil
}

// ReplaceVariants replaces the colors, custom parameters and parameter sets of
// a product that is not published
func (s *ProductService) ReplaceVariants(ctx context.Context, userID, productID int64, req *VariantsRequest) (*models.ProductDetail, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.ReplaceVariants")
	defer span.End()

	sets, err := variantInputs(req)
	if err != nil {
		return nil, err
	}

	colors := make([]models.ProductColor, len(req.Colors))
	for i, c := range req.Colors {
		colors[i] = models.ProductColor{Name: c.Name, Position: c.Position}
	}
	params := make([]models.ProductCustomParameter, len(req.CustomParameters))
	for i, c := range req.CustomParameters {
		params[i] = models.ProductCustomParameter{Name: c.Name, Position: c.Position}
	}

	err = s.store.InTx(ctx, func(tx *store.Store) error {
		p, err := s.loadOwnedProduct(ctx, tx, userID, productID, true)
		if err != nil {
			return err
		}
		if p.Status == models.ProductStatusPublished {
			return apierror.BadRequest(MsgVariantsLocked)
		}
		if _, err := tx.ReplaceVariants(ctx, p.ID, colors, params, sets); err != nil {
			return err
		}
		return tx.SetHasParameterSets(ctx, p.ID, len(sets) > 0)
	})
	switch {
	case store.IsForeignKeyViolation(err):
		return nil, apierror.Conflict(MsgVariantsReferenced)
	case store.IsUniqueViolation(err):
		return nil, apierror.BadRequest("Duplicate parameter set")
	case err != nil:
		return nil, err
	}
	return s.store.GetProductDetail(ctx, productID)
}

// UpdateStock overwrites stock. A published product coming back in stock
// emails and clears its availability notifications.
func (s *ProductService) UpdateStock(ctx context.Context, userID, productID int64, req *StockRequest) (*models.ProductDetail, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.UpdateStock")
	defer span.End()

	var product *models.Product
	var notify []models.AvailabilityNotification
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		p, err := s.loadOwnedProduct(ctx, tx, userID, productID, true)
		if err != nil {
			return err
		}
		product = p

		hadStock, err := tx.ProductHasStock(ctx, p.ID)
		if err != nil {
			return err
		}

		heldStock, heldShipLater, err := tx.HeldStock(ctx, p.ID, req.ParameterSetID)
		if err != nil {
			return err
		}
		if req.Stock < heldStock || req.ShipLaterStock < heldShipLater {
			return apierror.Conflict(MsgStockBelowHeld)
		}
		stock, shipLater := req.Stock-heldStock, req.ShipLaterStock-heldShipLater

		if req.ParameterSetID != nil {
			err = tx.SetParameterSetStock(ctx, p.ID, *req.ParameterSetID, stock, shipLater)
			if store.IsNotFound(err) {
				return apierror.NotFound("Parameter set not found")
			}
		} else {
			err = tx.SetProductStock(ctx, p.ID, stock, shipLater)
		}
		if err != nil {
			return fmt.Errorf("failed to update stock: %w", err)
		}

		hasStock, err := tx.ProductHasStock(ctx, p.ID)
		if err != nil {
			return err
		}
		if p.Status == models.ProductStatusPublished && !hadStock && hasStock {
			if notify, err = tx.ListAvailabilityNotifications(ctx, p.ID); err != nil {
				return err
			}
			if _, err := tx.DeleteAvailabilityNotifications(ctx, p.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind, id := redisclient.KindProduct, productID
	if req.ParameterSetID != nil {
		kind, id = redisclient.KindParameterSet, *req.ParameterSetID
	}
	s.inventory.InvalidateCache(ctx, redisclient.StockKey(kind, id, false), redisclient.StockKey(kind, id, true))

	for _, n := range notify {
		event := notificationEvent("restock", n.Email, models.EmailCategoryRestock, map[string]string{
			"product_id":   strconv.FormatInt(product.ID, 10),
			"product_name": product.Name,
		})
		if err := s.publisher.PublishNotification(ctx, event); err != nil {
			s.logger.Error("Failed to publish restock notification", zap.Int64("product_id", product.ID), zap.Error(err))
		}
	}

	return s.store.GetProductDetail(ctx, productID)
}

// RegisterAvailabilityNotification asks to be emailed when an out-of-stock
// product can be bought again
func (s *ProductService) RegisterAvailabilityNotification(ctx context.Context, userID int64, email string, productID int64) (*models.AvailabilityNotification, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, storeErr(err, MsgProductNotFound)
	}
	if p.Status != models.ProductStatusPublished {
		return nil, apierror.NotFound(MsgProductNotFound)
	}

	inStock, err := s.store.ProductHasStock(ctx, productID)
	if err != nil {
		return nil, err
	}
	if inStock {
		return nil, apierror.BadRequest(MsgProductInStock)
	}

	n := &models.AvailabilityNotification{ProductID: productID, UserID: userID, Email: normalizeEmail(email)}
	if err := s.store.CreateAvailabilityNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to register availability notification: %w", err)
	}
	return n, nil
}
