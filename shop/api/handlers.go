package api

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/adeilh/rakh-shop/auth"
	"github.com/adeilh/rakh-shop/cache/expiring"
	"github.com/adeilh/rakh-shop/httpx"
	"github.com/adeilh/rakh-shop/shop"
)

// Handler serves the storefront endpoints over the repositories.
type Handler struct {
	catalog  CatalogRepository
	likes    LikeRepository
	carts    CartRepository
	cache    *expiring.Cache
	cacheTTL time.Duration
	pageSize int
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Handler)

// WithResponseCache caches public catalog responses in c for ttl.
func WithResponseCache(c *expiring.Cache, ttl time.Duration) Option {
	return func(h *Handler) {
		h.cache = c
		if ttl > 0 {
			h.cacheTTL = ttl
		}
	}
}

func WithPageSize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.pageSize = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithNowFunc(fn func() time.Time) Option {
	return func(h *Handler) {
		if fn != nil {
			h.now = fn
		}
	}
}

// NewHandler builds a Handler. All three repositories are required.
func NewHandler(catalog CatalogRepository, likes LikeRepository, carts CartRepository, opts ...Option) (*Handler, error) {
	if catalog == nil || likes == nil || carts == nil {
		return nil, errors.New("api: catalog, like and cart repositories are required")
	}
	h := &Handler{
		catalog:  catalog,
		likes:    likes,
		carts:    carts,
		cacheTTL: 5 * time.Minute,
		pageSize: DefaultPageSize,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Routes mounts the API under prefix. requireAuth guards the customer
// endpoints and must place the verified token in the request context.
func (h *Handler) Routes(prefix string, requireAuth httpx.MiddlewareFunc) httpx.RouteRegistrar {
	return func(a *httpx.App) {
		a.GET("/healthz", h.health)

		r := a.Group(prefix)
		r.GET("/healthz", h.health).
			GET("/categories", h.listCategories).
			GET("/products", h.listProducts).
			GET("/products/:id", h.getProduct)

		r.GET("/likes", h.listLikes, requireAuth).
			POST("/likes/:productId", h.addLike, requireAuth).
			DELETE("/likes/:productId", h.removeLike, requireAuth)

		r.GET("/cart", h.getCart, requireAuth).
			POST("/cart/items", h.addCartItem, requireAuth).
			PATCH("/cart/items/:productId", h.updateCartItem, requireAuth).
			DELETE("/cart/items/:productId", h.removeCartItem, requireAuth)
	}
}

func (h *Handler) health(c httpx.Context) error {
	return c.JSON(httpx.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listCategories(c httpx.Context) error {
	ctx := c.Request().Context()
	cats, err := cached(ctx, h, "categories", func(ctx context.Context) (shop.Categories, error) {
		cats, err := h.catalog.Categories(ctx)
		return shop.Categories(cats), err
	})
	if err != nil {
		return h.fail(c, err)
	}
	if cats == nil {
		cats = shop.Categories{}
	}
	return c.JSON(httpx.StatusOK, cats)
}

func (h *Handler) listProducts(c httpx.Context) error {
	page := 1
	if raw := strings.TrimSpace(c.QueryParam("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return httpx.HTTPError(httpx.StatusBadRequest, "page must be a positive integer")
		}
		page = n
	}
	slug := strings.TrimSpace(c.QueryParam("category"))

	ctx := c.Request().Context()
	key := "products:" + slug + ":" + strconv.Itoa(page)
	out, err := cached(ctx, h, key, func(ctx context.Context) (shop.ProductPage, error) {
		return h.catalog.Products(ctx, slug, page, h.pageSize)
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(httpx.StatusOK, out)
}

func (h *Handler) getProduct(c httpx.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	ctx := c.Request().Context()
	p, err := cached(ctx, h, "product:"+id, func(ctx context.Context) (shop.Product, error) {
		return h.catalog.Product(ctx, id)
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(httpx.StatusOK, p)
}

func (h *Handler) listLikes(c httpx.Context) error {
	customer, err := customerID(c)
	if err != nil {
		return err
	}
	likes, err := h.likes.Likes(c.Request().Context(), customer)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(httpx.StatusOK, toLikedItems(likes))
}

func (h *Handler) addLike(c httpx.Context) error {
	customer, err := customerID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	productID := strings.TrimSpace(c.Param("productId"))
	if _, err := h.catalog.Product(ctx, productID); err != nil {
		return h.fail(c, err)
	}
	like := Like{CustomerID: customer, ProductID: productID, CreatedAt: h.now().UTC()}
	if err := h.likes.AddLike(ctx, like); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(httpx.StatusNoContent)
}

func (h *Handler) removeLike(c httpx.Context) error {
	customer, err := customerID(c)
	if err != nil {
		return err
	}
	productID := strings.TrimSpace(c.Param("productId"))
	if err := h.likes.RemoveLike(c.Request().Context(), customer, productID); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(httpx.StatusNoContent)
}

func (h *Handler) getCart(c httpx.Context) error {
	customer, err := customerID(c)
	if err != nil {
		return err
	}
	items, err := h.carts.CartItems(c.Request().Context(), customer)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(httpx.StatusOK, toCartLines(items))
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Size     string `json:"size"`
	Color    string `json:"color"`
	Quantity int    `json:"quantity"`
}

func (h *Handler) addCartItem(c httpx.Context) error {
	customer, err := customerID(c)
	if err != nil {
		return err
	}
	var req addCartItemRequest
	if err := c.Bind(&req); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "malformed request body")
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		return httpx.HTTPError(httpx.StatusBadRequest, "productId is required")
	}
	if req.Quantity < 1 {
		return httpx.HTTPError(httpx.StatusBadRequest, "quantity must be at least 1")
	}

	ctx := c.Request().Context()
	product, err := h.catalog.Product(ctx, req.ProductID)
	if err != nil {
		return h.fail(c, err)
	}
	if err := checkVariant(product, req.Size, req.Color); err != nil {
		return err
	}

	item, err := h.carts.AddCartItem(ctx, CartItem{
		CustomerID: customer,
		ProductID:  req.ProductID,
		Size:       req.Size,
		Color:      req.Color,
		Quantity:   req.Quantity,
		AddedAt:    h.now().UTC(),
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(httpx.StatusCreated, toCartLines([]CartItem{item})[0])
}

func (h *Handler) updateCartItem(c httpx.Context) error {
	customer, err := customerID(c)
	if err != nil {
		return err
	}
	var req updateCartItemRequest
	if err := c.Bind(&req); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "malformed request body")
	}
	if req.Quantity < 1 {
		return httpx.HTTPError(httpx.StatusBadRequest, "quantity must be at least 1")
	}
	key := shop.LineKey{ProductID: strings.TrimSpace(c.Param("productId")), Size: req.Size, Color: req.Color}
	item, err := h.carts.SetCartQuantity(c.Request().Context(), customer, key, req.Quantity)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(httpx.StatusOK, toCartLines([]CartItem{item})[0])
}

func (h *Handler) removeCartItem(c httpx.Context) error {
	customer, err := customerID(c)
	if err != nil {
		return err
	}
	key := shop.LineKey{
		ProductID: strings.TrimSpace(c.Param("productId")),
		Size:      c.QueryParam("size"),
		Color:     c.QueryParam("color"),
	}
	if err := h.carts.RemoveCartItem(c.Request().Context(), customer, key); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(httpx.StatusNoContent)
}

// fail maps repository errors to HTTP errors. Anything unexpected is logged
// and reported as a 500 without detail.
func (h *Handler) fail(c httpx.Context, err error) error {
	switch {
	case errors.Is(err, ErrProductNotFound):
		return httpx.HTTPError(httpx.StatusNotFound, "product not found")
	case errors.Is(err, ErrCategoryNotFound):
		return httpx.HTTPError(httpx.StatusNotFound, "category not found")
	case errors.Is(err, ErrCartItemNotFound):
		return httpx.HTTPError(httpx.StatusNotFound, "cart item not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return httpx.HTTPError(httpx.StatusServiceUnavailable, "request cancelled")
	}
	h.logger.Error("api: request failed",
		"method", c.Request().Method,
		"path", c.Path(),
		"error", err,
	)
	return httpx.HTTPError(httpx.StatusInternalError, "internal error")
}

func customerID(c httpx.Context) (string, error) {
	id, ok := auth.CustomerID(c.Request().Context())
	if !ok {
		return "", httpx.HTTPError(httpx.StatusUnauthorized, "unauthorized")
	}
	return id, nil
}

func checkVariant(p shop.Product, size, color string) error {
	if len(p.Sizes) > 0 && !slices.Contains(p.Sizes, size) {
		return httpx.HTTPError(httpx.StatusBadRequest, "unknown size "+strconv.Quote(size))
	}
	if len(p.Colors) > 0 && !slices.Contains(p.Colors, color) {
		return httpx.HTTPError(httpx.StatusBadRequest, "unknown color "+strconv.Quote(color))
	}
	return nil
}

// cached serves key from the response cache when configured, loading and
// storing it on a miss. Cache write failures only cost the next request a
// repository read.
func cached[T any](ctx context.Context, h *Handler, key string, load func(context.Context) (T, error)) (T, error) {
	var out T
	if h.cache != nil && h.cache.Get(ctx, key, &out) {
		return out, nil
	}
	out, err := load(ctx)
	if err != nil {
		return out, err
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, key, out, h.cacheTTL); err != nil {
			h.logger.Warn("api: response cache write failed", "key", key, "error", err)
		}
	}
	return out, nil
}
