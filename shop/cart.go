package shop

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/adeilh/rakh-shop/apiclient"
	"github.com/adeilh/rakh-shop/cache"
	"github.com/adeilh/rakh-shop/optimistic"
)

const (
	// CartKey is the durable snapshot key of the cart.
	CartKey = "cart"
	// DefaultCartTTL is how long a cart survives after its first line was added.
	DefaultCartTTL = time.Hour
)

// Cart is the customer's cart. Lines are unique per product, size and color.
type Cart struct {
	client *apiclient.Client
	store  *optimistic.Store[LineKey, CartLine]
	ttl    time.Duration
	now    func() time.Time
}

// NewCart builds the cart over durable. A non-positive ttl uses
// DefaultCartTTL. Call Load before use.
func NewCart(client *apiclient.Client, durable cache.Store, ttl time.Duration, opts ...optimistic.Option) *Cart {
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}
	c := &Cart{client: client, ttl: ttl, now: time.Now}
	all := append(append([]optimistic.Option(nil), opts...), optimistic.WithTTL(ttl))
	c.store = optimistic.New[LineKey, CartLine](CartKey, durable, cartRemote{client}, all...)
	return c
}

type cartRemote struct{ client *apiclient.Client }

func (r cartRemote) Online(ctx context.Context) bool {
	return r.client != nil && r.client.Authenticated(ctx)
}

func (r cartRemote) Fetch(ctx context.Context) ([]optimistic.Entry[LineKey, CartLine], error) {
	var lines CartLines
	if err := r.client.Get(ctx, "/cart", &lines, apiclient.RequireAuth(), apiclient.Resource("cart")); err != nil {
		return nil, err
	}
	entries := make([]optimistic.Entry[LineKey, CartLine], 0, len(lines))
	for _, l := range lines {
		entries = append(entries, optimistic.Entry[LineKey, CartLine]{Key: l.Key(), Value: l})
	}
	return entries, nil
}

type addLineRequest struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
}

type quantityRequest struct {
	Size     string `json:"size"`
	Color    string `json:"color"`
	Quantity int    `json:"quantity"`
}

// Load reads the local snapshot, discarding it when the cart has expired.
func (c *Cart) Load(ctx context.Context) error { return c.store.Load(ctx) }

// Sync replaces the local cart with the server's when signed in.
func (c *Cart) Sync(ctx context.Context) error { return c.store.Sync(ctx) }

// Add puts line in the cart. A line with the same product, size and color has
// its quantity increased instead.
func (c *Cart) Add(ctx context.Context, line CartLine) error {
	line.ProductID = strings.TrimSpace(line.ProductID)
	if err := line.Validate(); err != nil {
		return err
	}
	if line.AddedAt.IsZero() {
		line.AddedAt = c.now().UTC()
	}
	return c.store.Apply(ctx, optimistic.Mutation[LineKey, CartLine]{
		Key: line.Key(),
		Apply: func(cur CartLine, present bool) (CartLine, bool) {
			if present {
				cur.Quantity += line.Quantity
				return cur, true
			}
			return line, true
		},
		Remote: func(ctx context.Context) error {
			body := addLineRequest{ProductID: line.ProductID, Size: line.Size, Color: line.Color, Quantity: line.Quantity}
			return c.client.Post(ctx, "/cart/items", body, nil,
				apiclient.RequireAuth(), apiclient.Resource("product "+line.ProductID))
		},
	})
}

// Remove deletes the line outright, whatever its quantity.
func (c *Cart) Remove(ctx context.Context, key LineKey) error {
	if strings.TrimSpace(key.ProductID) == "" {
		return ErrEmptyProductID
	}
	return c.store.Apply(ctx, optimistic.Mutation[LineKey, CartLine]{
		Key:   key,
		Apply: func(CartLine, bool) (CartLine, bool) { return CartLine{}, false },
		Remote: func(ctx context.Context) error {
			return c.client.Delete(ctx, linePath(key.ProductID), nil,
				apiclient.RequireAuth(),
				apiclient.Resource("cart line "+key.String()),
				apiclient.Query(map[string]string{"size": key.Size, "color": key.Color}),
			)
		},
	})
}

// SetQuantity replaces a line's quantity. The remote update is a PATCH and is
// not retried when rate limited.
func (c *Cart) SetQuantity(ctx context.Context, key LineKey, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if _, ok := c.store.Get(key); !ok {
		return ErrLineNotFound
	}
	return c.store.Apply(ctx, optimistic.Mutation[LineKey, CartLine]{
		Key: key,
		Apply: func(cur CartLine, present bool) (CartLine, bool) {
			if !present {
				return cur, false
			}
			cur.Quantity = quantity
			return cur, true
		},
		Remote: func(ctx context.Context) error {
			body := quantityRequest{Size: key.Size, Color: key.Color, Quantity: quantity}
			return c.client.Patch(ctx, linePath(key.ProductID), body, nil,
				apiclient.RequireAuth(), apiclient.Resource("cart line "+key.String()))
		},
	})
}

// Lines returns the visible cart in the order lines were added.
func (c *Cart) Lines() []CartLine {
	items := c.store.Items()
	out := make([]CartLine, 0, len(items))
	for _, it := range items {
		out = append(out, it.Value)
	}
	return out
}

// Line returns the visible line for key.
func (c *Cart) Line(key LineKey) (CartLine, bool) {
	return c.store.Get(key)
}

// Count is the total quantity across all lines.
func (c *Cart) Count() int {
	n := 0
	for _, l := range c.Lines() {
		n += l.Quantity
	}
	return n
}

// ExpiresAt is when the cart will be discarded at the next Load, or the zero
// time for an empty cart.
func (c *Cart) ExpiresAt() time.Time {
	first := c.store.FirstAddedAt()
	if first.IsZero() {
		return time.Time{}
	}
	return first.Add(c.ttl)
}

// Clear empties the local cart.
func (c *Cart) Clear(ctx context.Context) error { return c.store.Clear(ctx) }

// OnChange subscribes fn to visible changes.
func (c *Cart) OnChange(fn func([]CartLine)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return c.store.OnChange(func(items []optimistic.Item[LineKey, CartLine]) {
		out := make([]CartLine, 0, len(items))
		for _, it := range items {
			out = append(out, it.Value)
		}
		fn(out)
	})
}

func linePath(productID string) string {
	return "/cart/items/" + url.PathEscape(productID)
}
