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

// LikesKey is the durable snapshot key of the liked collection.
const LikesKey = "likes"

// Likes is the customer's liked-products collection.
type Likes struct {
	client *apiclient.Client
	store  *optimistic.Store[string, LikedItem]
	now    func() time.Time
}

// NewLikes builds the collection over durable. Call Load before use.
func NewLikes(client *apiclient.Client, durable cache.Store, opts ...optimistic.Option) *Likes {
	l := &Likes{client: client, now: time.Now}
	l.store = optimistic.New[string, LikedItem](LikesKey, durable, likesRemote{client}, opts...)
	return l
}

type likesRemote struct{ client *apiclient.Client }

func (r likesRemote) Online(ctx context.Context) bool {
	return r.client != nil && r.client.Authenticated(ctx)
}

func (r likesRemote) Fetch(ctx context.Context) ([]optimistic.Entry[string, LikedItem], error) {
	var items LikedItems
	if err := r.client.Get(ctx, "/likes", &items, apiclient.RequireAuth(), apiclient.Resource("likes")); err != nil {
		return nil, err
	}
	entries := make([]optimistic.Entry[string, LikedItem], 0, len(items))
	for _, it := range items {
		entries = append(entries, optimistic.Entry[string, LikedItem]{Key: it.ProductID, Value: it})
	}
	return entries, nil
}

// Load reads the local snapshot.
func (l *Likes) Load(ctx context.Context) error { return l.store.Load(ctx) }

// Sync replaces the local collection with the server's when signed in.
func (l *Likes) Sync(ctx context.Context) error { return l.store.Sync(ctx) }

// Like adds productID. When signed in the call returns once the server has
// confirmed or rejected it; a rejection is rolled back and returned.
func (l *Likes) Like(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ErrEmptyProductID
	}
	item := LikedItem{ProductID: productID, LikedAt: l.now().UTC()}
	return l.store.Apply(ctx, optimistic.Mutation[string, LikedItem]{
		Key: productID,
		Apply: func(cur LikedItem, present bool) (LikedItem, bool) {
			if present {
				return cur, true
			}
			return item, true
		},
		Remote: func(ctx context.Context) error {
			return l.client.Post(ctx, likePath(productID), nil, nil,
				apiclient.RequireAuth(), apiclient.Resource("product "+productID))
		},
	})
}

// Unlike removes productID.
func (l *Likes) Unlike(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ErrEmptyProductID
	}
	return l.store.Apply(ctx, optimistic.Mutation[string, LikedItem]{
		Key: productID,
		Apply: func(LikedItem, bool) (LikedItem, bool) {
			return LikedItem{}, false
		},
		Remote: func(ctx context.Context) error {
			return l.client.Delete(ctx, likePath(productID), nil,
				apiclient.RequireAuth(), apiclient.Resource("product "+productID))
		},
	})
}

// Toggle likes productID if it is not currently visible as liked, otherwise
// unlikes it. It reports the state it requested.
func (l *Likes) Toggle(ctx context.Context, productID string) (liked bool, err error) {
	if l.IsLiked(productID) {
		return false, l.Unlike(ctx, productID)
	}
	return true, l.Like(ctx, productID)
}

// IsLiked reports whether productID is in the visible collection.
func (l *Likes) IsLiked(productID string) bool {
	_, ok := l.store.Get(strings.TrimSpace(productID))
	return ok
}

// Items returns the visible liked products in the order they were liked.
func (l *Likes) Items() []LikedItem {
	items := l.store.Items()
	out := make([]LikedItem, 0, len(items))
	for _, it := range items {
		out = append(out, it.Value)
	}
	return out
}

// State reports whether productID's like is confirmed.
func (l *Likes) State(productID string) optimistic.LocalState {
	return l.store.PendingState(strings.TrimSpace(productID))
}

// Clear forgets the local collection, for example on sign-out.
func (l *Likes) Clear(ctx context.Context) error { return l.store.Clear(ctx) }

// OnChange subscribes fn to visible changes.
func (l *Likes) OnChange(fn func([]LikedItem)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return l.store.OnChange(func(items []optimistic.Item[string, LikedItem]) {
		out := make([]LikedItem, 0, len(items))
		for _, it := range items {
			out = append(out, it.Value)
		}
		fn(out)
	})
}

func likePath(productID string) string {
	return "/likes/" + url.PathEscape(productID)
}
