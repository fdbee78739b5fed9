package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/backend"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/cache"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"github.com/MetheMeticien/Mark-Ed-Place/internal/service"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var ErrProductNotFound = errors.New("product not found")

// Client resolves product snapshots from the marketplace catalog, reading
// through a product cache.
type Client struct {
	api   *backend.Client
	cache cache.ProductCache
	log   logrus.FieldLogger
	sfg   singleflight.Group // collapses concurrent misses for one product
}

// NewClient builds a catalog client. productCache may be nil.
func NewClient(api *backend.Client, productCache cache.ProductCache, log logrus.FieldLogger) *Client {
	return &Client{api: api, cache: productCache, log: log}
}

func (c *Client) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	v, err, _ := c.sfg.Do(productID, func() (interface{}, error) {
		if c.cache != nil {
			product, err := c.cache.Get(ctx, productID)
			if err == nil {
				return product, nil
			}
			if !errors.Is(err, cache.ErrCacheMiss) {
				c.log.WithError(err).Warn("product cache get failed")
			}
		}

		var product domain.Product
		err := c.api.Do(ctx, backend.Request{
			Method: http.MethodGet,
			Path:   fmt.Sprintf("/products/%s", url.PathEscape(productID)),
		}, &product)
		if backend.StatusOf(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		if err != nil {
			return nil, err
		}

		if c.cache != nil {
			go func(p domain.Product) {
				setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := c.cache.Set(setCtx, &p); err != nil {
					c.log.WithError(err).Warn("product cache set failed")
				}
			}(product)
		}
		return &product, nil
	})
	if err != nil {
		return nil, err
	}

	// callers sharing a flight must not share the snapshot
	product := *v.(*domain.Product)
	return &product, nil
}

// Notify drops the cached snapshots of products a checkout just ordered,
// since their stock moved.
func (c *Client) Notify(ctx context.Context, e service.Event) {
	if e.Type != service.EventCheckoutSucceeded && e.Type != service.EventCheckoutFailed {
		return
	}
	for _, id := range e.Ordered {
		c.Invalidate(ctx, id)
	}
}

// Invalidate drops a cached snapshot.
func (c *Client) Invalidate(ctx context.Context, productID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, productID); err != nil {
		c.log.WithError(err).Warn("product cache invalidate failed")
	}
}
