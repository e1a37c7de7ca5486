package shopify

import "context"

type Product struct {
	Title     string
	Price     string
	Available int
}

const productsQuery = `
query Products($first: Int!, $query: String) {
  products(first: $first, query: $query) {
    edges {
      node {
        title
        variants(first: 1) {
          edges {
            node {
              price
              inventoryQuantity
            }
          }
        }
      }
    }
  }
}`

type productsData struct {
	Products struct {
		Edges []struct {
			Node struct {
				Title    string `json:"title"`
				Variants struct {
					Edges []struct {
						Node struct {
							Price             string `json:"price"`
							InventoryQuantity int    `json:"inventoryQuantity"`
						} `json:"node"`
					} `json:"edges"`
				} `json:"variants"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"products"`
}

// GetProducts returns the first products in the catalog.
func (c *Client) GetProducts(ctx context.Context, shop, accessToken string, first int) ([]Product, error) {
	return c.queryProducts(ctx, shop, accessToken, first, nil)
}

// SearchProducts returns products matching a keyword query.
func (c *Client) SearchProducts(ctx context.Context, shop, accessToken, query string, first int) ([]Product, error) {
	return c.queryProducts(ctx, shop, accessToken, first, map[string]any{"query": query})
}

func (c *Client) queryProducts(ctx context.Context, shop, accessToken string, first int, extra map[string]any) ([]Product, error) {
	if first <= 0 {
		first = 10
	}
	variables := map[string]any{"first": first}
	for k, v := range extra {
		variables[k] = v
	}

	var data productsData
	if err := c.Execute(ctx, shop, accessToken, productsQuery, variables, &data); err != nil {
		return nil, err
	}

	products := make([]Product, 0, len(data.Products.Edges))
	for _, edge := range data.Products.Edges {
		product := Product{Title: edge.Node.Title}
		if variants := edge.Node.Variants.Edges; len(variants) > 0 {
			product.Price = variants[0].Node.Price
			product.Available = variants[0].Node.InventoryQuantity
		}
		products = append(products, product)
	}
	return products, nil
}
