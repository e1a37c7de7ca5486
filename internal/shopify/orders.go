package shopify

import (
	"context"
	"strings"
)

type Order struct {
	Name              string
	FulfillmentStatus string
	Total             string
	Currency          string
}

const ordersQuery = `
query Orders($first: Int!, $query: String!) {
  orders(first: $first, query: $query) {
    edges {
      node {
        name
        displayFulfillmentStatus
        totalPriceSet {
          shopMoney {
            amount
            currencyCode
          }
        }
      }
    }
  }
}`

type ordersData struct {
	Orders struct {
		Edges []struct {
			Node struct {
				Name                     string `json:"name"`
				DisplayFulfillmentStatus string `json:"displayFulfillmentStatus"`
				TotalPriceSet            struct {
					ShopMoney struct {
						Amount       string `json:"amount"`
						CurrencyCode string `json:"currencyCode"`
					} `json:"shopMoney"`
				} `json:"totalPriceSet"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"orders"`
}

// FindOrder looks up one order by order number or customer email, whichever
// is provided. The order number match strips a leading #.
func (c *Client) FindOrder(ctx context.Context, shop, accessToken, orderNumber, email string) (*Order, error) {
	var query string
	switch {
	case orderNumber != "":
		query = "name:" + strings.TrimPrefix(orderNumber, "#")
	case email != "":
		query = "email:" + email
	default:
		return nil, nil
	}

	var data ordersData
	err := c.Execute(ctx, shop, accessToken, ordersQuery, map[string]any{"first": 1, "query": query}, &data)
	if err != nil {
		return nil, err
	}
	if len(data.Orders.Edges) == 0 {
		return nil, nil
	}

	node := data.Orders.Edges[0].Node
	return &Order{
		Name:              node.Name,
		FulfillmentStatus: node.DisplayFulfillmentStatus,
		Total:             node.TotalPriceSet.ShopMoney.Amount,
		Currency:          node.TotalPriceSet.ShopMoney.CurrencyCode,
	}, nil
}
