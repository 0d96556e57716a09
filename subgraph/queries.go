package subgraph

import (
	"encoding/json"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/cloudx-io/batchclearing/core"
)

const fairSaleBidsQuery = `
{
  fairSale(id: %s) {
    bids {
      id
      bidder
      tokenInAmount
      tokenOutAmount
      createdAt
    }
  }
}
`

const fixedPricePurchasesQuery = `
{
  fixedPriceSale(id: %s) {
    tokenPrice
    purchases {
      id
      buyer
      amount
      createdAt
    }
  }
}
`

const saleFields = `
    id
    tokensForSale
    startDate
    endDate
    status
    minPrice
    tokenIn { symbol }
    tokenOut { symbol }
`

// AuctionsQuery lists every sale of both kinds.
var AuctionsQuery = fmt.Sprintf(`
{
  fairSales(orderBy: startDate, orderDirection: asc) {%s  }
  fixedPriceSales(orderBy: startDate, orderDirection: asc) {%s    tokenPrice
  }
}
`, saleFields, saleFields)

// BidsQuery builds the query for the bids of one sale. Fixed-price sales
// return their purchases together with the sale price.
func BidsQuery(auctionID string, kind core.AuctionKind) (string, error) {
	// JSON string syntax is valid GraphQL string syntax
	quoted, err := json.Marshal(auctionID)
	if err != nil {
		return "", fmt.Errorf("quote auction id: %w", err)
	}

	var query string
	switch kind {
	case core.AuctionKindBatch:
		query = fmt.Sprintf(fairSaleBidsQuery, quoted)
	case core.AuctionKindFixedPrice:
		query = fmt.Sprintf(fixedPricePurchasesQuery, quoted)
	default:
		return "", fmt.Errorf("unknown auction kind %q", kind)
	}

	if err := ValidateQuery(query); err != nil {
		return "", err
	}
	return query, nil
}

// ValidateQuery parses query and checks it holds exactly one operation.
func ValidateQuery(query string) error {
	doc, err := parser.ParseQuery(&ast.Source{Name: "query", Input: query})
	if err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}
	if len(doc.Operations) != 1 {
		return fmt.Errorf("invalid query: expected 1 operation, got %d", len(doc.Operations))
	}
	return nil
}
