// Package usda provides a minimal client for the USDA FoodData Central API.
//
// See https://fdc.nal.usda.gov/api-guide.
package usda

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// APIEndpoint is the base URL of the FoodData Central API.
const APIEndpoint = "https://api.nal.usda.gov/fdc/v1"

// Nutrient IDs used by FoodData Central for the macros we track.
const (
	nutrientEnergyKcal = 1008
	nutrientProtein    = 1003
	nutrientFat        = 1004
	nutrientCarbs      = 1005
	nutrientFiber      = 1079
)

// Client holds configuration for interacting with the FoodData Central API.
type Client struct {
	// APIKey is the API key used for authentication.
	APIKey string
	// HTTPClient is an optional HTTP client to use for requests. Defaults to
	// request.DefaultClient.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs unwanted data from
	// error messages.
	Scrubber *strings.Replacer
}

// Food is a single food entry returned by [Client.Search]. Macro values are
// per 100 g of the food; nil means the database doesn't report that nutrient
// for this entry.
type Food struct {
	FDCID       int64
	Description string

	CaloriesKcal *float64
	ProteinG     *float64
	CarbsG       *float64
	FatG         *float64
	FiberG       *float64
}

type searchResponse struct {
	Foods []searchFood `json:"foods"`
}

type searchFood struct {
	FDCID         int64          `json:"fdcId"`
	Description   string         `json:"description"`
	FoodNutrients []foodNutrient `json:"foodNutrients"`
}

type foodNutrient struct {
	NutrientID int64    `json:"nutrientId"`
	Value      *float64 `json:"value"`
}

// SearchPageSize is the number of candidates requested per search.
const SearchPageSize = 5

// Search queries the FoodData Central database for the given food name and
// returns up to [SearchPageSize] candidate entries, best textual match first
// as ranked by the database itself.
func (c *Client) Search(ctx context.Context, query string) ([]Food, error) {
	params := url.Values{}
	params.Set("api_key", c.APIKey)
	params.Set("query", query)
	params.Set("pageSize", strconv.Itoa(SearchPageSize))
	params.Set("dataType", "Foundation,SR Legacy,Survey (FNDDS)")

	resp, err := makeRequest[searchResponse](ctx, c, APIEndpoint+"/foods/search?"+params.Encode())
	if err != nil {
		return nil, err
	}

	foods := make([]Food, 0, len(resp.Foods))
	for _, f := range resp.Foods {
		if f.FDCID == 0 || f.Description == "" {
			continue
		}
		food := Food{
			FDCID:       f.FDCID,
			Description: f.Description,
		}
		for _, n := range f.FoodNutrients {
			switch n.NutrientID {
			case nutrientEnergyKcal:
				food.CaloriesKcal = n.Value
			case nutrientProtein:
				food.ProteinG = n.Value
			case nutrientCarbs:
				food.CarbsG = n.Value
			case nutrientFat:
				food.FatG = n.Value
			case nutrientFiber:
				food.FiberG = n.Value
			}
		}
		foods = append(foods, food)
	}
	return foods, nil
}
