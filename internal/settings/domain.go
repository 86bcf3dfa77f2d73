package settings

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Profile is a POS profile: the selling configuration of a till.
type Profile struct {
	Name                   string            `json:"name"`
	Branch                 string            `json:"branch"`
	Company                string            `json:"company"`
	Warehouse              string            `json:"warehouse"`
	ConsumptionWarehouse   string            `json:"consumption_warehouse"`
	FinishedGoodsWarehouse string            `json:"finished_goods_warehouse"`
	PriceList              string            `json:"selling_price_list"`
	BasePriceList          string            `json:"base_price_list"`
	ChannelPriceLists      map[string]string `json:"channel_price_lists,omitempty"`
	Currency               string            `json:"currency"`
	UpdateStock            bool              `json:"update_stock"`
	AllowNonSalesItems     bool              `json:"allow_non_sales_items"`
	PaymentTolerance       decimal.Decimal   `json:"payment_tolerance"`
	TaxRate                decimal.Decimal   `json:"tax_rate"`
	RequireOpening         bool              `json:"require_opening_entry"`
	Disabled               bool              `json:"disabled"`
}

// StockWarehouse is where consumption of the profile is posted.
func (p Profile) StockWarehouse() string {
	if p.ConsumptionWarehouse != "" {
		return p.ConsumptionWarehouse
	}
	return p.Warehouse
}

// Restaurant holds the settings shared by every profile.
type Restaurant struct {
	DefaultBranch    string   `json:"default_branch"`
	EnableTables     bool     `json:"enable_table_management"`
	DefaultFloor     string   `json:"default_floor"`
	AutoReleaseTable bool     `json:"auto_release_table"`
	EnableKOT        bool     `json:"enable_kot"`
	KOTStations      []string `json:"kot_stations,omitempty"`
	DefaultStation   string   `json:"default_kitchen_station"`
	EnableSelfOrder  bool     `json:"enable_self_order"`
}

// Context is the configuration passed explicitly into each request.
type Context struct {
	Profile    Profile    `json:"profile"`
	Restaurant Restaurant `json:"restaurant"`
}

var (
	// ErrProfileNotFound is returned for unknown POS profiles.
	ErrProfileNotFound = errors.New("settings: pos profile not found")
	// ErrProfileDisabled is returned for disabled POS profiles.
	ErrProfileDisabled = errors.New("settings: pos profile disabled")
)

// ClearDependentFields drops values whose controlling flag is off and
// normalises the rest. It never reads state outside cfg.
func ClearDependentFields(cfg Context) Context {
	r := cfg.Restaurant
	if !r.EnableTables {
		r.DefaultFloor = ""
		r.AutoReleaseTable = false
	}
	if !r.EnableKOT {
		r.KOTStations = nil
		r.DefaultStation = ""
	} else if r.DefaultStation == "" && len(r.KOTStations) > 0 {
		r.DefaultStation = r.KOTStations[0]
	}

	p := cfg.Profile
	if !p.UpdateStock {
		p.ConsumptionWarehouse = ""
	}
	if p.PaymentTolerance.IsNegative() {
		p.PaymentTolerance = decimal.Zero
	}
	if p.TaxRate.IsNegative() {
		p.TaxRate = decimal.Zero
	}
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if p.BasePriceList == p.PriceList {
		p.BasePriceList = ""
	}
	if len(p.ChannelPriceLists) > 0 {
		lists := make(map[string]string, len(p.ChannelPriceLists))
		for channel, list := range p.ChannelPriceLists {
			if strings.TrimSpace(list) != "" {
				lists[strings.ToLower(strings.TrimSpace(channel))] = list
			}
		}
		p.ChannelPriceLists = lists
	}
	if !r.EnableSelfOrder {
		delete(p.ChannelPriceLists, "self_order")
	}
	if len(p.ChannelPriceLists) == 0 {
		p.ChannelPriceLists = nil
	}
	return Context{Profile: p, Restaurant: r}
}
