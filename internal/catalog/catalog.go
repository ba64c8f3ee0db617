// Package catalog holds static metadata for known Tuya BLE products, keyed
// by category and product id, and helpers for naming devices.
package catalog

// DefaultManufacturer is used when a product entry does not override it.
const DefaultManufacturer = "Tuya"

// FingerbotInfo maps Fingerbot features to datapoint ids. ManualControl is
// zero when the product cannot report physical button presses.
type FingerbotInfo struct {
	Switch           int
	Mode             int
	UpPosition       int
	DownPosition     int
	HoldTime         int
	ReversePositions int
	ManualControl    int
	Program          int
}

// ProductInfo describes a product model.
type ProductInfo struct {
	Name         string
	Manufacturer string
	Fingerbot    *FingerbotInfo
}

// Clone returns a deep copy of p, or nil.
func (p *ProductInfo) Clone() *ProductInfo {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Fingerbot != nil {
		fb := *p.Fingerbot
		cp.Fingerbot = &fb
	}
	return &cp
}

type categoryInfo struct {
	products map[string]*ProductInfo
	info     *ProductInfo // category-wide fallback
}

func product(name string) *ProductInfo {
	return &ProductInfo{Name: name, Manufacturer: DefaultManufacturer}
}

func fingerbot(name string, fb FingerbotInfo) *ProductInfo {
	p := product(name)
	p.Fingerbot = &fb
	return p
}

// each maps every id to the same product entry.
func each(p *ProductInfo, ids ...string) map[string]*ProductInfo {
	m := make(map[string]*ProductInfo, len(ids))
	for _, id := range ids {
		m[id] = p
	}
	return m
}

func merge(maps ...map[string]*ProductInfo) map[string]*ProductInfo {
	out := make(map[string]*ProductInfo)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

var cubeTouch = FingerbotInfo{
	Switch:           1,
	Mode:             2,
	UpPosition:       5,
	DownPosition:     6,
	HoldTime:         3,
	ReversePositions: 4,
}

var categories = map[string]categoryInfo{
	"co2bj": {products: each(product("CO2 Detector"), "59s19z5m")},
	"ms":    {products: each(product("Smart Lock"), "ludzroix", "isk2p555", "isljqiq1")},
	"szjqr": {products: merge(
		each(fingerbot("CUBETOUCH 1s", cubeTouch), "3yqdo5yt"),
		each(fingerbot("CubeTouch II", cubeTouch), "xhf790if"),
		each(fingerbot("Fingerbot Plus", FingerbotInfo{
			Switch:           2,
			Mode:             8,
			UpPosition:       15,
			DownPosition:     9,
			HoldTime:         10,
			ReversePositions: 11,
			ManualControl:    17,
			Program:          121,
		}), "blliqpsj", "ndvkgsrm", "yiihr7zh", "neq16kgd"),
		each(fingerbot("Fingerbot", FingerbotInfo{
			Switch:           2,
			Mode:             8,
			UpPosition:       15,
			DownPosition:     9,
			HoldTime:         10,
			ReversePositions: 11,
			Program:          121,
		}), "ltak7e1p", "y6kttvd6", "yrnk7mnn", "nvr2rocq", "bnt7wajf", "rvdceqjh", "5xhbk964"),
	)},
	"wk":    {products: each(product("Thermostatic Radiator Valve"), "drlajpqc", "nhj2j7su")},
	"wsdcg": {products: each(product("Soil moisture sensor"), "ojzlzzsw")},
	"znhsb": {products: each(product("Smart water bottle"), "cdlandip")},
	"ggq":   {products: each(product("Irrigation computer"), "6pahkcau")},
}

// Lookup returns a copy of the product info for category and productID.
// Unknown product ids fall back to the category-level info, which may be nil.
func Lookup(category, productID string) *ProductInfo {
	cat, ok := categories[category]
	if !ok {
		return nil
	}
	if p, ok := cat.products[productID]; ok {
		return p.Clone()
	}
	return cat.info.Clone()
}
