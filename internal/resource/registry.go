// Package resource knows the backend collections the dashboard works with and
// how to read and write their records.
package resource

import (
	"fmt"
	"net/url"
	"strings"
)

// Resource is one REST collection, e.g. inventory items at "inventory/items/".
type Resource struct {
	// Name is the short handle used on the command line, e.g. "items".
	Name  string
	Title string
	Group string
	// Path is relative to the API base URL and ends with a slash.
	Path string
}

// ItemPath returns the path of a single record in the collection. The id must be
// one path segment.
func (r Resource) ItemPath(id string) (string, error) {
	id = strings.Trim(id, "/")
	if id == "" || id == "." || id == ".." || strings.Contains(id, "/") {
		return "", fmt.Errorf("invalid %s id %q", r.Name, id)
	}
	return r.Path + url.PathEscape(id) + "/", nil
}

// Registry maps short names to resources, keeping registration order.
type Registry struct {
	entries []Resource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds res. A later registration with the same name replaces the earlier one.
func (r *Registry) Register(res Resource) {
	res.Path = normalizePath(res.Path)
	for i, e := range r.entries {
		if e.Name == res.Name {
			r.entries[i] = res
			return
		}
	}
	r.entries = append(r.entries, res)
}

// Lookup finds a resource by name. A value containing "/" is taken as a raw
// collection path, so endpoints missing from the registry remain reachable.
func (r *Registry) Lookup(nameOrPath string) (Resource, error) {
	for _, e := range r.entries {
		if e.Name == nameOrPath {
			return e, nil
		}
	}
	if strings.Contains(nameOrPath, "/") {
		path := normalizePath(nameOrPath)
		for _, e := range r.entries {
			if e.Path == path {
				return e, nil
			}
		}
		group, _, _ := strings.Cut(path, "/")
		return Resource{Name: strings.TrimSuffix(path, "/"), Title: path, Group: group, Path: path}, nil
	}
	return Resource{}, fmt.Errorf("unknown resource %q", nameOrPath)
}

// All returns every registered resource in registration order.
func (r *Registry) All() []Resource {
	return append([]Resource(nil), r.entries...)
}

// DefaultRegistry lists the collections served by the inventory backend.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	for _, res := range []Resource{
		{Name: "items", Title: "Items", Group: "inventory", Path: "inventory/items/"},
		{Name: "stocks", Title: "Stock", Group: "inventory", Path: "inventory/stocks/"},
		{Name: "bins", Title: "Bins", Group: "inventory", Path: "inventory/bins/"},
		{Name: "expiries", Title: "Expiry", Group: "inventory", Path: "inventory/expiries/"},
		{Name: "vendors", Title: "Vendors", Group: "procurement", Path: "procurement/vendors/"},
		{Name: "purchase-orders", Title: "Purchase orders", Group: "procurement", Path: "procurement/purchase-orders/"},
		{Name: "grn", Title: "Goods received", Group: "procurement", Path: "procurement/grn/"},
		{Name: "transactions", Title: "Transactions", Group: "finance", Path: "finance/transactions/"},
		{Name: "categories", Title: "Categories", Group: "finance", Path: "finance/categories/"},
		{Name: "finance-overview", Title: "Finance overview", Group: "finance", Path: "finance/overview/"},
		{Name: "stock-analytics", Title: "Stock analytics", Group: "analytics", Path: "analytics/stock/"},
		{Name: "dwell", Title: "Dwell time", Group: "analytics", Path: "analytics/dwell/"},
		{Name: "eoq", Title: "EOQ", Group: "analytics", Path: "analytics/eoq/"},
	} {
		reg.Register(res)
	}
	return reg
}

func normalizePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
