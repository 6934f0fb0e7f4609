package rbac

import (
	"fmt"
	"sort"

	"github.com/tallyard/tallyard/internal/shared"
)

// Node is one permissionable entry of the catalog: a menu or a
// (menu, submenu) pair together with the actions it supports.
type Node struct {
	Menu        string
	Submenu     string
	Actions     []Action
	Description string
}

// Catalog is the static enumeration of every protected operation. It is
// code-defined, seeded into the permissions table at deployment, and
// read-only at runtime.
type Catalog struct {
	nodes []Node
	keys  map[Key]struct{}
}

// NewCatalog builds a catalog from nodes. It panics on duplicate triples or
// invalid actions since the catalog is reference data fixed at compile time.
func NewCatalog(nodes []Node) *Catalog {
	c := &Catalog{
		nodes: make([]Node, len(nodes)),
		keys:  make(map[Key]struct{}),
	}
	copy(c.nodes, nodes)
	for _, n := range c.nodes {
		if n.Menu == "" {
			panic("rbac: catalog node without menu")
		}
		if len(n.Actions) == 0 {
			panic(fmt.Sprintf("rbac: catalog node %s/%s without actions", n.Menu, n.Submenu))
		}
		for _, a := range n.Actions {
			if !a.Valid() {
				panic(fmt.Sprintf("rbac: catalog node %s/%s has invalid action %q", n.Menu, n.Submenu, a))
			}
			key := Key{Menu: n.Menu, Submenu: n.Submenu, Action: a}
			if _, dup := c.keys[key]; dup {
				panic("rbac: duplicate catalog key " + key.String())
			}
			c.keys[key] = struct{}{}
		}
	}
	return c
}

// Nodes returns the catalog entries in their declared, stable order.
func (c *Catalog) Nodes() []Node {
	out := make([]Node, len(c.nodes))
	copy(out, c.nodes)
	return out
}

// Contains reports whether the triple exists in the catalog.
func (c *Catalog) Contains(key Key) bool {
	_, ok := c.keys[key]
	return ok
}

// Resolve validates a requested triple, returning ErrPermissionNotFound for
// keys outside the catalog.
func (c *Catalog) Resolve(key Key) (Key, error) {
	if !c.Contains(key) {
		return Key{}, fmt.Errorf("%w: %s", shared.ErrPermissionNotFound, key)
	}
	return key, nil
}

// Keys enumerates every (node, action) pair in deterministic order.
func (c *Catalog) Keys() []Key {
	out := make([]Key, 0, len(c.keys))
	for _, n := range c.nodes {
		for _, a := range n.Actions {
			out = append(out, Key{Menu: n.Menu, Submenu: n.Submenu, Action: a})
		}
	}
	return out
}

// SortKeys orders keys by menu, submenu then action. Commit batches are
// sorted this way so repeated commits touch rows in the same order.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Menu != keys[j].Menu {
			return keys[i].Menu < keys[j].Menu
		}
		if keys[i].Submenu != keys[j].Submenu {
			return keys[i].Submenu < keys[j].Submenu
		}
		return keys[i].Action < keys[j].Action
	})
}

// Menu and submenu names of the default catalog.
const (
	MenuDashboard    = "Dashboard"
	MenuStock        = "Stock"
	MenuSales        = "Sales"
	MenuPurchases    = "Purchases"
	MenuCashRegister = "CashRegister"
	MenuReports      = "Reports"
	MenuSettings     = "Settings"

	SubmenuItems       = "Items"
	SubmenuTransfers   = "Transfers"
	SubmenuAdjustments = "Adjustments"
	SubmenuCounter     = "Counter"
	SubmenuInvoices    = "Invoices"
	SubmenuOrders      = "Orders"
	SubmenuSuppliers   = "Suppliers"
	SubmenuUsers       = "Users"
	SubmenuRoles       = "Roles"
)

var defaultNodes = []Node{
	{Menu: MenuDashboard, Actions: []Action{ActionRead}, Description: "Landing dashboard and statistics"},
	{Menu: MenuStock, Actions: []Action{ActionRead}, Description: "Stock overview"},
	{Menu: MenuStock, Submenu: SubmenuItems, Actions: []Action{ActionRead, ActionWrite, ActionDelete}, Description: "Item master data"},
	{Menu: MenuStock, Submenu: SubmenuTransfers, Actions: []Action{ActionRead, ActionWrite}, Description: "Warehouse transfers"},
	{Menu: MenuStock, Submenu: SubmenuAdjustments, Actions: []Action{ActionRead, ActionWrite}, Description: "Stock adjustments"},
	{Menu: MenuSales, Actions: []Action{ActionRead}, Description: "Sales overview"},
	{Menu: MenuSales, Submenu: SubmenuCounter, Actions: []Action{ActionRead, ActionWrite}, Description: "Point-of-sale counter"},
	{Menu: MenuSales, Submenu: SubmenuInvoices, Actions: []Action{ActionRead, ActionWrite, ActionDelete}, Description: "Sales invoices"},
	{Menu: MenuPurchases, Submenu: SubmenuOrders, Actions: []Action{ActionRead, ActionWrite, ActionDelete}, Description: "Purchase orders"},
	{Menu: MenuPurchases, Submenu: SubmenuSuppliers, Actions: []Action{ActionRead, ActionWrite, ActionDelete}, Description: "Supplier master data"},
	{Menu: MenuCashRegister, Actions: []Action{ActionRead, ActionWrite}, Description: "Cash register sessions"},
	{Menu: MenuReports, Actions: []Action{ActionRead}, Description: "Reporting and exports"},
	{Menu: MenuSettings, Submenu: SubmenuUsers, Actions: []Action{ActionRead, ActionWrite}, Description: "User administration"},
	{Menu: MenuSettings, Submenu: SubmenuRoles, Actions: []Action{ActionRead, ActionWrite, ActionDelete}, Description: "Role and permission administration"},
}

// DefaultCatalog returns the deployed permission catalog. Changing it
// requires a migration run of the catalog sync job.
func DefaultCatalog() *Catalog {
	return NewCatalog(defaultNodes)
}
