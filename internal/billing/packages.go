package billing

// CreditPackage is a fixed bundle of credits for one-off purchase.
type CreditPackage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int    `json:"credits"`
	PriceCents int64  `json:"price_cents"`
}

// Packages is the purchasable catalog. Prices are pence.
var Packages = []CreditPackage{
	{ID: "starter", Name: "Starter", Credits: 10, PriceCents: 999},
	{ID: "standard", Name: "Standard", Credits: 30, PriceCents: 2499},
	{ID: "pro", Name: "Pro", Credits: 75, PriceCents: 4999},
}

// PackageByID returns the package or nil.
func PackageByID(id string) *CreditPackage {
	for i := range Packages {
		if Packages[i].ID == id {
			return &Packages[i]
		}
	}
	return nil
}
