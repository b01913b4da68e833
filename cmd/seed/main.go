package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"bitbucket.org/mercavio/retail_backend/config"
	"bitbucket.org/mercavio/retail_backend/models"
	"bitbucket.org/mercavio/retail_backend/utils"
	"github.com/shopspring/decimal"
)

// Seeds a development database with a minimal catalog: payment methods, a
// couple of products with sellable units, one client and one supplier.
// Idempotent on name.
func main() {
	migrate := flag.Bool("migrate", true, "Run migrations before seeding")
	flushCache := flag.Bool("flush-cache", false, "Drop cached catalog entries from redis after seeding")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	if *migrate {
		models.MigrateTable()
	}

	methods := []models.PaymentMethod{
		{Name: "Cash", AffectsCashLedger: utils.Ptr(true)},
		{Name: "Card", RequiresReference: utils.Ptr(true)},
		{Name: "Store Credit", IsCredit: utils.Ptr(true)},
	}
	for i := range methods {
		if err := db.Where(models.PaymentMethod{Name: methods[i].Name}).
			FirstOrCreate(&methods[i]).Error; err != nil {
			fmt.Fprintf(os.Stderr, "seeding payment method %q: %v\n", methods[i].Name, err)
			os.Exit(1)
		}
	}

	products := []struct {
		product models.Product
		units   []models.Unit
	}{
		{
			product: models.Product{Name: "House Blend Coffee", DefaultCost: decimal.NewFromFloat(6.5)},
			units: []models.Unit{
				{Name: "250g bag", SalePrice: decimal.NewFromFloat(12.9), DefaultCost: decimal.NewFromFloat(6.5)},
				{Name: "1kg bag", SalePrice: decimal.NewFromFloat(44), DefaultCost: decimal.NewFromFloat(24)},
			},
		},
		{
			product: models.Product{Name: "Ceramic Mug", DefaultCost: decimal.NewFromFloat(3.2)},
			units: []models.Unit{
				{Name: "Single", SalePrice: decimal.NewFromFloat(9.5), DefaultCost: decimal.NewFromFloat(3.2)},
			},
		},
	}
	for _, p := range products {
		product := p.product
		if err := db.Where(models.Product{Name: product.Name}).
			FirstOrCreate(&product).Error; err != nil {
			fmt.Fprintf(os.Stderr, "seeding product %q: %v\n", product.Name, err)
			os.Exit(1)
		}
		for _, u := range p.units {
			u.ProductId = product.ID
			if err := db.Where(models.Unit{ProductId: product.ID, Name: u.Name}).
				FirstOrCreate(&u).Error; err != nil {
				fmt.Fprintf(os.Stderr, "seeding unit %q: %v\n", u.Name, err)
				os.Exit(1)
			}
		}
	}

	client := models.Client{Name: "Walk-in"}
	if err := db.Where(models.Client{Name: client.Name}).FirstOrCreate(&client).Error; err != nil {
		fmt.Fprintf(os.Stderr, "seeding client: %v\n", err)
		os.Exit(1)
	}
	supplier := models.Supplier{Name: "Main Roastery"}
	if err := db.Where(models.Supplier{Name: supplier.Name}).FirstOrCreate(&supplier).Error; err != nil {
		fmt.Fprintf(os.Stderr, "seeding supplier: %v\n", err)
		os.Exit(1)
	}

	// seeded rows may shadow stale cached copies from an earlier run
	if *flushCache {
		config.ConnectRedisWithRetry()
		keys := []string{"docPrefixMap"}
		for _, m := range methods {
			keys = append(keys, "paymentMethod:"+strconv.Itoa(m.ID))
		}
		if err := config.RemoveRedisKey(keys...); err != nil {
			fmt.Fprintf(os.Stderr, "flushing cache: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("seed complete")
}
