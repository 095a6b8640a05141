// backfill-daily-summary rebuilds the per-shop daily_summaries rollup from
// the sale history. The rollup is normally maintained incrementally inside
// each sale transaction; this tool re-derives it wholesale after imports,
// manual fixes, or a bug in the incremental path.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gempos/jewels_backend/config"
	"github.com/gempos/jewels_backend/models"
	"github.com/gempos/jewels_backend/utils"
	"gorm.io/gorm"
)

func main() {
	organizationID := flag.String("organization-id", "", "Optional: backfill only one organization (uuid string). If empty, backfills all organizations.")
	shopID := flag.Int("shop-id", 0, "Optional: backfill only one shop (default 0 for every shop of the organization)")
	from := flag.String("from", "", "Optional: start date (YYYY-MM-DD). Defaults to the organization creation date.")
	to := flag.String("to", "", "Optional: end date (YYYY-MM-DD). Defaults to today.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	// Ensure schema is up-to-date (creates daily_summaries if missing).
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 0)
	ctx = utils.SetUserNameInContext(ctx, "BackfillDailySummary")

	var organizations []models.Organization
	orgQuery := db.WithContext(ctx).Model(&models.Organization{})
	if strings.TrimSpace(*organizationID) != "" {
		orgQuery = orgQuery.Where("id = ?", strings.TrimSpace(*organizationID))
	}
	if err := orgQuery.Find(&organizations).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list organizations: %v\n", err)
		os.Exit(1)
	}
	if len(organizations) == 0 {
		fmt.Fprintln(os.Stderr, "no organizations found to backfill")
		return
	}

	for _, organization := range organizations {
		organizationId := organization.ID.String()

		start := strings.TrimSpace(*from)
		if start == "" {
			start = organization.CreatedAt.UTC().Format("2006-01-02")
		}
		end := strings.TrimSpace(*to)
		if end == "" {
			end = time.Now().UTC().Format("2006-01-02")
		}

		var shopIds []int
		shopQuery := db.WithContext(ctx).Model(&models.Shop{}).Where("organization_id = ?", organizationId)
		if *shopID > 0 {
			shopQuery = shopQuery.Where("id = ?", *shopID)
		}
		if err := shopQuery.Pluck("id", &shopIds).Error; err != nil {
			fmt.Fprintf(os.Stderr, "organization %s: failed to list shops: %v\n", organizationId, err)
			continue
		}

		for _, shopId := range shopIds {
			fmt.Printf("Backfilling daily_summaries organization=%s shop=%d from=%s to=%s\n",
				organizationId, shopId, start, end)

			if err := backfillShop(ctx, db, organizationId, shopId, start, end); err != nil {
				fmt.Fprintf(os.Stderr, "organization %s shop %d backfill failed: %v\n", organizationId, shopId, err)
				continue
			}
		}
	}

	fmt.Println("Backfill complete")
}

// backfillShop rewrites one shop's rollup rows for the date range. Each
// source mirrors one incremental write path: sales land on their sale
// date, payments on their payment date, cancellations and returns on the
// day they happened. Soft-deleted drafts were already rewound, so deleted
// sales contribute nothing.
func backfillShop(ctx context.Context, db *gorm.DB, organizationId string, shopId int, start, end string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`
			INSERT INTO daily_summaries (organization_id, shop_id, summary_date,
				sales_count, sales_total, payments_total,
				returns_count, returns_total, cancelled_count, cancelled_total,
				created_at, updated_at)
			SELECT
				activity.organization_id,
				activity.shop_id,
				activity.summary_date,
				SUM(activity.sales_count),
				SUM(activity.sales_total),
				SUM(activity.payments_total),
				SUM(activity.returns_count),
				SUM(activity.returns_total),
				SUM(activity.cancelled_count),
				SUM(activity.cancelled_total),
				NOW(),
				NOW()
			FROM (
				SELECT s.organization_id, s.shop_id, DATE(s.sale_date) AS summary_date,
					1 AS sales_count, s.grand_total AS sales_total, 0 AS payments_total,
					0 AS returns_count, 0 AS returns_total, 0 AS cancelled_count, 0 AS cancelled_total
				FROM sales s
				WHERE s.organization_id = ? AND s.shop_id = ? AND s.is_deleted = 0
					AND DATE(s.sale_date) BETWEEN ? AND ?

				UNION ALL

				SELECT sp.organization_id, sp.shop_id, DATE(sp.payment_date),
					0, 0, sp.amount, 0, 0, 0, 0
				FROM sale_payments sp
				WHERE sp.organization_id = ? AND sp.shop_id = ?
					AND DATE(sp.payment_date) BETWEEN ? AND ?

				UNION ALL

				SELECT s.organization_id, s.shop_id, DATE(s.cancelled_at),
					0, 0, 0, 0, 0, 1, s.grand_total
				FROM sales s
				WHERE s.organization_id = ? AND s.shop_id = ? AND s.is_deleted = 0
					AND s.current_status = 'Cancelled' AND s.cancelled_at IS NOT NULL
					AND DATE(s.cancelled_at) BETWEEN ? AND ?

				UNION ALL

				SELECT s.organization_id, s.shop_id, DATE(s.returned_at),
					0, 0, 0, 1, rv.returned_value, 0, 0
				FROM sales s
				JOIN (
					SELECT si.sale_id,
						SUM(ROUND(si.item_total * si.returned_qty / si.quantity, 4)) AS returned_value
					FROM sale_items si
					WHERE si.returned_qty > 0
					GROUP BY si.sale_id
				) rv ON rv.sale_id = s.id
				WHERE s.organization_id = ? AND s.shop_id = ? AND s.is_deleted = 0
					AND s.current_status = 'Returned' AND s.returned_at IS NOT NULL
					AND DATE(s.returned_at) BETWEEN ? AND ?
			) activity
			GROUP BY activity.organization_id, activity.shop_id, activity.summary_date
			ON DUPLICATE KEY UPDATE
				sales_count = VALUES(sales_count),
				sales_total = VALUES(sales_total),
				payments_total = VALUES(payments_total),
				returns_count = VALUES(returns_count),
				returns_total = VALUES(returns_total),
				cancelled_count = VALUES(cancelled_count),
				cancelled_total = VALUES(cancelled_total),
				updated_at = NOW()
		`,
			organizationId, shopId, start, end,
			organizationId, shopId, start, end,
			organizationId, shopId, start, end,
			organizationId, shopId, start, end,
		).Error; err != nil {
			return err
		}

		// Delete stale rows (dates that no longer have any activity).
		return tx.Exec(`
			DELETE ds
			FROM daily_summaries ds
			WHERE ds.organization_id = ? AND ds.shop_id = ?
				AND ds.summary_date BETWEEN ? AND ?
				AND NOT EXISTS (
					SELECT 1 FROM sales s
					WHERE s.organization_id = ds.organization_id AND s.shop_id = ds.shop_id
						AND s.is_deleted = 0
						AND (DATE(s.sale_date) = ds.summary_date
							OR DATE(s.cancelled_at) = ds.summary_date
							OR DATE(s.returned_at) = ds.summary_date)
				)
				AND NOT EXISTS (
					SELECT 1 FROM sale_payments sp
					WHERE sp.organization_id = ds.organization_id AND sp.shop_id = ds.shop_id
						AND DATE(sp.payment_date) = ds.summary_date
				)
		`, organizationId, shopId, start, end).Error
	})
}
