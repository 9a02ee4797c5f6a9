package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/config"
)

var requiredTables = []string{
	"manufacturers", "skus", "batches", "code_packs", "codes",
	"verify_intents", "verifications", "users", "user_wallets", "idempotency_records",
	"unrecorded_payouts",
}

// Unique indexes the anti double-spend and purge guarantees depend on
var requiredUniqueColumns = [][2]string{
	{"codes", "commitment"},
	{"verifications", "commitment"},
	{"unrecorded_payouts", "tx_ref"},
}

// Checks the configured Postgres database: connectivity, schema, and that no
// print-confirmed pack still holds plaintext.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	fmt.Println("🔍 Verifying database connection and schema...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	sqlDB, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	failed := false
	for _, table := range requiredTables {
		var exists bool
		err := sqlDB.QueryRow(`
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			log.Fatalf("Failed to query table %s: %v", table, err)
		}
		if !exists {
			fmt.Printf("❌ table %s is missing\n", table)
			failed = true
		}
	}

	for _, tc := range requiredUniqueColumns {
		var unique bool
		err := sqlDB.QueryRow(`
			SELECT EXISTS (
				SELECT 1
				FROM pg_index i
				JOIN pg_class t ON t.oid = i.indrelid
				JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(i.indkey)
				WHERE t.relname = $1 AND a.attname = $2 AND i.indisunique AND i.indnatts = 1
			)`, tc[0], tc[1]).Scan(&unique)
		if err != nil {
			log.Fatalf("Failed to query index on %s.%s: %v", tc[0], tc[1], err)
		}
		if !unique {
			fmt.Printf("❌ %s.%s has no unique index\n", tc[0], tc[1])
			failed = true
		}
	}

	var leaked int64
	err = sqlDB.QueryRow(`
		SELECT COUNT(*)
		FROM codes c
		JOIN code_packs p ON p.pack_id = c.pack_id
		WHERE p.plaintext_purged_at IS NOT NULL
		AND (c.code_plaintext IS NOT NULL OR c.qr_payload IS NOT NULL)
	`).Scan(&leaked)
	if err != nil {
		fmt.Printf("⚠️ Could not check purge consistency: %v\n", err)
	} else if leaked > 0 {
		fmt.Printf("❌ %d codes of purged packs still hold plaintext\n", leaked)
		failed = true
	}

	var pending int64
	err = sqlDB.QueryRow(`SELECT COUNT(*) FROM unrecorded_payouts WHERE status IN ('PENDING', 'ABANDONED', 'DUPLICATE')`).Scan(&pending)
	if err != nil {
		fmt.Printf("⚠️ Could not check unrecorded payouts: %v\n", err)
	} else if pending > 0 {
		fmt.Printf("⚠️ %d payouts need attention in unrecorded_payouts\n", pending)
	}

	if failed {
		os.Exit(1)
	}
	fmt.Println("✅ Database schema verified")
}
