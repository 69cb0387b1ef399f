// Pool-maintenance CLI: inspect the participant pool, sweep stale presence
// rows, and purge synthetic participants leaked by crashed processes.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"pairgo/backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	if len(os.Args) < 2 {
		fmt.Println("Usage: admin <pool|sweep-stale|purge-bots> [args]")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "pool":
		if err := listPool(db); err != nil {
			log.Fatalf("Error listing pool: %v", err)
		}
	case "sweep-stale":
		minutes := 5
		if len(os.Args) > 2 {
			minutes, err = strconv.Atoi(os.Args[2])
			if err != nil {
				fmt.Println("Invalid staleness. Please provide minutes as an integer.")
				os.Exit(1)
			}
		}
		n, err := sweepStale(db, time.Duration(minutes)*time.Minute)
		if err != nil {
			log.Fatalf("Error sweeping stale participants: %v", err)
		}
		fmt.Printf("Marked %d stale participants offline.\n", n)
	case "purge-bots":
		n, err := purgeBots(db)
		if err != nil {
			log.Fatalf("Error purging synthetic participants: %v", err)
		}
		fmt.Printf("Removed %d leaked synthetic participants.\n", n)
	default:
		fmt.Println("Unknown command")
		os.Exit(1)
	}
}

func listPool(db *gorm.DB) error {
	var participants []models.Participant
	if err := db.Order("last_active desc").Find(&participants).Error; err != nil {
		return err
	}
	for _, p := range participants {
		kind := "human"
		if p.IsBot() {
			kind = "bot"
		}
		fmt.Printf("%-40s %-10s %-6s last-active=%s\n", p.ID, p.Status, kind, p.LastActive.Format(time.RFC3339))
	}
	fmt.Printf("%d participants in the pool.\n", len(participants))
	return nil
}

// sweepStale forces participants whose last-active fell behind the cutoff to
// offline. They are already invisible to matching through the freshness
// window; this just keeps the pool readable.
func sweepStale(db *gorm.DB, staleness time.Duration) (int64, error) {
	res := db.Model(&models.Participant{}).
		Where("status <> ?", models.StatusOffline).
		Where("last_active < ?", time.Now().Add(-staleness)).
		Update("status", models.StatusOffline)
	return res.RowsAffected, res.Error
}

// purgeBots deletes synthetic rows left behind when a human's process died
// before RemoveAll could run.
func purgeBots(db *gorm.DB) (int64, error) {
	res := db.Where("id LIKE ?", models.BotIDPrefix+"%").Delete(&models.Participant{})
	return res.RowsAffected, res.Error
}
