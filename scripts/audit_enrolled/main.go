// Command audit_enrolled compares each course's materialized enrolled count
// against the actual number of ENROLLED rows and optionally repairs drift.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/unireg-api/pkg/config"
)

type drift struct {
	CourseID   int64  `db:"course_id"`
	CourseCode string `db:"course_code"`
	Stored     int    `db:"stored"`
	Actual     int    `db:"actual"`
}

func main() {
	var (
		fix     bool
		timeout time.Duration
	)
	flag.BoolVar(&fix, "fix", false, "Rewrite drifted counts")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := sqlx.Open("postgres", cfg.Database.URL())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	const query = `
		SELECT c.id AS course_id, c.course_code, c.enrolled AS stored,
		       COUNT(e.id) FILTER (WHERE e.status = 'ENROLLED') AS actual
		FROM courses c
		LEFT JOIN enrollments e ON e.course_id = c.id
		GROUP BY c.id, c.course_code, c.enrolled
		HAVING c.enrolled <> COUNT(e.id) FILTER (WHERE e.status = 'ENROLLED')
		ORDER BY c.id`

	var drifted []drift
	if err := db.SelectContext(ctx, &drifted, query); err != nil {
		log.Fatalf("audit query failed: %v", err)
	}

	if len(drifted) == 0 {
		fmt.Println("all enrolled counts consistent")
		return
	}

	for _, d := range drifted {
		fmt.Printf("course %d (%s): stored=%d actual=%d\n", d.CourseID, d.CourseCode, d.Stored, d.Actual)
	}

	if !fix {
		fmt.Printf("%d course(s) drifted; rerun with -fix to repair\n", len(drifted))
		os.Exit(1)
	}

	const repair = `
		UPDATE courses
		SET enrolled = (SELECT COUNT(*) FROM enrollments WHERE course_id = courses.id AND status = 'ENROLLED'),
		    updated_at = NOW()
		WHERE id = $1`

	for _, d := range drifted {
		if _, err := db.ExecContext(ctx, repair, d.CourseID); err != nil {
			log.Fatalf("repair failed for course %d: %v", d.CourseID, err)
		}
	}
	fmt.Printf("repaired %d course(s)\n", len(drifted))
}
