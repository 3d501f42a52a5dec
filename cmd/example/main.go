// Command example is a smoke-test harness exercising the driver against
// a live server: open, pool tuning, a prepared statement round trip,
// and an async-pool acquire/release cycle (SPEC_FULL.md "Test harness
// scaffolding").
package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	_ "github.com/xcxnig/cymysql"
	"github.com/xcxnig/cymysql/pool"
)

func main() {
	dsn := "root:123456@tcp(127.0.0.1:3306)/test?timeout=5s&readTimeout=5s&writeTimeout=1s&parseTime=true&loc=Local&charset=utf8mb4"

	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetMaxIdleConns(20)
	sqlDB.SetConnMaxLifetime(4 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		log.Fatal(err)
	}

	stmt, err := sqlDB.PrepareContext(ctx, "SELECT ?")
	if err != nil {
		log.Fatal(err)
	}
	defer stmt.Close()

	var echo int
	if err := stmt.QueryRowContext(ctx, 1).Scan(&echo); err != nil {
		log.Fatal(err)
	}
	log.Printf("prepared statement round trip: %d", echo)

	p, err := pool.Open(ctx, dsn, pool.Config{MinSize: 2, MaxSize: 10, PoolRecycle: time.Hour})
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()

	conn, err := p.Acquire(ctx)
	if err != nil {
		log.Fatal(err)
	}
	p.Release(conn)

	idle, total := p.Size()
	log.Printf("pool warm: idle=%d total=%d", idle, total)
}
