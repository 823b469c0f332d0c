package daemon_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/daemon"
	"github.com/lunaria-app/lunaria/internal/offline/db"
	"github.com/lunaria-app/lunaria/internal/offline/queue"
	"github.com/lunaria-app/lunaria/internal/offline/remote"
	offsync "github.com/lunaria-app/lunaria/internal/offline/sync"
)

// This example demonstrates running the scheduler until interrupted, with a
// manual sync requested once it is up.
// Note: This is for documentation only and won't run as a test.
func ExampleDaemon_Start() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database, err := db.Open(".luna/luna.db", db.Options{})
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()
	if err := database.InitSchema(); err != nil {
		log.Fatal(err)
	}

	c := cache.New(database, cache.Options{})
	if err := c.Load(ctx); err != nil {
		log.Fatal(err)
	}
	c.Start(ctx)
	defer c.Close()

	q := queue.New(c, nil)
	engine := offsync.New(c, q, remote.NewMemory(), offsync.Options{})

	d, err := daemon.New(engine, &daemon.Config{
		UserID:        "u1",
		CheckInterval: time.Minute,
		OnResult: func(res offsync.Result) {
			fmt.Printf("pushed=%d pending=%d\n", res.Success, res.Pending)
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		time.Sleep(time.Second)
		d.Trigger()
	}()
	if err := d.Start(ctx); err != nil {
		log.Fatal(err)
	}
}
