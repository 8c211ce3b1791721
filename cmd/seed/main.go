// Command main runs the document store seeder for Kindred.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"kindred/internal/cache"
	"kindred/internal/config"
	"kindred/internal/docstore"
	"kindred/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	numUsers := flag.Int("users", defaults.Users, "Number of users to create")
	numPosts := flag.Int("posts", defaults.Posts, "Number of posts to create")
	maxLikes := flag.Int("likes", defaults.MaxLikes, "Max likes per post")
	maxComments := flag.Int("comments", defaults.Comments, "Max comments per post")
	flag.Parse()

	log.Println("Document store seeder")
	log.Printf("Target: %d users, %d posts\n", *numUsers, *numPosts)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cache.InitRedis(cfg.RedisURL)
	rdb := cache.GetClient()
	if rdb == nil {
		log.Fatalf("Failed to connect to redis at %q", cfg.RedisURL)
	}

	store := docstore.NewRedisStore(rdb)
	s := seed.NewSeeder(store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	err = s.Run(ctx, seed.Options{
		Users:    *numUsers,
		Posts:    *numPosts,
		MaxLikes: *maxLikes,
		Comments: *maxComments,
	})
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
}
