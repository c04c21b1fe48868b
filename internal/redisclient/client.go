package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reservation-service/internal/models"

	"github.com/go-redis/redis/v8"
)

// Client wraps Redis for its one side-channel role: caching the default
// flight listing. Seat inventory itself lives only in the database,
// which is the single authority for the seat count.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

const flightListKey = "flights:list:default"

// GetCachedFlights returns the cached default flight listing, or nil on
// a miss.
func (c *Client) GetCachedFlights(ctx context.Context) ([]models.Flight, error) {
	data, err := c.rdb.Get(ctx, flightListKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var flights []models.Flight
	if err := json.Unmarshal(data, &flights); err != nil {
		return nil, fmt.Errorf("failed to decode cached flights: %w", err)
	}
	return flights, nil
}

// SetCachedFlights stores the default flight listing with a TTL.
func (c *Client) SetCachedFlights(ctx context.Context, flights []models.Flight, ttl time.Duration) error {
	data, err := json.Marshal(flights)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, flightListKey, data, ttl).Err()
}

// InvalidateFlightCache drops the cached listing. Called whenever any
// flight's inventory or fields change.
func (c *Client) InvalidateFlightCache(ctx context.Context) error {
	return c.rdb.Del(ctx, flightListKey).Err()
}
