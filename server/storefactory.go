package server

import (
	"net"
	"strconv"

	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/logger"
	"github.com/classcall/classcall/server/store"
	"github.com/go-redis/redis/v7"
)

// NewStore builds the signaling store from configuration. The redis store
// needs two clients because a client in subscribe mode cannot issue
// regular commands.
func NewStore(log logger.Logger, clk clock.Clock, c StoreConfig) store.Store {
	switch c.Type {
	case StoreTypeRedis:
		addr := net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port))

		log.Info("Using redis store", logger.Ctx{
			"addr":   addr,
			"prefix": c.Redis.Prefix,
		})

		pubClient := redis.NewClient(&redis.Options{
			Addr: addr,
		})
		subClient := redis.NewClient(&redis.Options{
			Addr: addr,
		})

		return store.NewRedisStore(log, clk, pubClient, subClient, c.Redis.Prefix)
	default:
		log.Info("Using memory store", nil)

		return store.NewMemoryStore(log, clk)
	}
}
